package syncer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jgivc/manifestsync/internal/adapter/fsadapter"
	"github.com/jgivc/manifestsync/internal/common"
	"github.com/jgivc/manifestsync/internal/entity"
	"github.com/jgivc/manifestsync/internal/util"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const testRoot = "/games/corridor"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

// fakeProvider serves file contents from memory.
type fakeProvider struct {
	mu       sync.Mutex
	contents map[string]string
	fail     map[string]error
	override map[string]string // Served instead of contents, to simulate corruption
	hook     func(ctx context.Context, path string) io.Reader
	calls    []string
}

func newFakeProvider(contents map[string]string) *fakeProvider {
	return &fakeProvider{
		contents: contents,
		fail:     map[string]error{},
		override: map[string]string{},
	}
}

func (p *fakeProvider) Fetch(ctx context.Context, gameName, versionLabel, relPath string) (io.ReadCloser, int64, error) {
	p.mu.Lock()
	p.calls = append(p.calls, relPath)
	err := p.fail[relPath]
	content, ok := p.contents[relPath]
	if o, exists := p.override[relPath]; exists {
		content = o
	}
	hook := p.hook
	p.mu.Unlock()

	if err != nil {
		return nil, 0, err
	}

	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", common.ErrFileNotFoundError, relPath)
	}

	if hook != nil {
		if r := hook(ctx, relPath); r != nil {
			return io.NopCloser(r), -1, nil
		}
	}

	return io.NopCloser(strings.NewReader(content)), int64(len(content)), nil
}

func (p *fakeProvider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.calls...)
}

// fakeRepository records every write.
type fakeRepository struct {
	mu   sync.Mutex
	rec  entity.InstallRecord
	sets int
	err  error
}

func (r *fakeRepository) Set(ctx context.Context, upd entity.InstallUpdate) (*entity.InstallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}

	r.sets++
	r.rec = upd.Apply(r.rec)
	rec := r.rec

	return &rec, nil
}

func (r *fakeRepository) Record() (entity.InstallRecord, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.rec, r.sets
}

type eventRecorder struct {
	mu     sync.Mutex
	events []entity.Event
}

func (r *eventRecorder) Publish(ev entity.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)
}

func (r *eventRecorder) Events() []entity.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]entity.Event(nil), r.events...)
}

func (r *eventRecorder) OfType(t entity.EventType) []entity.Event {
	var res []entity.Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			res = append(res, ev)
		}
	}

	return res
}

// countingFS counts filesystem reads, to prove a rejected manifest never reached the disk.
type countingFS struct {
	InstallFS
	reads atomic.Int64
}

func (c *countingFS) IsFile(root, path string) (bool, error) {
	c.reads.Add(1)

	return c.InstallFS.IsFile(root, path)
}

func (c *countingFS) ClearPath(root, path string) error {
	c.reads.Add(1)

	return c.InstallFS.ClearPath(root, path)
}

func (c *countingFS) Create(path string) (io.WriteCloser, error) {
	c.reads.Add(1)

	return c.InstallFS.Create(path)
}

func (c *countingFS) ListFiles(root string) ([]string, error) {
	c.reads.Add(1)

	return c.InstallFS.ListFiles(root)
}

func manifestOf(contents map[string]string, order ...string) *entity.Manifest {
	m := &entity.Manifest{
		GameName:     "The Corridor",
		VersionLabel: "1.0.0",
		Version:      "1.0.0",
	}

	for _, p := range order {
		m.Files = append(m.Files, entity.ManifestFile{
			Path: p,
			Size: uint64(len(contents[p])),
			Hash: util.DigestString(contents[p]),
		})
	}

	return m
}

type testEnv struct {
	fs        afero.Fs
	installFS InstallFS
	provider  *fakeProvider
	repo      *fakeRepository
	events    *eventRecorder
	syncer    *Syncer
}

func newTestEnv(t *testing.T, contents map[string]string, opts Options) *testEnv {
	t.Helper()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(testRoot, 0o755))

	env := &testEnv{
		fs:        fs,
		installFS: fsadapter.NewFSAdapterWithFS(fs, discardLogger()),
		provider:  newFakeProvider(contents),
		repo:      &fakeRepository{},
		events:    &eventRecorder{},
	}
	env.syncer = NewSyncer(env.installFS, env.provider, env.repo, opts, discardLogger())

	return env
}

func (e *testEnv) writeFile(t *testing.T, relPath, content string) {
	t.Helper()

	require.NoError(t, afero.WriteFile(e.fs, testRoot+"/"+relPath, []byte(content), 0o644))
}

func (e *testEnv) readFile(t *testing.T, relPath string) (string, bool) {
	t.Helper()

	data, err := afero.ReadFile(e.fs, testRoot+"/"+relPath)
	if err != nil {
		return "", false
	}

	return string(data), true
}
