package syncer

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jgivc/manifestsync/internal/common"
	"github.com/jgivc/manifestsync/internal/entity"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncFreshInstall(t *testing.T) {
	contents := map[string]string{
		"a.txt": strings.Repeat("a", 10),
		"b.txt": strings.Repeat("b", 20),
	}
	env := newTestEnv(t, contents, Options{})
	m := manifestOf(contents, "a.txt", "b.txt")

	res, err := env.syncer.Sync(context.Background(), m, testRoot, 0, env.events)
	require.NoError(t, err)
	require.Equal(t, 2, res.Planned)
	require.Equal(t, 2, res.FetchedCount)
	require.Equal(t, 0, res.SkippedCount)
	require.Empty(t, res.Failures)
	require.False(t, res.Cancelled)
	require.Equal(t, uint64(30), res.BytesTransferred)

	for p, want := range contents {
		got, ok := env.readFile(t, p)
		require.True(t, ok, p)
		require.Equal(t, want, got)
	}

	rec, sets := env.repo.Record()
	require.Equal(t, 1, sets)
	require.Equal(t, testRoot, rec.InstallDirectory)
	require.Equal(t, m, rec.Manifest)

	events := env.events.Events()
	require.GreaterOrEqual(t, len(events), 3)

	first := events[0]
	require.Equal(t, entity.EventRunStarted, first.Type)
	require.Equal(t, 2, first.TotalFiles)
	require.Equal(t, uint64(30), first.TotalBytes)

	last := events[len(events)-1]
	require.Equal(t, entity.EventRunComplete, last.Type)
	require.Equal(t, res, last.Result)

	final := events[len(events)-2]
	require.Equal(t, entity.EventProgressTick, final.Type)
	require.Zero(t, final.RemainingBytes)
	require.Zero(t, final.DownloadSpeedBytesPerSec)

	for _, ev := range events {
		require.Equal(t, res.RunID, ev.RunID)
	}

	// Each verified file is reported between run-started and the final tick.
	var fetchedAt []int
	var fetchedPaths []string
	for i, ev := range events {
		if ev.Type != entity.EventFileFetched {
			continue
		}

		fetchedAt = append(fetchedAt, i)
		fetchedPaths = append(fetchedPaths, ev.Path)
		require.Equal(t, len(fetchedAt), ev.FetchedFiles)
		require.Equal(t, 2, ev.TotalFiles)
	}
	require.Len(t, fetchedAt, 2)
	require.Greater(t, fetchedAt[0], 0)
	require.Less(t, fetchedAt[1], len(events)-2)
	require.Equal(t, []string{"a.txt", "b.txt"}, fetchedPaths)
}

func TestSyncIsIdempotent(t *testing.T) {
	contents := map[string]string{
		"a.txt":          "first file",
		"data/level.bin": "second file, a bit longer",
	}
	env := newTestEnv(t, contents, Options{})
	m := manifestOf(contents, "a.txt", "data/level.bin")

	_, err := env.syncer.Sync(context.Background(), m, testRoot, 0, env.events)
	require.NoError(t, err)
	fetches := len(env.provider.Calls())

	events := &eventRecorder{}
	res, err := env.syncer.Sync(context.Background(), m, testRoot, 0, events)
	require.NoError(t, err)
	require.Equal(t, 0, res.Planned)
	require.Equal(t, 0, res.FetchedCount)
	require.Equal(t, 2, res.SkippedCount)
	require.Len(t, env.provider.Calls(), fetches)

	// An empty plan is reported without any progress ticks.
	got := events.Events()
	require.Len(t, got, 2)
	require.Equal(t, entity.EventRunStarted, got[0].Type)
	require.Zero(t, got[0].TotalFiles)
	require.Zero(t, got[0].TotalBytes)
	require.Equal(t, entity.EventRunComplete, got[1].Type)
}

func TestSyncFetchesOnlyChangedFiles(t *testing.T) {
	contents := map[string]string{
		"keep.txt":    "unchanged",
		"changed.txt": "new content",
		"missing.txt": "never installed",
	}
	env := newTestEnv(t, contents, Options{})
	env.writeFile(t, "keep.txt", "unchanged")
	env.writeFile(t, "changed.txt", "old content")

	m := manifestOf(contents, "keep.txt", "changed.txt", "missing.txt")

	res, err := env.syncer.Sync(context.Background(), m, testRoot, 0, env.events)
	require.NoError(t, err)
	require.Equal(t, 2, res.FetchedCount)
	require.Equal(t, 1, res.SkippedCount)
	require.ElementsMatch(t, []string{"changed.txt", "missing.txt"}, env.provider.Calls())

	started := env.events.OfType(entity.EventRunStarted)
	require.Len(t, started, 1)
	require.Equal(t, uint64(len("new content")+len("never installed")), started[0].TotalBytes)

	got, _ := env.readFile(t, "changed.txt")
	require.Equal(t, "new content", got)
}

func TestSyncPartialFailureLeavesRecordUntouched(t *testing.T) {
	contents := map[string]string{
		"a.txt": "alpha",
		"b.txt": "bravo",
		"c.txt": "charlie",
	}
	env := newTestEnv(t, contents, Options{})
	env.provider.fail["b.txt"] = errors.New("connection reset by peer")

	prevDir := "/games/previous"
	prev := entity.InstallRecord{InstallDirectory: prevDir, Manifest: &entity.Manifest{Version: "0.9.0"}}
	env.repo.rec = prev

	m := manifestOf(contents, "a.txt", "b.txt", "c.txt")

	res, err := env.syncer.Sync(context.Background(), m, testRoot, 0, env.events)
	require.ErrorIs(t, err, common.ErrSyncIncomplete)
	require.NotNil(t, res)
	require.Equal(t, 2, res.FetchedCount)
	require.Len(t, res.Failures, 1)
	require.Equal(t, "b.txt", res.Failures[0].Path)
	require.Contains(t, res.Failures[0].Reason, "connection reset")

	for _, p := range []string{"a.txt", "c.txt"} {
		got, ok := env.readFile(t, p)
		require.True(t, ok)
		require.Equal(t, contents[p], got)
	}
	_, ok := env.readFile(t, "b.txt")
	require.False(t, ok)

	rec, sets := env.repo.Record()
	require.Zero(t, sets)
	require.Equal(t, prev, rec)

	fileErrors := env.events.OfType(entity.EventFileError)
	require.Len(t, fileErrors, 1)
	require.Equal(t, "b.txt", fileErrors[0].Path)
	require.Contains(t, fileErrors[0].Reason, "connection reset")

	events := env.events.Events()
	require.Equal(t, entity.EventRunComplete, events[len(events)-1].Type)
}

func TestSyncHashMismatchDeletesFile(t *testing.T) {
	contents := map[string]string{
		"a.txt": "expected content",
		"b.txt": "fine",
	}
	env := newTestEnv(t, contents, Options{})
	env.provider.override["a.txt"] = "tampered content"

	m := manifestOf(contents, "a.txt", "b.txt")

	res, err := env.syncer.Sync(context.Background(), m, testRoot, 0, env.events)
	require.ErrorIs(t, err, common.ErrSyncIncomplete)
	require.Len(t, res.Failures, 1)
	require.Equal(t, "a.txt", res.Failures[0].Path)
	require.Equal(t, common.ErrHashMismatch.Error(), res.Failures[0].Reason)

	_, ok := env.readFile(t, "a.txt")
	require.False(t, ok)

	got, ok := env.readFile(t, "b.txt")
	require.True(t, ok)
	require.Equal(t, "fine", got)

	_, sets := env.repo.Record()
	require.Zero(t, sets)
}

func TestSyncRemovesOrphans(t *testing.T) {
	contents := map[string]string{
		"a.txt":        "kept",
		"maps/new.map": "fresh map",
	}
	env := newTestEnv(t, contents, Options{})
	env.writeFile(t, "a.txt", "kept")
	env.writeFile(t, "old.txt", "from the previous version")
	env.writeFile(t, "stale/level1.bin", "stale level")

	m := manifestOf(contents, "a.txt", "maps/new.map")

	res, err := env.syncer.Sync(context.Background(), m, testRoot, 0, env.events)
	require.NoError(t, err)
	require.Equal(t, 1, res.FetchedCount)
	require.Equal(t, 1, res.SkippedCount)

	files, err := env.installFS.ListFiles(testRoot)
	require.NoError(t, err)
	require.Equal(t, []string{testRoot + "/a.txt", testRoot + "/maps/new.map"}, files)

	exists, err := afero.DirExists(env.fs, testRoot+"/stale")
	require.NoError(t, err)
	require.False(t, exists)

	_, sets := env.repo.Record()
	require.Equal(t, 1, sets)
}

func TestSyncRejectsUnsafeManifest(t *testing.T) {
	tests := []struct {
		name  string
		files []entity.ManifestFile
		want  error
	}{
		{
			name:  "parent traversal",
			files: []entity.ManifestFile{{Path: "a.txt"}, {Path: "../../etc/passwd"}},
			want:  common.ErrUnsafePath,
		},
		{
			name:  "absolute",
			files: []entity.ManifestFile{{Path: "/etc/passwd"}},
			want:  common.ErrUnsafePath,
		},
		{
			name:  "duplicate",
			files: []entity.ManifestFile{{Path: "a.txt"}, {Path: "a.txt"}},
			want:  common.ErrDuplicatePath,
		},
		{
			name:  "file and directory",
			files: []entity.ManifestFile{{Path: "data"}, {Path: "data/level.bin"}},
			want:  common.ErrPathConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, map[string]string{}, Options{})
			cfs := &countingFS{InstallFS: env.installFS}
			s := NewSyncer(cfs, env.provider, env.repo, Options{}, discardLogger())

			res, err := s.Sync(context.Background(), &entity.Manifest{Files: tt.files}, testRoot, 0, env.events)
			require.Nil(t, res)
			require.ErrorIs(t, err, tt.want)

			var perr *common.PlanningError
			require.ErrorAs(t, err, &perr)

			require.Zero(t, cfs.reads.Load())
			require.Empty(t, env.provider.Calls())
			require.Empty(t, env.events.Events())

			_, sets := env.repo.Record()
			require.Zero(t, sets)
		})
	}
}

func TestSyncProgressIsMonotonic(t *testing.T) {
	contents := map[string]string{
		"a.bin": strings.Repeat("a", 300),
		"b.bin": strings.Repeat("b", 300),
		"c.bin": strings.Repeat("c", 300),
	}
	env := newTestEnv(t, contents, Options{ProgressInterval: 5 * time.Millisecond})
	env.provider.hook = func(ctx context.Context, path string) io.Reader {
		return &slowReader{r: strings.NewReader(contents[path]), chunk: 20, delay: 2 * time.Millisecond}
	}

	m := manifestOf(contents, "a.bin", "b.bin", "c.bin")

	res, err := env.syncer.Sync(context.Background(), m, testRoot, 0, env.events)
	require.NoError(t, err)
	require.Equal(t, uint64(900), res.BytesTransferred)

	ticks := env.events.OfType(entity.EventProgressTick)
	require.GreaterOrEqual(t, len(ticks), 2)

	prev := uint64(900)
	for _, tick := range ticks {
		require.LessOrEqual(t, tick.RemainingBytes, prev)
		prev = tick.RemainingBytes
	}

	final := ticks[len(ticks)-1]
	require.Zero(t, final.RemainingBytes)
	require.Zero(t, final.DownloadSpeedBytesPerSec)

	var sawSpeed bool
	for _, tick := range ticks[:len(ticks)-1] {
		if tick.DownloadSpeedBytesPerSec > 0 {
			sawSpeed = true
		}
	}
	require.True(t, sawSpeed)
}

func TestSyncCancellation(t *testing.T) {
	contents := map[string]string{
		"a.txt": "alpha",
		"b.txt": "bravo",
		"c.txt": "charlie",
	}
	env := newTestEnv(t, contents, Options{Workers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env.provider.hook = func(ctx context.Context, path string) io.Reader {
		if path != "b.txt" {
			return nil
		}
		cancel()

		return &blockingReader{ctx: ctx}
	}

	m := manifestOf(contents, "a.txt", "b.txt", "c.txt")

	res, err := env.syncer.Sync(ctx, m, testRoot, 0, env.events)
	require.ErrorIs(t, err, common.ErrSyncIncomplete)
	require.True(t, res.Cancelled)
	require.Equal(t, 3, res.Planned)
	require.Equal(t, 1, res.FetchedCount)
	require.Len(t, res.Failures, 1)
	require.Equal(t, "b.txt", res.Failures[0].Path)
	require.Contains(t, res.Failures[0].Reason, context.Canceled.Error())
	require.Equal(t, []string{"a.txt", "b.txt"}, env.provider.Calls())

	_, ok := env.readFile(t, "b.txt")
	require.False(t, ok)
	_, ok = env.readFile(t, "c.txt")
	require.False(t, ok)

	_, sets := env.repo.Record()
	require.Zero(t, sets)

	events := env.events.Events()
	require.Equal(t, entity.EventRunComplete, events[len(events)-1].Type)
	require.Equal(t, entity.EventProgressTick, events[len(events)-2].Type)
}

func TestSyncRefusesConcurrentRunOnSameRoot(t *testing.T) {
	contents := map[string]string{"a.txt": "alpha"}
	env := newTestEnv(t, contents, Options{})

	entered := make(chan struct{})
	release := make(chan struct{})
	env.provider.hook = func(ctx context.Context, path string) io.Reader {
		close(entered)
		<-release

		return nil
	}

	m := manifestOf(contents, "a.txt")

	var wg sync.WaitGroup
	wg.Add(1)

	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = env.syncer.Sync(context.Background(), m, testRoot, 0, env.events)
	}()

	<-entered
	require.True(t, env.syncer.Running())

	_, err := env.syncer.Sync(context.Background(), m, testRoot, 0, nil)
	require.ErrorIs(t, err, common.ErrSyncInProgress)

	// A different root is not blocked.
	_, err = env.syncer.Sync(context.Background(), &entity.Manifest{}, "/games/other", 0, nil)
	require.NoError(t, err)

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)
	require.False(t, env.syncer.Running())
}

func TestSyncWithWorkerPool(t *testing.T) {
	contents := make(map[string]string)
	var order []string
	var total int

	for i := 0; i < 40; i++ {
		p := "pak/" + strings.Repeat("x", i%5+1) + "/" + string(rune('a'+i%26)) + strings.Repeat("0", i/26) + ".pak"
		contents[p] = strings.Repeat(p, i+1)
		order = append(order, p)
		total += len(contents[p])
	}

	env := newTestEnv(t, contents, Options{Workers: 4})
	m := manifestOf(contents, order...)

	res, err := env.syncer.Sync(context.Background(), m, testRoot, 0, env.events)
	require.NoError(t, err)
	require.Equal(t, len(order), res.FetchedCount)
	require.Equal(t, uint64(total), res.BytesTransferred)
	require.Len(t, env.provider.Calls(), len(order))

	for _, p := range order {
		got, ok := env.readFile(t, p)
		require.True(t, ok, p)
		assert.Equal(t, contents[p], got, p)
	}

	// Workers finish in any order, the running count still reaches the sink in order.
	fetched := env.events.OfType(entity.EventFileFetched)
	require.Len(t, fetched, len(order))

	var paths []string
	for i, ev := range fetched {
		require.Equal(t, i+1, ev.FetchedFiles)
		require.Equal(t, len(order), ev.TotalFiles)
		paths = append(paths, ev.Path)
	}
	require.ElementsMatch(t, order, paths)

	events := env.events.Events()
	require.Equal(t, entity.EventRunComplete, events[len(events)-1].Type)
	require.Equal(t, entity.EventProgressTick, events[len(events)-2].Type)
}

func TestSyncPersistFailure(t *testing.T) {
	contents := map[string]string{"a.txt": "alpha"}
	env := newTestEnv(t, contents, Options{})
	env.repo.err = errors.New("disk full")

	res, err := env.syncer.Sync(context.Background(), manifestOf(contents, "a.txt"), testRoot, 0, env.events)
	require.NotNil(t, res)
	require.True(t, res.Complete())

	var rerr *common.ReconciliationError
	require.ErrorAs(t, err, &rerr)
	require.Contains(t, err.Error(), "disk full")
	require.Contains(t, res.CommitError, "disk full")

	// The stream reports the failed commit too, not only the returned error.
	completed := env.events.OfType(entity.EventRunComplete)
	require.Len(t, completed, 1)
	require.Empty(t, completed[0].Result.Failures)
	require.Contains(t, completed[0].Result.CommitError, "disk full")
}

type slowReader struct {
	r     io.Reader
	chunk int
	delay time.Duration
}

func (s *slowReader) Read(p []byte) (int, error) {
	time.Sleep(s.delay)

	if len(p) > s.chunk {
		p = p[:s.chunk]
	}

	return s.r.Read(p)
}

type blockingReader struct {
	ctx context.Context
}

func (b *blockingReader) Read(p []byte) (int, error) {
	<-b.ctx.Done()

	return 0, b.ctx.Err()
}
