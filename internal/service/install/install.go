package install

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/jgivc/manifestsync/internal/common"
	"github.com/jgivc/manifestsync/internal/entity"
)

const (
	serviceName = "install"
)

type ReleaseSource interface {
	Release(ctx context.Context, name string) (*entity.Release, error)
	Healthcheck(ctx context.Context) error
}

type InstallRepository interface {
	Get(ctx context.Context) (*entity.InstallRecord, error)
	Set(ctx context.Context, upd entity.InstallUpdate) (*entity.InstallRecord, error)
}

type Syncer interface {
	Sync(ctx context.Context, m *entity.Manifest, root string, throttle uint64, sink entity.EventSink) (*entity.SyncResult, error)
}

type NotesRenderer interface {
	Render(rel *entity.Release) (*entity.ReleaseNotes, error)
}

// Defaults apply when the install record does not carry a value yet.
type Defaults struct {
	GameName        string
	InstallDir      string
	MaxTransferRate uint64
	StorePath       string // File backed record store, must stay out of the install directory
}

type installService struct {
	running  atomic.Bool
	source   ReleaseSource
	repo     InstallRepository
	syncer   Syncer
	notes    NotesRenderer
	sink     entity.EventSink
	defaults Defaults
	log      *slog.Logger
}

func NewInstallService(source ReleaseSource, repo InstallRepository, syncer Syncer, notes NotesRenderer,
	sink entity.EventSink, defaults Defaults, log *slog.Logger,
) *installService {
	return &installService{
		source:   source,
		repo:     repo,
		syncer:   syncer,
		notes:    notes,
		sink:     sink,
		defaults: defaults,
		log:      log.With(slog.String("service", serviceName)),
	}
}

/*
Sync installs or updates the game to the latest published release. installDir overrides
the recorded directory, an empty one keeps it.
*/
func (s *installService) Sync(ctx context.Context, installDir string) (*entity.SyncResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, common.ErrSyncInProgress
	}
	defer s.running.Store(false)

	rec, err := s.record(ctx)
	if err != nil {
		return nil, err
	}

	root := firstNonEmpty(installDir, rec.InstallDirectory, s.defaults.InstallDir)
	if root == "" {
		return nil, common.ErrNoInstallDirectory
	}

	if err := s.checkStore(root); err != nil {
		s.log.Error("Cannot sync", slog.String("install_dir", root), slog.Any("error", err))

		return nil, err
	}

	rel, err := s.release(ctx)
	if err != nil {
		return nil, err
	}

	rate := s.defaults.MaxTransferRate
	if rec.MaxTransferRate != nil {
		rate = *rec.MaxTransferRate
	}

	s.log.Info("Sync release",
		slog.String("game", rel.Name),
		slog.String("version", rel.Version),
		slog.String("install_dir", root),
		slog.Uint64("max_transfer_rate", rate),
	)

	return s.syncer.Sync(ctx, rel.Manifest, root, rate, s.sink)
}

func (s *installService) Running() bool {
	return s.running.Load()
}

// CheckUpdates reports whether the published manifest differs from the installed one.
func (s *installService) CheckUpdates(ctx context.Context) (*entity.UpdateInfo, error) {
	rel, err := s.release(ctx)
	if err != nil {
		return nil, err
	}

	rec, err := s.record(ctx)
	if err != nil {
		return nil, err
	}

	info := &entity.UpdateInfo{
		UpdatesAvailable: true,
		Installed:        rec.Installed(),
		LatestVersion:    rel.Manifest.Version,
	}

	if !rec.Installed() {
		return info, nil
	}

	info.InstalledVersion = rec.Manifest.Version

	same, err := sameManifest(rec.Manifest, rel.Manifest)
	if err != nil {
		return nil, err
	}
	info.UpdatesAvailable = !same

	return info, nil
}

func (s *installService) Record(ctx context.Context) (*entity.InstallRecord, error) {
	return s.record(ctx)
}

// SetMaxTransferRate stores the throttle for the next runs. 0 removes it.
func (s *installService) SetMaxTransferRate(ctx context.Context, rate uint64) (*entity.InstallRecord, error) {
	upd := entity.InstallUpdate{MaxTransferRate: &rate}
	if rate == 0 {
		upd = entity.InstallUpdate{ClearRate: true}
	}

	rec, err := s.repo.Set(ctx, upd)
	if err != nil {
		s.log.Error("Cannot save max transfer rate", slog.Uint64("rate", rate), slog.Any("error", err))

		return nil, fmt.Errorf("cannot save max transfer rate: %w", err)
	}

	return rec, nil
}

func (s *installService) ServerStatus(ctx context.Context) entity.ServerStatus {
	if err := s.source.Healthcheck(ctx); err != nil {
		s.log.Warn("Server is offline", slog.Any("error", err))

		return entity.ServerStatus{Online: false}
	}

	return entity.ServerStatus{Online: true}
}

func (s *installService) Notes(ctx context.Context) (*entity.ReleaseNotes, error) {
	rel, err := s.release(ctx)
	if err != nil {
		return nil, err
	}

	return s.notes.Render(rel)
}

func (s *installService) release(ctx context.Context) (*entity.Release, error) {
	rel, err := s.source.Release(ctx, s.defaults.GameName)
	if err != nil {
		s.log.Error("Cannot get release", slog.String("game", s.defaults.GameName), slog.Any("error", err))

		return nil, fmt.Errorf("cannot get release %s: %w", s.defaults.GameName, err)
	}

	if rel.Manifest == nil {
		return nil, fmt.Errorf("%w: release %s has no manifest", common.ErrInvalidManifest, s.defaults.GameName)
	}

	return rel, nil
}

// record returns the stored record, or an empty one before the first sync.
func (s *installService) record(ctx context.Context) (*entity.InstallRecord, error) {
	rec, err := s.repo.Get(ctx)
	if err != nil {
		if errors.Is(err, common.ErrRecordNotFoundError) {
			return &entity.InstallRecord{}, nil
		}

		s.log.Error("Cannot read install record", slog.Any("error", err))

		return nil, fmt.Errorf("cannot read install record: %w", err)
	}

	return rec, nil
}

func (s *installService) checkStore(root string) error {
	if s.defaults.StorePath == "" {
		return nil
	}

	store, err := filepath.Abs(s.defaults.StorePath)
	if err != nil {
		return fmt.Errorf("cannot resolve store path: %w", err)
	}

	dir, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("cannot resolve install directory: %w", err)
	}

	rel, err := filepath.Rel(dir, store)
	if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", common.ErrStoreInInstallDir, store)
	}

	return nil
}

func sameManifest(a, b *entity.Manifest) (bool, error) {
	ja, err := json.Marshal(a)
	if err != nil {
		return false, fmt.Errorf("cannot encode manifest: %w", err)
	}

	jb, err := json.Marshal(b)
	if err != nil {
		return false, fmt.Errorf("cannot encode manifest: %w", err)
	}

	return bytes.Equal(ja, jb), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
