package syncer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jgivc/manifestsync/internal/common"
	"github.com/jgivc/manifestsync/internal/entity"
	"github.com/jonboulle/clockwork"
)

const (
	serviceName             = "syncer"
	defaultProgressInterval = time.Second
)

// InstallFS is the install root as seen by a run.
type InstallFS interface {
	Resolve(root, relPath string) (string, error)
	IsFile(root, path string) (bool, error)
	ClearPath(root, path string) error
	Digest(path string) (string, error)
	Create(path string) (io.WriteCloser, error)
	Remove(path string) error
	ListFiles(root string) ([]string, error)
	PruneEmptyDirs(root string) error
}

// ContentProvider opens the content of one release file and reports its declared length, -1 if unknown.
type ContentProvider interface {
	Fetch(ctx context.Context, gameName, versionLabel, relPath string) (io.ReadCloser, int64, error)
}

type InstallRepository interface {
	Set(ctx context.Context, upd entity.InstallUpdate) (*entity.InstallRecord, error)
}

type Options struct {
	Workers          int
	ProgressInterval time.Duration
	Clock            clockwork.Clock
}

type Syncer struct {
	planner    *planner
	executor   *executor
	reconciler *reconciler
	clock      clockwork.Clock
	interval   time.Duration

	mu      sync.Mutex
	running map[string]struct{}

	log *slog.Logger
}

func NewSyncer(fs InstallFS, provider ContentProvider, repo InstallRepository, opts Options, log *slog.Logger) *Syncer {
	log = log.With(slog.String("service", serviceName))

	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = defaultProgressInterval
	}

	return &Syncer{
		planner:    newPlanner(fs, log),
		executor:   newExecutor(fs, provider, opts.Workers, log),
		reconciler: newReconciler(fs, repo, log),
		clock:      opts.Clock,
		interval:   opts.ProgressInterval,
		running:    make(map[string]struct{}),
		log:        log,
	}
}

/*
Sync brings root in line with m. throttle caps each file stream in bytes/sec, 0 disables it.

The result is returned whenever transfers were attempted, together with an error that is
common.ErrSyncIncomplete for failed or cancelled runs and a *common.ReconciliationError when
the commit failed. A *common.PlanningError is returned before anything is transferred.
*/
func (s *Syncer) Sync(ctx context.Context, m *entity.Manifest, root string, throttle uint64, sink entity.EventSink) (*entity.SyncResult, error) {
	if sink == nil {
		sink = entity.SinkFunc(func(entity.Event) {})
	}

	if root == "" {
		return nil, &common.PlanningError{Err: fmt.Errorf("install root is empty")}
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, &common.PlanningError{Err: fmt.Errorf("cannot resolve install root: %w", err)}
	}

	if err := s.acquire(root); err != nil {
		return nil, err
	}
	defer s.release(root)

	runID := uuid.NewString()
	log := s.log.With(slog.String("run_id", runID), slog.String("root", root))
	started := s.clock.Now()

	plan, skipped, err := s.planner.Plan(ctx, m, root)
	if err != nil {
		log.Error("Cannot plan sync", slog.Any("error", err))
		runsTotal.WithLabelValues(runStatusFailed).Inc()

		return nil, err
	}

	log.Info("Sync started",
		slog.String("game", m.GameName),
		slog.String("version", m.VersionLabel),
		slog.Int("files", len(plan.ToFetch)),
		slog.String("total", humanize.Bytes(plan.TotalBytes)),
	)

	sink.Publish(entity.Event{
		Type:       entity.EventRunStarted,
		RunID:      runID,
		TotalFiles: len(plan.ToFetch),
		TotalBytes: plan.TotalBytes,
	})

	var res *entity.SyncResult
	if plan.Empty() {
		res = &entity.SyncResult{RunID: runID, Failures: []entity.FileFailure{}}
	} else {
		c := &counters{}
		rep := newReporter(s.clock, s.interval, runID, plan.TotalBytes, c, sink, s.log)
		rep.Start()

		res = s.executor.Execute(ctx, &execRequest{
			runID:    runID,
			plan:     plan,
			manifest: m,
			root:     root,
			throttle: throttle,
			counters: c,
			sink:     sink,
		})

		rep.Stop()
	}
	res.SkippedCount = skipped

	// A run that completed every file is committed even if the caller gave up meanwhile.
	rerr := s.reconciler.Reconcile(context.WithoutCancel(ctx), root, m, res)
	if rerr != nil && res.Complete() {
		res.CommitError = rerr.Error()
	}

	sink.Publish(entity.Event{
		Type:   entity.EventRunComplete,
		RunID:  runID,
		Result: res,
	})

	elapsed := s.clock.Since(started)
	runDurationSeconds.Observe(elapsed.Seconds())

	switch {
	case rerr != nil && !res.Complete():
		runsTotal.WithLabelValues(runStatusIncomplete).Inc()
	case rerr != nil:
		runsTotal.WithLabelValues(runStatusFailed).Inc()
	case plan.Empty():
		runsTotal.WithLabelValues(runStatusUpToDate).Inc()
	default:
		runsTotal.WithLabelValues(runStatusCommitted).Inc()
	}

	log.Info("Sync finished",
		slog.Int("fetched", res.FetchedCount),
		slog.Int("skipped", res.SkippedCount),
		slog.Int("failed", len(res.Failures)),
		slog.Bool("cancelled", res.Cancelled),
		slog.String("transferred", humanize.Bytes(res.BytesTransferred)),
		slog.Duration("elapsed", elapsed),
	)

	return res, rerr
}

func (s *Syncer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.running) > 0
}

func (s *Syncer) acquire(root string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.running[root]; exists {
		return common.ErrSyncInProgress
	}
	s.running[root] = struct{}{}

	return nil
}

func (s *Syncer) release(root string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, root)
}
