package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jgivc/manifestsync/internal/common"
	"github.com/jgivc/manifestsync/internal/entity"
	"golang.org/x/sync/errgroup"
)

const copyBufferSize = 32 * 1024

// counters are shared by the executor workers and read by the progress reporter.
type counters struct {
	transferred atomic.Uint64
	sinceTick   atomic.Uint64

	mu      sync.Mutex // Keeps file-fetched events in count order
	fetched int
}

func (c *counters) add(n int) {
	c.transferred.Add(uint64(n))
	c.sinceTick.Add(uint64(n))
	bytesTransferredTotal.Add(float64(n))
}

// countingReader updates the run counters as data passes through, not when a file ends.
type countingReader struct {
	r io.Reader
	c *counters
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.c.add(n)
	}

	return n, err
}

type fileOutcome struct {
	attempted bool
	outcome   entity.TransferOutcome
	reason    string
}

type executor struct {
	fs       InstallFS
	provider ContentProvider
	workers  int
	log      *slog.Logger
}

func newExecutor(fs InstallFS, provider ContentProvider, workers int, log *slog.Logger) *executor {
	if workers < 1 {
		workers = 1
	}

	return &executor{
		fs:       fs,
		provider: provider,
		workers:  workers,
		log:      log.With(slog.String("item", "Executor")),
	}
}

type execRequest struct {
	runID    string
	plan     *entity.SyncPlan
	manifest *entity.Manifest
	root     string
	throttle uint64
	counters *counters
	sink     entity.EventSink
}

/*
Execute transfers every planned file. A failed file never stops the others.
Once ctx is done no new file is started, a file in flight is aborted and counted as failed.
*/
func (e *executor) Execute(ctx context.Context, req *execRequest) *entity.SyncResult {
	files := req.plan.ToFetch
	outcomes := make([]fileOutcome, len(files))

	in := make(chan int, len(files))
	for i := range files {
		in <- i
	}
	close(in)

	workers := e.workers
	if workers > len(files) {
		workers = len(files)
	}

	var g errgroup.Group
	for n := 0; n < workers; n++ {
		n := n
		g.Go(func() error {
			e.worker(ctx, n, req, in, outcomes)

			return nil
		})
	}
	g.Wait()

	res := &entity.SyncResult{
		RunID:            req.runID,
		Planned:          len(files),
		Failures:         []entity.FileFailure{},
		BytesTransferred: req.counters.transferred.Load(),
	}

	for i, o := range outcomes {
		if !o.attempted {
			continue
		}

		switch o.outcome {
		case entity.OutcomeFetched:
			res.FetchedCount++
		case entity.OutcomeFailed:
			res.Failures = append(res.Failures, entity.FileFailure{Path: files[i].Path, Reason: o.reason})
		}
	}

	res.Cancelled = ctx.Err() != nil

	return res
}

func (e *executor) worker(ctx context.Context, n int, req *execRequest, in <-chan int, outcomes []fileOutcome) {
	log := e.log.With(slog.String("run_id", req.runID), slog.Int("worker_id", n))
	log.Debug("Started")

	for idx := range in {
		select {
		case <-ctx.Done():
			log.Info("Interrupted")

			return
		default:
		}

		f := req.plan.ToFetch[idx]

		err := e.transfer(ctx, req, f)
		if err != nil {
			terr := &common.TransferError{Path: f.Path, Err: err}
			log.Error("Cannot transfer file", slog.String("path", f.Path), slog.Any("error", terr))
			filesFailedTotal.Inc()

			outcomes[idx] = fileOutcome{attempted: true, outcome: entity.OutcomeFailed, reason: err.Error()}
			req.sink.Publish(entity.Event{
				Type:   entity.EventFileError,
				RunID:  req.runID,
				Path:   f.Path,
				Reason: err.Error(),
			})

			continue
		}

		filesFetchedTotal.Inc()
		outcomes[idx] = fileOutcome{attempted: true, outcome: entity.OutcomeFetched}
		e.fileFetched(req, f.Path)
		log.Debug("File fetched", slog.String("path", f.Path))
	}

	log.Debug("Done")
}

func (e *executor) fileFetched(req *execRequest, path string) {
	req.counters.mu.Lock()
	defer req.counters.mu.Unlock()

	req.counters.fetched++
	req.sink.Publish(entity.Event{
		Type:         entity.EventFileFetched,
		RunID:        req.runID,
		Path:         path,
		TotalFiles:   len(req.plan.ToFetch),
		FetchedFiles: req.counters.fetched,
	})
}

// transfer writes one file and verifies it. On any error the destination is removed.
func (e *executor) transfer(ctx context.Context, req *execRequest, f entity.ManifestFile) (err error) {
	dst, err := e.fs.Resolve(req.root, f.Path)
	if err != nil {
		return err
	}

	// Must run before the cleanup below can follow a stale symlink out of the root.
	if err := e.fs.ClearPath(req.root, dst); err != nil {
		return err
	}

	defer func() {
		if err != nil {
			if rerr := e.fs.Remove(dst); rerr != nil {
				e.log.Warn("Cannot remove partial file", slog.String("path", dst), slog.Any("error", rerr))
			}
		}
	}()

	w, err := e.fs.Create(dst)
	if err != nil {
		return err
	}

	if err := e.stream(ctx, req, f, w); err != nil {
		w.Close()

		return err
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("cannot close file: %w", err)
	}

	sum, err := e.fs.Digest(dst)
	if err != nil {
		return fmt.Errorf("cannot digest file: %w", err)
	}

	if !strings.EqualFold(sum, f.Hash) {
		return common.ErrHashMismatch
	}

	return nil
}

func (e *executor) stream(ctx context.Context, req *execRequest, f entity.ManifestFile, w io.Writer) error {
	rc, size, err := e.provider.Fetch(ctx, req.manifest.GameName, req.manifest.VersionLabel, f.Path)
	if err != nil {
		return err
	}
	defer rc.Close()

	if size >= 0 && uint64(size) != f.Size {
		e.log.Debug("Declared length differs from manifest size",
			slog.String("path", f.Path), slog.Int64("declared", size), slog.Uint64("size", f.Size))
	}

	r := &countingReader{r: newThrottledReader(ctx, rc, req.throttle), c: req.counters}

	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(w, r, buf); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return fmt.Errorf("%w: %s", ctxErr, err)
		}

		return err
	}

	return nil
}
