package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jgivc/manifestsync/internal/common"
	"github.com/jgivc/manifestsync/internal/entity"
)

type reconciler struct {
	fs   InstallFS
	repo InstallRepository
	log  *slog.Logger
}

func newReconciler(fs InstallFS, repo InstallRepository, log *slog.Logger) *reconciler {
	return &reconciler{
		fs:   fs,
		repo: repo,
		log:  log.With(slog.String("item", "Reconciler")),
	}
}

/*
Reconcile commits a complete run: files under root that m does not reference are removed,
then the install record is replaced. An incomplete run changes nothing.
*/
func (r *reconciler) Reconcile(ctx context.Context, root string, m *entity.Manifest, res *entity.SyncResult) error {
	log := r.log.With(slog.String("run_id", res.RunID), slog.String("root", root))

	if !res.Complete() {
		log.Warn("Sync incomplete, install record is not updated",
			slog.Int("failures", len(res.Failures)),
			slog.Bool("cancelled", res.Cancelled),
		)

		return fmt.Errorf("%w: %d of %d files failed: %s",
			common.ErrSyncIncomplete, len(res.Failures), res.Planned, res.FailedPaths())
	}

	orphanFailures, err := r.removeOrphans(root, m)
	if err != nil {
		return &common.ReconciliationError{Err: err}
	}

	_, err = r.repo.Set(ctx, entity.InstallUpdate{
		InstallDirectory: &root,
		Manifest:         m,
	})
	if err != nil {
		log.Error("Cannot persist install record", slog.Any("error", err))

		return &common.ReconciliationError{Orphans: orphanFailures, Err: err}
	}

	log.Info("Install record committed", slog.String("version", m.Version))

	if len(orphanFailures) > 0 {
		return &common.ReconciliationError{Orphans: orphanFailures}
	}

	return nil
}

// removeOrphans returns the orphans it could not delete. The error is for a failed walk only.
func (r *reconciler) removeOrphans(root string, m *entity.Manifest) ([]string, error) {
	expected := make(map[string]struct{}, len(m.Files))
	for i := range m.Files {
		full, err := r.fs.Resolve(root, m.Files[i].Path)
		if err != nil {
			return nil, err
		}
		expected[full] = struct{}{}
	}

	present, err := r.fs.ListFiles(root)
	if err != nil {
		return nil, err
	}

	var failed []string
	for _, path := range present {
		if _, ok := expected[path]; ok {
			continue
		}

		if err := r.fs.Remove(path); err != nil {
			r.log.Error("Cannot delete orphan file", slog.String("path", path), slog.Any("error", err))
			failed = append(failed, path)

			continue
		}

		orphansRemovedTotal.Inc()
		r.log.Info("Deleted orphan file", slog.String("path", path))
	}

	if err := r.fs.PruneEmptyDirs(root); err != nil {
		r.log.Warn("Cannot prune empty directories", slog.Any("error", err))
	}

	return failed, nil
}
