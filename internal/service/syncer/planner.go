package syncer

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jgivc/manifestsync/internal/common"
	"github.com/jgivc/manifestsync/internal/entity"
)

type planner struct {
	fs  InstallFS
	log *slog.Logger
}

func newPlanner(fs InstallFS, log *slog.Logger) *planner {
	return &planner{
		fs:  fs,
		log: log.With(slog.String("item", "Planner")),
	}
}

/*
Plan returns the files of m, in manifest order, that are missing under root or whose
digest differs, and the number of files that are already valid.
The manifest is validated and every path resolved before the filesystem is touched.
*/
func (p *planner) Plan(ctx context.Context, m *entity.Manifest, root string) (*entity.SyncPlan, int, error) {
	if err := m.Validate(); err != nil {
		return nil, 0, &common.PlanningError{Err: err}
	}

	paths := make([]string, len(m.Files))
	for i := range m.Files {
		full, err := p.fs.Resolve(root, m.Files[i].Path)
		if err != nil {
			return nil, 0, &common.PlanningError{Err: err}
		}
		paths[i] = full
	}

	plan := &entity.SyncPlan{}
	var skipped int

	for i := range m.Files {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		f := m.Files[i]

		fetch, err := p.needsFetch(root, paths[i], f.Hash)
		if err != nil {
			return nil, 0, err
		}

		if !fetch {
			skipped++

			continue
		}

		plan.ToFetch = append(plan.ToFetch, f)
		plan.TotalBytes += f.Size
	}

	p.log.Info("Plan ready",
		slog.String("root", root),
		slog.Int("to_fetch", len(plan.ToFetch)),
		slog.Int("skipped", skipped),
		slog.String("total", humanize.Bytes(plan.TotalBytes)),
	)

	return plan, skipped, nil
}

func (p *planner) needsFetch(root, path, hash string) (bool, error) {
	isFile, err := p.fs.IsFile(root, path)
	if err != nil {
		p.log.Warn("Cannot stat file, it will be fetched", slog.String("path", path), slog.Any("error", err))

		return true, nil
	}

	// Directories, symlinks and files below them are replaced by the transfer.
	if !isFile {
		return true, nil
	}

	sum, err := p.fs.Digest(path)
	if err != nil {
		p.log.Warn("Cannot digest file, it will be fetched", slog.String("path", path), slog.Any("error", err))

		return true, nil
	}

	return !strings.EqualFold(sum, hash), nil
}
