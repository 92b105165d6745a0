package install

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/jgivc/manifestsync/internal/common"
	"github.com/jgivc/manifestsync/internal/entity"
	"github.com/spf13/afero"
)

const (
	filePerm os.FileMode = 0o644
	dirPerm  os.FileMode = 0o755
)

// fileRepository keeps the record as one json document, replaced by rename.
type fileRepository struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
	log  *slog.Logger
}

func NewFileRepository(fs afero.Fs, path string, log *slog.Logger) *fileRepository {
	return &fileRepository{
		fs:   fs,
		path: path,
		log:  log.With(slog.String("item", "FileInstallRepository"), slog.String("path", path)),
	}
}

func (r *fileRepository) Get(ctx context.Context) (*entity.InstallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.read()
}

func (r *fileRepository) Set(ctx context.Context, upd entity.InstallUpdate) (*entity.InstallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.read()
	if err != nil && !errors.Is(err, common.ErrRecordNotFoundError) {
		return nil, err
	}

	if current == nil {
		current = &entity.InstallRecord{}
	}

	rec := upd.Apply(*current)
	if err := r.write(&rec); err != nil {
		r.log.Error("Cannot write install record", slog.Any("error", err))

		return nil, err
	}

	r.log.Info("Install record saved", slog.String("install_dir", rec.InstallDirectory))

	return &rec, nil
}

func (r *fileRepository) read() (*entity.InstallRecord, error) {
	data, err := afero.ReadFile(r.fs, r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.ErrRecordNotFoundError
		}

		return nil, fmt.Errorf("cannot read install record: %w", err)
	}

	var rec entity.InstallRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("cannot decode install record: %w", err)
	}

	return &rec, nil
}

func (r *fileRepository) write(rec *entity.InstallRecord) error {
	data, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return fmt.Errorf("cannot encode install record: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := r.fs.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	tmpPath := filepath.Join(dir, "."+filepath.Base(r.path)+"."+uuid.NewString()+".tmp")
	if err := afero.WriteFile(r.fs, tmpPath, data, filePerm); err != nil {
		r.fs.Remove(tmpPath)

		return fmt.Errorf("cannot write install record: %w", err)
	}

	if err := r.fs.Rename(tmpPath, r.path); err != nil {
		r.fs.Remove(tmpPath)

		return fmt.Errorf("cannot replace install record: %w", err)
	}

	return nil
}
