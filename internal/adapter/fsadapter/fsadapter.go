package fsadapter

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jgivc/manifestsync/internal/common"
	"github.com/jgivc/manifestsync/internal/util"
	"github.com/spf13/afero"
)

const (
	dirPerm  os.FileMode = 0o755
	filePerm os.FileMode = 0o644
)

type fsAdapter struct {
	mu  sync.Mutex // Serializes ClearPath with directory creation
	fs  afero.Fs
	log *slog.Logger
}

func NewFSAdapter(log *slog.Logger) *fsAdapter {
	return NewFSAdapterWithFS(afero.NewOsFs(), log)
}

func NewFSAdapterWithFS(fs afero.Fs, log *slog.Logger) *fsAdapter {
	return &fsAdapter{
		fs:  fs,
		log: log.With(slog.String("item", "FSAdapter")),
	}
}

func (a *fsAdapter) Fs() afero.Fs {
	return a.fs
}

/*
Resolve maps a forward-slash manifest path onto the install root.
The result is guaranteed to stay below root.
*/
func (a *fsAdapter) Resolve(root, relPath string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("install root is empty")
	}

	cleanRoot := filepath.Clean(root)
	full := filepath.Join(cleanRoot, filepath.FromSlash(relPath))

	rel, err := filepath.Rel(cleanRoot, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", common.ErrUnsafePath, relPath)
	}

	return full, nil
}

/*
IsFile reports whether path is a regular file reached from root through real directories only.
A symlink, at path or along the way, does not count. A missing path is not an error.
*/
func (a *fsAdapter) IsFile(root, path string) (bool, error) {
	parts, err := components(root, path)
	if err != nil {
		return false, err
	}

	for i, p := range parts {
		info, err := a.lstat(p)
		if err != nil {
			if os.IsNotExist(err) {
				return false, nil
			}

			return false, err
		}

		if i == len(parts)-1 {
			return info.Mode().IsRegular(), nil
		}

		if !info.IsDir() {
			return false, nil
		}
	}

	return false, nil
}

/*
ClearPath removes whatever would stop path from being written as a regular file below root:
a file or symlink where a directory is needed, a directory or symlink at path itself.
*/
func (a *fsAdapter) ClearPath(root, path string) error {
	parts, err := components(root, path)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for i, p := range parts {
		info, err := a.lstat(p)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return fmt.Errorf("cannot stat %s: %w", p, err)
		}

		last := i == len(parts)-1
		if !last && info.IsDir() {
			continue
		}

		if last && info.Mode().IsRegular() {
			return nil
		}

		if err := a.fs.RemoveAll(p); err != nil {
			return fmt.Errorf("cannot remove %s: %w", p, err)
		}
		a.log.Info("Removed blocking entry", slog.String("path", p), slog.String("mode", info.Mode().String()))

		return nil
	}

	return nil
}

func (a *fsAdapter) Digest(path string) (string, error) {
	return util.DigestFile(a.fs, path)
}

// Create truncates or creates path, making parent directories as needed.
func (a *fsAdapter) Create(path string) (io.WriteCloser, error) {
	a.mu.Lock()
	err := a.fs.MkdirAll(filepath.Dir(path), dirPerm)
	a.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("cannot create directory: %w", err)
	}

	f, err := a.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return nil, fmt.Errorf("cannot create file: %w", err)
	}

	return f, nil
}

// Remove deletes a file. A missing file is not an error.
func (a *fsAdapter) Remove(path string) error {
	if err := a.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

// ListFiles returns every entry below root that is not a directory, symlinks included, sorted.
func (a *fsAdapter) ListFiles(root string) ([]string, error) {
	var files []string

	exists, err := afero.DirExists(a.fs, root)
	if err != nil {
		return nil, fmt.Errorf("cannot stat install root: %w", err)
	}

	if !exists {
		return files, nil
	}

	err = afero.Walk(a.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() {
			files = append(files, path)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cannot walk install root: %w", err)
	}

	sort.Strings(files)

	return files, nil
}

// PruneEmptyDirs removes empty directories below root, deepest first. Root itself is kept.
func (a *fsAdapter) PruneEmptyDirs(root string) error {
	var dirs []string

	err := afero.Walk(a.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() && path != root {
			dirs = append(dirs, path)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("cannot walk install root: %w", err)
	}

	sort.Slice(dirs, func(i, j int) bool {
		return len(dirs[i]) > len(dirs[j])
	})

	for _, dir := range dirs {
		empty, err := afero.IsEmpty(a.fs, dir)
		if err != nil {
			a.log.Warn("Cannot check directory", slog.String("path", dir), slog.Any("error", err))

			continue
		}

		if empty {
			if err := a.fs.Remove(dir); err != nil {
				a.log.Warn("Cannot remove empty directory", slog.String("path", dir), slog.Any("error", err))
			}
		}
	}

	return nil
}

func (a *fsAdapter) lstat(path string) (os.FileInfo, error) {
	if l, ok := a.fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(path)

		return info, err
	}

	return a.fs.Stat(path)
}

// components lists path and its parents below root, outermost first.
func components(root, path string) ([]string, error) {
	cleanRoot := filepath.Clean(root)

	rel, err := filepath.Rel(cleanRoot, filepath.Clean(path))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %s is outside %s", common.ErrUnsafePath, path, root)
	}

	segments := strings.Split(rel, string(filepath.Separator))
	parts := make([]string, len(segments))

	cur := cleanRoot
	for i, segment := range segments {
		cur = filepath.Join(cur, segment)
		parts[i] = cur
	}

	return parts, nil
}
