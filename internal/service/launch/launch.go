package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"

	"github.com/jgivc/manifestsync/internal/common"
	"github.com/jgivc/manifestsync/internal/entity"
)

const (
	serviceName = "launch"
)

type InstallRepository interface {
	Get(ctx context.Context) (*entity.InstallRecord, error)
}

type InstallFS interface {
	Resolve(root, relPath string) (string, error)
	IsFile(root, path string) (bool, error)
}

// Starter runs a program without waiting for it.
type Starter interface {
	Start(path string) error
}

type launchService struct {
	repo    InstallRepository
	fs      InstallFS
	starter Starter
	log     *slog.Logger
}

func NewLaunchService(repo InstallRepository, fs InstallFS, starter Starter, log *slog.Logger) *launchService {
	return &launchService{
		repo:    repo,
		fs:      fs,
		starter: starter,
		log:     log.With(slog.String("service", serviceName)),
	}
}

// Launch starts the installed executable and returns its path.
func (l *launchService) Launch(ctx context.Context) (string, error) {
	rec, err := l.repo.Get(ctx)
	if err != nil {
		if errors.Is(err, common.ErrRecordNotFoundError) {
			return "", common.ErrNotInstalled
		}

		return "", fmt.Errorf("cannot read install record: %w", err)
	}

	if !rec.Installed() {
		return "", common.ErrNotInstalled
	}

	rel := strings.TrimPrefix(rec.Manifest.ExecutableRelativePath, "/")
	if rel == "" {
		return "", fmt.Errorf("%w: manifest has no executable", common.ErrExecutableNotFound)
	}

	path, err := l.fs.Resolve(rec.InstallDirectory, rel)
	if err != nil {
		return "", fmt.Errorf("%w: %s", common.ErrExecutableNotFound, err)
	}

	isFile, err := l.fs.IsFile(rec.InstallDirectory, path)
	if err != nil || !isFile {
		return "", fmt.Errorf("%w: %s", common.ErrExecutableNotFound, path)
	}

	if err := l.starter.Start(path); err != nil {
		l.log.Error("Cannot start game", slog.String("path", path), slog.Any("error", err))

		return "", fmt.Errorf("cannot start %s: %w", path, err)
	}

	l.log.Info("Game started", slog.String("path", path))

	return path, nil
}

// execStarter opens a file with the desktop's default handler.
type execStarter struct {
	goos string
}

func NewExecStarter() *execStarter {
	return &execStarter{goos: runtime.GOOS}
}

func (s *execStarter) Start(path string) error {
	name, args := openerCommand(s.goos, path)

	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}

	go cmd.Wait()

	return nil
}

func openerCommand(goos, path string) (string, []string) {
	switch goos {
	case "windows":
		return "cmd", []string{"/c", "start", "", path}
	case "darwin":
		return "open", []string{path}
	default:
		return "xdg-open", []string{path}
	}
}
