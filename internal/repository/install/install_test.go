package install

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jgivc/manifestsync/internal/common"
	"github.com/jgivc/manifestsync/internal/entity"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

type repository interface {
	Get(ctx context.Context) (*entity.InstallRecord, error)
	Set(ctx context.Context, upd entity.InstallUpdate) (*entity.InstallRecord, error)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newRepositories(t *testing.T) map[string]repository {
	t.Helper()

	mr := miniredis.RunT(t)
	cl := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cl.Close() })

	return map[string]repository{
		"file":  NewFileRepository(afero.NewMemMapFs(), "/config/config.json", discardLogger()),
		"redis": NewRedisRepository(cl, discardLogger()),
	}
}

func TestRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()

	for name, repo := range newRepositories(t) {
		t.Run(name, func(t *testing.T) {
			_, err := repo.Get(ctx)
			require.ErrorIs(t, err, common.ErrRecordNotFoundError)

			rate := uint64(1 << 20)
			_, err = repo.Set(ctx, entity.InstallUpdate{MaxTransferRate: &rate})
			require.NoError(t, err)

			rec, err := repo.Get(ctx)
			require.NoError(t, err)
			require.False(t, rec.Installed())
			require.Equal(t, rate, *rec.MaxTransferRate)

			dir := "/games/corridor"
			v1 := &entity.Manifest{
				Version: "1",
				Files:   []entity.ManifestFile{{Path: "a.txt", Size: 10, Hash: "h1"}, {Path: "old.txt", Size: 1, Hash: "h0"}},
			}
			_, err = repo.Set(ctx, entity.InstallUpdate{InstallDirectory: &dir, Manifest: v1})
			require.NoError(t, err)

			v2 := &entity.Manifest{
				Version: "2",
				Files:   []entity.ManifestFile{{Path: "a.txt", Size: 10, Hash: "h1"}},
			}
			saved, err := repo.Set(ctx, entity.InstallUpdate{InstallDirectory: &dir, Manifest: v2})
			require.NoError(t, err)
			require.Equal(t, "2", saved.Manifest.Version)

			rec, err = repo.Get(ctx)
			require.NoError(t, err)
			require.True(t, rec.Installed())
			require.Equal(t, dir, rec.InstallDirectory)
			require.Equal(t, v2.Files, rec.Manifest.Files, "manifest is replaced, not merged")
			require.NotNil(t, rec.MaxTransferRate, "unrelated settings survive")
			require.Equal(t, rate, *rec.MaxTransferRate)
		})
	}
}

func TestFileRepositoryLeavesNoTempFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	repo := NewFileRepository(fs, "/config/config.json", discardLogger())

	dir := "/games"
	for i := 0; i < 3; i++ {
		_, err := repo.Set(context.Background(), entity.InstallUpdate{InstallDirectory: &dir})
		require.NoError(t, err)
	}

	entries, err := afero.ReadDir(fs, "/config")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "config.json", entries[0].Name())
}

func TestFileRepositoryCorrupted(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/config/config.json", []byte("{broken"), 0o644))
	repo := NewFileRepository(fs, "/config/config.json", discardLogger())

	_, err := repo.Get(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, common.ErrRecordNotFoundError)

	dir := "/games"
	_, err = repo.Set(context.Background(), entity.InstallUpdate{InstallDirectory: &dir})
	require.Error(t, err, "a corrupted record is never silently replaced")
}

func TestRedisRepositorySwitchesVersions(t *testing.T) {
	mr := miniredis.RunT(t)
	cl := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cl.Close()

	repo := NewRedisRepository(cl, discardLogger())
	ctx := context.Background()

	dir := "/games"
	_, err := repo.Set(ctx, entity.InstallUpdate{InstallDirectory: &dir})
	require.NoError(t, err)
	require.Equal(t, KeyVersion1, mustGet(t, mr, KeyActiveVersion))

	_, err = repo.Set(ctx, entity.InstallUpdate{Manifest: &entity.Manifest{Version: "2"}})
	require.NoError(t, err)
	require.Equal(t, KeyVersion2, mustGet(t, mr, KeyActiveVersion))

	rec, err := repo.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, dir, rec.InstallDirectory)
	require.Equal(t, "2", rec.Manifest.Version)
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()

	val, err := mr.Get(key)
	require.NoError(t, err)

	return val
}
