package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jgivc/manifestsync/internal/adapter/fsadapter"
	"github.com/jgivc/manifestsync/internal/adapter/httpadapter"
	"github.com/jgivc/manifestsync/internal/adapter/mdadapter"
	"github.com/jgivc/manifestsync/internal/adapter/s3adapter"
	"github.com/jgivc/manifestsync/internal/config"
	"github.com/jgivc/manifestsync/internal/entity"
	httphandler "github.com/jgivc/manifestsync/internal/handler/http"
	"github.com/jgivc/manifestsync/internal/repository/install"
	"github.com/jgivc/manifestsync/internal/service/event"
	sinstall "github.com/jgivc/manifestsync/internal/service/install"
	"github.com/jgivc/manifestsync/internal/service/launch"
	"github.com/jgivc/manifestsync/internal/service/syncer"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
)

const (
	dumpTimeout     = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

type installRepository interface {
	sinstall.InstallRepository
	launch.InstallRepository
	syncer.InstallRepository
}

type installer interface {
	Sync(ctx context.Context, installDir string) (*entity.SyncResult, error)
	Record(ctx context.Context) (*entity.InstallRecord, error)
}

type App struct {
	cfgPath   string
	cfg       *config.Config
	srv       *http.Server
	rdb       *redis.Client
	installer installer
	ctx       context.Context
	cancel    context.CancelFunc
	log       *slog.Logger
}

func New(cfgPath string) *App {
	ctx, cancel := context.WithCancel(context.Background())

	return &App{
		cfgPath: cfgPath,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (a *App) Start() {
	a.cfg = config.MustLoad(a.cfgPath)

	lo := &slog.HandlerOptions{}
	switch a.cfg.LogLevel {
	case config.LogLevelInfo:
		lo.Level = slog.LevelInfo
	case config.LogLevelWarn:
		lo.Level = slog.LevelWarn
	case config.LogLevelError:
		lo.Level = slog.LevelError
	case config.LogLevelDebug:
		lo.Level = slog.LevelDebug
	default:
		panic("unknown log level")
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, lo))
	a.log = log

	repo := a.newRepository(log)
	source := httpadapter.NewHTTPAdapter(&a.cfg.Server, log)

	var provider syncer.ContentProvider = source
	if a.cfg.Source == config.SourceS3 {
		s3a, err := s3adapter.NewS3Adapter(&a.cfg.S3, log)
		if err != nil {
			panic(err)
		}
		provider = s3a
	}

	fsa := fsadapter.NewFSAdapter(log)
	broker := event.NewBroker(0, log)

	sy := syncer.NewSyncer(fsa, provider, repo, syncer.Options{
		Workers:          a.cfg.Sync.Workers,
		ProgressInterval: a.cfg.Sync.ProgressInterval,
	}, log)

	defaults := sinstall.Defaults{
		GameName:        a.cfg.Server.GameName,
		InstallDir:      a.cfg.Sync.InstallDir,
		MaxTransferRate: a.cfg.Sync.MaxTransferRate,
	}
	if a.cfg.Store.Type == config.StoreFile {
		defaults.StorePath = a.cfg.Store.Path
	}

	inst := sinstall.NewInstallService(source, repo, sy, mdadapter.NewMDAdapter(log), broker, defaults, log)
	a.installer = inst

	launcher := launch.NewLaunchService(repo, fsa, launch.NewExecStarter(), log)

	http.Handle("GET /status/{$}", httphandler.NewStatusHandler(inst, broker, log))
	http.Handle("GET /events/{$}", httphandler.NewEventsHandler(broker, log))
	http.Handle("POST /sync/{$}", httphandler.NewSyncHandler(a.ctx, inst, log))
	http.Handle("POST /launch/{$}", httphandler.NewLaunchHandler(launcher, log))
	http.Handle("GET /updates/{$}", httphandler.NewUpdatesHandler(inst, log))
	http.Handle("GET /notes/{$}", httphandler.NewNotesHandler(inst, log))
	http.Handle("GET /health/{$}", httphandler.NewHealthHandler(inst, log))
	http.Handle("PUT /settings/{$}", httphandler.NewSettingsHandler(inst, log))
	http.Handle("GET /metrics", promhttp.Handler())

	a.srv = &http.Server{
		Addr: a.cfg.Listen,
	}

	go func() {
		log.Info("Start listen", slog.String("addr", a.cfg.Listen))

		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Could not serve", slog.String("listen_addr", a.cfg.Listen), slog.Any("error", err))
			os.Exit(2)
		}
	}()
}

func (a *App) newRepository(log *slog.Logger) installRepository {
	if a.cfg.Store.Type != config.StoreRedis {
		return install.NewFileRepository(afero.NewOsFs(), a.cfg.Store.Path, log)
	}

	opt, err := redis.ParseURL(a.cfg.Store.RedisURL)
	if err != nil {
		panic(err)
	}

	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		panic(err)
	}
	a.rdb = rdb

	return install.NewRedisRepository(rdb, log)
}

// Logger is the configured application logger. It is nil before Start.
func (a *App) Logger() *slog.Logger {
	return a.log
}

// Sync runs one sync to the recorded install directory and logs the outcome.
func (a *App) Sync() {
	res, err := a.installer.Sync(a.ctx, "")
	if err != nil {
		a.log.Error("Cannot sync", slog.Any("error", err))

		return
	}

	a.log.Info("Sync done",
		slog.Int("fetched", res.FetchedCount),
		slog.Int("skipped", res.SkippedCount),
	)
}

// Dump writes the install record to the log.
func (a *App) Dump() {
	ctx, cancel := context.WithTimeout(a.ctx, dumpTimeout)
	defer cancel()

	rec, err := a.installer.Record(ctx)
	if err != nil {
		a.log.Error("Cannot dump install record", slog.Any("error", err))

		return
	}

	data, err := json.Marshal(rec)
	if err != nil {
		a.log.Error("Cannot encode install record", slog.Any("error", err))

		return
	}

	a.log.Info("Install record", slog.Bool("installed", rec.Installed()), slog.String("record", string(data)))
}

func (a *App) Stop() {
	a.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.srv != nil {
		a.srv.Shutdown(ctx)
	}

	if a.rdb != nil {
		a.rdb.Close()
	}
}
