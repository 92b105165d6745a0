package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jgivc/manifestsync/internal/common"
	"github.com/jgivc/manifestsync/internal/entity"
)

type RecordService interface {
	Record(ctx context.Context) (*entity.InstallRecord, error)
}

type ProgressSource interface {
	Progress() entity.RunProgress
}

type EventSource interface {
	Subscribe() (<-chan entity.Event, func())
}

type SyncService interface {
	Sync(ctx context.Context, installDir string) (*entity.SyncResult, error)
	Running() bool
}

type LaunchService interface {
	Launch(ctx context.Context) (string, error)
}

type UpdateService interface {
	CheckUpdates(ctx context.Context) (*entity.UpdateInfo, error)
}

type NotesService interface {
	Notes(ctx context.Context) (*entity.ReleaseNotes, error)
}

type HealthService interface {
	ServerStatus(ctx context.Context) entity.ServerStatus
}

type SettingsService interface {
	SetMaxTransferRate(ctx context.Context, rate uint64) (*entity.InstallRecord, error)
}

type statusResponse struct {
	Installed bool                  `json:"installed"`
	Record    *entity.InstallRecord `json:"record,omitempty"`
	Progress  entity.RunProgress    `json:"progress"`
}

type syncResponse struct {
	Status string             `json:"status"`
	Result *entity.SyncResult `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

type settingsRequest struct {
	MaxTransferRate *uint64 `json:"maxTransferRate"`
}

func NewStatusHandler(srv RecordService, progress ProgressSource, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "StatusHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := srv.Record(r.Context())
		if err != nil {
			log.Error("Cannot get install record", slog.Any("error", err))
			http.Error(w, "Cannot get install record", http.StatusInternalServerError)

			return
		}

		resp := statusResponse{
			Installed: rec.Installed(),
			Progress:  progress.Progress(),
		}
		if rec.InstallDirectory != "" || rec.Manifest != nil || rec.MaxTransferRate != nil {
			resp.Record = rec
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// NewEventsHandler streams run events as server-sent events until the client goes away.
func NewEventsHandler(src EventSource, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "EventsHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming is not supported", http.StatusInternalServerError)

			return
		}

		events, cancel := src.Subscribe()
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				log.Debug("Client gone")

				return
			case ev, ok := <-events:
				if !ok {
					return
				}

				data, err := json.Marshal(ev)
				if err != nil {
					log.Error("Cannot encode event", slog.Any("error", err))

					continue
				}

				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

/*
NewSyncHandler starts a sync. By default the run continues in the background and its
progress is observed on the event stream, with wait=true the response carries the result.
Background runs use baseCtx, so they stop when the application does.
*/
func NewSyncHandler(baseCtx context.Context, srv SyncService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "SyncHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		dir := r.URL.Query().Get("dir")

		wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
		if wait {
			res, err := srv.Sync(r.Context(), dir)
			if err != nil {
				writeJSON(w, syncErrorStatus(err), syncResponse{Status: "failed", Result: res, Error: err.Error()})

				return
			}

			writeJSON(w, http.StatusOK, syncResponse{Status: "done", Result: res})

			return
		}

		if srv.Running() {
			writeJSON(w, http.StatusConflict, syncResponse{Status: "failed", Error: common.ErrSyncInProgress.Error()})

			return
		}

		go func() {
			if _, err := srv.Sync(baseCtx, dir); err != nil {
				log.Error("Sync failed", slog.Any("error", err))
			}
		}()

		writeJSON(w, http.StatusAccepted, syncResponse{Status: "started"})
	}
}

func NewLaunchHandler(srv LaunchService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "LaunchHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		path, err := srv.Launch(r.Context())
		if err != nil {
			switch {
			case errors.Is(err, common.ErrNotInstalled):
				http.Error(w, "Game is not installed", http.StatusConflict)
			case errors.Is(err, common.ErrExecutableNotFound):
				http.Error(w, "Cannot find executable", http.StatusNotFound)
			default:
				log.Error("Cannot launch", slog.Any("error", err))
				http.Error(w, "Cannot launch game", http.StatusInternalServerError)
			}

			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"path": path})
	}
}

func NewUpdatesHandler(srv UpdateService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "UpdatesHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		info, err := srv.CheckUpdates(r.Context())
		if err != nil {
			log.Error("Cannot check updates", slog.Any("error", err))
			http.Error(w, "Cannot check updates", upstreamErrorStatus(err))

			return
		}

		writeJSON(w, http.StatusOK, info)
	}
}

func NewNotesHandler(srv NotesService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "NotesHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		notes, err := srv.Notes(r.Context())
		if err != nil {
			log.Error("Cannot get release notes", slog.Any("error", err))
			http.Error(w, "Cannot get release notes", upstreamErrorStatus(err))

			return
		}

		if r.URL.Query().Get("format") == "html" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte(notes.HTML))

			return
		}

		writeJSON(w, http.StatusOK, notes)
	}
}

func NewHealthHandler(srv HealthService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "HealthHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		status := srv.ServerStatus(r.Context())

		code := http.StatusOK
		if !status.Online {
			code = http.StatusServiceUnavailable
		}

		writeJSON(w, code, status)
	}
}

func NewSettingsHandler(srv SettingsService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "SettingsHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		var req settingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MaxTransferRate == nil {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		rec, err := srv.SetMaxTransferRate(r.Context(), *req.MaxTransferRate)
		if err != nil {
			log.Error("Cannot save settings", slog.Any("error", err))
			http.Error(w, "Cannot save settings", http.StatusInternalServerError)

			return
		}

		writeJSON(w, http.StatusOK, rec)
	}
}

func syncErrorStatus(err error) int {
	var (
		perr *common.PlanningError
		rerr *common.ReconciliationError
	)

	switch {
	case errors.Is(err, common.ErrSyncInProgress):
		return http.StatusConflict
	case errors.As(err, &perr),
		errors.Is(err, common.ErrNoInstallDirectory),
		errors.Is(err, common.ErrStoreInInstallDir),
		errors.Is(err, common.ErrInvalidManifest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, common.ErrSyncIncomplete), errors.As(err, &rerr):
		return http.StatusInternalServerError
	default:
		return upstreamErrorStatus(err)
	}
}

// upstreamErrorStatus maps a failure to reach the content server.
func upstreamErrorStatus(err error) int {
	if errors.Is(err, common.ErrFileNotFoundError) {
		return http.StatusNotFound
	}

	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(append(data, '\n'))
}
