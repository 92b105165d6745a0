package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jgivc/manifestsync/internal/common"
	"github.com/jgivc/manifestsync/internal/config"
	"github.com/jgivc/manifestsync/internal/entity"
)

const (
	healthcheckTimeout = 5 * time.Second
	maxErrorBodySize   = 512

	pathGames       = "games"
	pathDownload    = "files/download"
	pathHealthcheck = "infra/healthcheck"
)

// gameRecord is a row of the server's games table.
type gameRecord struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description"`
	Logo        string          `json:"logo"`
	JSONBlob    json.RawMessage `json:"jsonBLOB"`
}

type httpAdapter struct {
	base    string
	timeout time.Duration
	cl      *http.Client
	log     *slog.Logger
}

func NewHTTPAdapter(cfg *config.ServerConfig, log *slog.Logger) *httpAdapter {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: cfg.Timeout}).DialContext,
		ResponseHeaderTimeout: cfg.Timeout,
		MaxIdleConnsPerHost:   4,
	}

	// No client timeout, it would cut large downloads. Stalls are caught by the header timeout
	// and by the caller's context.
	return NewHTTPAdapterWithClient(cfg, &http.Client{Transport: transport}, log)
}

func NewHTTPAdapterWithClient(cfg *config.ServerConfig, cl *http.Client, log *slog.Logger) *httpAdapter {
	return &httpAdapter{
		base:    strings.TrimRight(cfg.URL, "/"),
		timeout: cfg.Timeout,
		cl:      cl,
		log:     log.With(slog.String("item", "HTTPAdapter")),
	}
}

// Fetch opens a download stream for one file of a release.
func (a *httpAdapter) Fetch(ctx context.Context, gameName, versionLabel, relPath string) (io.ReadCloser, int64, error) {
	fileURL := strings.Join([]string{
		a.base,
		pathDownload,
		url.PathEscape(gameName),
		url.PathEscape(versionLabel),
		url.PathEscape(relPath),
	}, "/")

	a.log.Debug("Fetch file", slog.String("url", fileURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("cannot create request: %w", err)
	}

	resp, err := a.cl.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("cannot get file: %w", err)
	}

	if err := checkStatus(resp); err != nil {
		resp.Body.Close()

		return nil, 0, err
	}

	return resp.Body, resp.ContentLength, nil
}

// Release fetches the game record and decodes its manifest.
func (a *httpAdapter) Release(ctx context.Context, name string) (*entity.Release, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	gameURL := strings.Join([]string{a.base, pathGames, url.PathEscape(name)}, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gameURL, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot create request: %w", err)
	}

	resp, err := a.cl.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot get game %s: %w", name, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("cannot get game %s: %w", name, err)
	}

	var rec gameRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("cannot decode game %s: %w", name, err)
	}

	manifest, err := decodeManifest(rec.JSONBlob)
	if err != nil {
		return nil, err
	}

	if manifest.GameName == "" {
		manifest.GameName = name
	}

	if manifest.VersionLabel == "" {
		manifest.VersionLabel = rec.Version
	}

	return &entity.Release{
		Name:        rec.Name,
		Version:     rec.Version,
		Description: rec.Description,
		Logo:        rec.Logo,
		Manifest:    manifest,
	}, nil
}

func (a *httpAdapter) Healthcheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthcheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+"/"+pathHealthcheck, nil)
	if err != nil {
		return fmt.Errorf("cannot create request: %w", err)
	}

	resp, err := a.cl.Do(req)
	if err != nil {
		return fmt.Errorf("server is unreachable: %w", err)
	}
	defer resp.Body.Close()

	io.Copy(io.Discard, resp.Body)

	return checkStatus(resp)
}

/*
decodeManifest accepts the blob either as a json object or as a string holding one,
the server stores it both ways.
*/
func decodeManifest(blob json.RawMessage) (*entity.Manifest, error) {
	blob = bytes.TrimSpace(blob)
	if len(blob) == 0 || bytes.Equal(blob, []byte("null")) {
		return nil, fmt.Errorf("%w: jsonBLOB is missing", common.ErrInvalidManifest)
	}

	if blob[0] == '"' {
		var str string
		if err := json.Unmarshal(blob, &str); err != nil {
			return nil, fmt.Errorf("%w: cannot parse jsonBLOB: %s", common.ErrInvalidManifest, err)
		}
		blob = json.RawMessage(str)
	}

	if len(blob) == 0 || blob[0] != '{' {
		return nil, fmt.Errorf("%w: jsonBLOB is not an object", common.ErrInvalidManifest)
	}

	var m entity.Manifest
	if err := json.Unmarshal(blob, &m); err != nil {
		return nil, fmt.Errorf("%w: cannot parse jsonBLOB: %s", common.ErrInvalidManifest, err)
	}

	return &m, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	msg := strings.TrimSpace(string(body))

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", common.ErrFileNotFoundError, msg)
	}

	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
}
