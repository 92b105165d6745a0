package s3adapter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/jgivc/manifestsync/internal/common"
	"github.com/jgivc/manifestsync/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	schemeHTTP  = "s3+http"
	schemeHTTPS = "s3+https"

	placeholderGame    = "{game}"
	placeholderVersion = "{version}"

	codeNoSuchKey    = "NoSuchKey"
	codeNoSuchBucket = "NoSuchBucket"
)

type s3Adapter struct {
	cl     *minio.Client
	bucket string
	prefix string
	log    *slog.Logger
}

// NewS3Adapter reads release files straight from the object storage the server publishes to.
func NewS3Adapter(cfg *config.S3Config, log *slog.Logger) (*s3Adapter, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("cannot parse s3 url: %w", err)
	}

	cl, err := newClient(u, cfg.AccessKeyID, cfg.SecretAccessKey)
	if err != nil {
		return nil, err
	}

	return &s3Adapter{
		cl:     cl,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		log:    log.With(slog.String("item", "S3Adapter")),
	}, nil
}

func newClient(u *url.URL, accessKeyID, secretAccessKey string) (*minio.Client, error) {
	var useSSL bool
	switch u.Scheme {
	case schemeHTTP:
	case schemeHTTPS:
		useSSL = true
	default:
		return nil, fmt.Errorf("unsupported s3 url scheme: %s", u.Scheme)
	}

	if accessKeyID == "" {
		return nil, fmt.Errorf("AWS_ACCESS_KEY_ID not set")
	}

	if secretAccessKey == "" {
		return nil, fmt.Errorf("AWS_SECRET_ACCESS_KEY not set")
	}

	cl, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create s3 client: %w", err)
	}

	return cl, nil
}

func (a *s3Adapter) Fetch(ctx context.Context, gameName, versionLabel, relPath string) (io.ReadCloser, int64, error) {
	key := objectKey(a.prefix, gameName, versionLabel, relPath)
	a.log.Debug("Fetch object", slog.String("bucket", a.bucket), slog.String("key", key))

	obj, err := a.cl.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, translateError(err)
	}

	// GetObject is lazy, Stat makes the request and surfaces a missing key.
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()

		return nil, 0, translateError(err)
	}

	return obj, stat.Size, nil
}

// objectKey builds the key of a file, prefix may reference {game} and {version}.
func objectKey(prefix, gameName, versionLabel, relPath string) string {
	if prefix == "" {
		return relPath
	}

	r := strings.NewReplacer(placeholderGame, gameName, placeholderVersion, versionLabel)

	return path.Join(r.Replace(prefix), relPath)
}

func translateError(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case codeNoSuchKey, codeNoSuchBucket:
		return fmt.Errorf("%w: %s", common.ErrFileNotFoundError, err)
	}

	return fmt.Errorf("cannot get object: %w", err)
}
