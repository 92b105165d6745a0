package install

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jgivc/manifestsync/internal/common"
	"github.com/jgivc/manifestsync/internal/entity"
	"github.com/redis/go-redis/v9"
)

const (
	KeyVersion1      = "v1"
	KeyVersion2      = "v2"
	KeyActiveVersion = "ir:av"  // STRING. Version of the record that is currently authoritative.
	KeyRecord        = "ir:rec" // STRING. ir:rec:ver -> install record json

	KeyEmpty     = ""
	KeySeparator = ":"

	maxTxRetries = 5
)

/*
redisRepository writes the new record under the standby version and then flips the
active version in the same transaction, so readers see either the old record or the new one.
*/
type redisRepository struct {
	cl  *redis.Client
	log *slog.Logger
}

func NewRedisRepository(cl *redis.Client, log *slog.Logger) *redisRepository {
	return &redisRepository{
		cl:  cl,
		log: log.With(slog.String("item", "RedisInstallRepository")),
	}
}

func (r *redisRepository) Get(ctx context.Context) (*entity.InstallRecord, error) {
	return r.get(ctx, r.cl)
}

func (r *redisRepository) Set(ctx context.Context, upd entity.InstallUpdate) (*entity.InstallRecord, error) {
	var saved entity.InstallRecord

	txf := func(tx *redis.Tx) error {
		current, err := r.get(ctx, tx)
		if err != nil && !errors.Is(err, common.ErrRecordNotFoundError) {
			return err
		}

		if current == nil {
			current = &entity.InstallRecord{}
		}

		rec := upd.Apply(*current)

		data, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("cannot encode install record: %w", err)
		}

		_, verStandby, err := r.getVersions(ctx, tx)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, getKey(KeyRecord, verStandby), data, 0)
			pipe.Set(ctx, KeyActiveVersion, verStandby, 0)

			return nil
		})
		if err != nil {
			return err
		}

		saved = rec

		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.cl.Watch(ctx, txf, KeyActiveVersion, getKey(KeyRecord, KeyVersion1), getKey(KeyRecord, KeyVersion2))
		if err == nil {
			r.log.Info("Install record saved", slog.String("install_dir", saved.InstallDirectory))

			return &saved, nil
		}

		if errors.Is(err, redis.TxFailedErr) {
			r.log.Warn("Install record changed concurrently, retry", slog.Int("attempt", i+1))

			continue
		}

		r.log.Error("Cannot save install record", slog.Any("error", err))

		return nil, fmt.Errorf("cannot save install record: %w", err)
	}

	return nil, fmt.Errorf("cannot save install record: %w", redis.TxFailedErr)
}

func (r *redisRepository) get(ctx context.Context, cl redis.Cmdable) (*entity.InstallRecord, error) {
	ver, err := cl.Get(ctx, KeyActiveVersion).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, common.ErrRecordNotFoundError
		}

		return nil, fmt.Errorf("cannot get active version: %w", err)
	}

	data, err := cl.Get(ctx, getKey(KeyRecord, ver)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, common.ErrRecordNotFoundError
		}

		return nil, fmt.Errorf("cannot get install record: %w", err)
	}

	var rec entity.InstallRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("cannot decode install record: %w", err)
	}

	return &rec, nil
}

/*
getVersions return active and standby versions
*/
func (r *redisRepository) getVersions(ctx context.Context, cl redis.Cmdable) (string, string, error) {
	ver, err := cl.Get(ctx, KeyActiveVersion).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return KeyEmpty, KeyEmpty, fmt.Errorf("cannot get active version: %w", err)
	}

	switch ver {
	case KeyVersion1:
		return KeyVersion1, KeyVersion2, nil
	case KeyVersion2:
		return KeyVersion2, KeyVersion1, nil
	}

	return KeyEmpty, KeyVersion1, nil
}

func getKey(keys ...string) string {
	return strings.Join(keys, KeySeparator)
}
