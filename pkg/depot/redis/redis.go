package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lamassuiot/dcc-revocation/pkg/certificate"
	"github.com/lamassuiot/dcc-revocation/pkg/depot"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/redis/go-redis/v9"
)

const defaultKey = "dcc:revocation:snapshot"

// writeBatch bounds the number of fields per HSET.
const writeBatch = 1000

type redisDepot struct {
	client *redis.Client
	key    string
	logger log.Logger
}

type Option func(*redisDepot)

// WithKey overrides the hash key holding the snapshot.
func WithKey(key string) Option {
	return func(d *redisDepot) { d.key = key }
}

// NewRedis connects to url (redis://...) and pings the server.
func NewRedis(url string, logger log.Logger, opts ...Option) (depot.Depot, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewFromClient(client, logger, opts...), nil
}

// NewFromClient wraps an existing client. The client lifecycle stays with the
// caller.
func NewFromClient(client *redis.Client, logger log.Logger, opts ...Option) depot.Depot {
	d := &redisDepot{client: client, key: defaultKey, logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *redisDepot) GetRevokedCertificates(ctx context.Context) ([]depot.RevokedCertificate, error) {
	fields, err := d.client.HGetAll(ctx, d.key).Result()
	if err != nil {
		level.Error(d.logger).Log("err", err, "msg", "Could not read revocation snapshot from redis")
		return nil, err
	}
	revoked := make([]depot.RevokedCertificate, 0, len(fields))
	for id, value := range fields {
		rc, err := decodeValue(id, value)
		if err != nil {
			return nil, err
		}
		revoked = append(revoked, rc)
	}
	return revoked, nil
}

// ReplaceRevokedCertificates fills a staging key and renames it over the live
// one, so readers never observe a partial snapshot.
func (d *redisDepot) ReplaceRevokedCertificates(ctx context.Context, revoked []depot.RevokedCertificate) error {
	if len(revoked) == 0 {
		if err := d.client.Del(ctx, d.key).Err(); err != nil {
			level.Error(d.logger).Log("err", err, "msg", "Could not clear revocation snapshot")
			return err
		}
		return nil
	}

	staging := d.key + ":staging:" + strconv.FormatInt(time.Now().UnixNano(), 36)
	pipe := d.client.Pipeline()
	for start := 0; start < len(revoked); start += writeBatch {
		end := start + writeBatch
		if end > len(revoked) {
			end = len(revoked)
		}
		values := make([]interface{}, 0, 2*(end-start))
		for _, rc := range revoked[start:end] {
			values = append(values, rc.Identifier, encodeValue(rc))
		}
		pipe.HSet(ctx, staging, values...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		d.client.Del(ctx, staging)
		level.Error(d.logger).Log("err", err, "msg", "Could not stage revocation snapshot")
		return err
	}
	if err := d.client.Rename(ctx, staging, d.key).Err(); err != nil {
		d.client.Del(ctx, staging)
		level.Error(d.logger).Log("err", err, "msg", "Could not publish revocation snapshot")
		return err
	}
	level.Info(d.logger).Log("msg", "Revocation snapshot replaced in redis", "entries", len(revoked))
	return nil
}

func encodeValue(rc depot.RevokedCertificate) string {
	return strings.Join([]string{rc.KID, rc.HashType.Hex(), depot.FormatTime(rc.RevokedAt)}, "\t")
}

func decodeValue(id, value string) (depot.RevokedCertificate, error) {
	parts := strings.Split(value, "\t")
	if len(parts) != 3 {
		return depot.RevokedCertificate{}, fmt.Errorf("malformed snapshot entry for %s", id)
	}
	ht, err := certificate.ParseHashType(parts[1])
	if err != nil {
		return depot.RevokedCertificate{}, err
	}
	revokedAt, err := depot.ParseTime(parts[2])
	if err != nil {
		return depot.RevokedCertificate{}, err
	}
	return depot.RevokedCertificate{Identifier: id, KID: parts[0], HashType: ht, RevokedAt: revokedAt}, nil
}
