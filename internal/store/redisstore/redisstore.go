// Package redisstore provides the search replica backed by Redis.
//
// Each record is stored as a JSON string; a sorted set scored by UpdatedAt
// (unix microseconds) indexes live records and answers watermark queries.
// Deleted ids leave a tombstone key that expires after the configured TTL,
// which should outlive the bus retention window. Last-writer-wins checks
// run inside Lua scripts so every write is an atomic compare-and-set.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jensholdgaard/auctionsync/internal/config"
	"github.com/jensholdgaard/auctionsync/internal/store"
)

func init() {
	store.RegisterReplica("redis", open)
}

func open(ctx context.Context, cfg config.ReplicaConfig) (*store.ReplicaRepositories, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &store.ReplicaRepositories{
		Records: New(rdb, cfg.KeyPrefix, cfg.TombstoneTTL),
		Closer:  rdb,
		Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
	}, nil
}

var upsertScript = redis.NewScript(`
	-- KEYS[1]: record, KEYS[2]: index, KEYS[3]: tombstone
	-- ARGV[1]: id, ARGV[2]: updated_at (unix micros), ARGV[3]: payload
	local stamp = tonumber(ARGV[2])
	local tomb = redis.call('GET', KEYS[3])
	if tomb and tonumber(tomb) >= stamp then
		return 0
	end
	local cur = redis.call('ZSCORE', KEYS[2], ARGV[1])
	if cur and tonumber(cur) >= stamp then
		return 0
	end
	redis.call('SET', KEYS[1], ARGV[3])
	redis.call('ZADD', KEYS[2], stamp, ARGV[1])
	return 1
`)

var deleteScript = redis.NewScript(`
	-- KEYS[1]: record, KEYS[2]: index, KEYS[3]: tombstone
	-- ARGV[1]: id, ARGV[2]: deleted_at (unix micros), ARGV[3]: tombstone ttl (ms, 0 = none)
	local stamp = tonumber(ARGV[2])
	local tomb = redis.call('GET', KEYS[3])
	if (not tomb) or tonumber(tomb) < stamp then
		if tonumber(ARGV[3]) > 0 then
			redis.call('SET', KEYS[3], ARGV[2], 'PX', ARGV[3])
		else
			redis.call('SET', KEYS[3], ARGV[2])
		end
	end
	redis.call('DEL', KEYS[1])
	return redis.call('ZREM', KEYS[2], ARGV[1])
`)

// ReplicaRepo implements store.ReplicaRepository on Redis.
type ReplicaRepo struct {
	rdb          redis.UniversalClient
	prefix       string
	tombstoneTTL time.Duration
}

// New returns a ReplicaRepo. All keys share the {prefix} hash tag so the
// scripts stay single-slot on Redis Cluster.
func New(rdb redis.UniversalClient, prefix string, tombstoneTTL time.Duration) *ReplicaRepo {
	return &ReplicaRepo{rdb: rdb, prefix: prefix, tombstoneTTL: tombstoneTTL}
}

func (r *ReplicaRepo) recordKey(id string) string { return "{" + r.prefix + "}:auction:" + id }
func (r *ReplicaRepo) tombKey(id string) string   { return "{" + r.prefix + "}:tombstone:" + id }
func (r *ReplicaRepo) indexKey() string           { return "{" + r.prefix + "}:auctions:by_updated" }

func (r *ReplicaRepo) Get(ctx context.Context, id string) (*store.ReplicaRecord, error) {
	raw, err := r.rdb.Get(ctx, r.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("getting replica record %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting replica record: %w", err)
	}
	var rec store.ReplicaRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding replica record %s: %w", id, err)
	}
	return &rec, nil
}

func (r *ReplicaRepo) List(ctx context.Context, offset, limit int) ([]store.ReplicaRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(offset + limit - 1)
	}
	ids, err := r.rdb.ZRevRange(ctx, r.indexKey(), int64(offset), stop).Result()
	if err != nil {
		return nil, fmt.Errorf("listing replica index: %w", err)
	}
	if len(ids) == 0 {
		return []store.ReplicaRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.recordKey(id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("loading replica records: %w", err)
	}

	out := make([]store.ReplicaRecord, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			// Deleted between the index read and the fetch.
			continue
		}
		var rec store.ReplicaRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("decoding replica record %s: %w", ids[i], err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *ReplicaRepo) Upsert(ctx context.Context, rec store.ReplicaRecord) (bool, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encoding replica record: %w", err)
	}
	keys := []string{r.recordKey(rec.ID), r.indexKey(), r.tombKey(rec.ID)}
	n, err := upsertScript.Run(ctx, r.rdb, keys,
		rec.ID, strconv.FormatInt(rec.UpdatedAt.UnixMicro(), 10), payload,
	).Int()
	if err != nil {
		return false, fmt.Errorf("upserting replica record %s: %w", rec.ID, err)
	}
	return n == 1, nil
}

func (r *ReplicaRepo) Delete(ctx context.Context, id string, at time.Time) (bool, error) {
	keys := []string{r.recordKey(id), r.indexKey(), r.tombKey(id)}
	n, err := deleteScript.Run(ctx, r.rdb, keys,
		id, strconv.FormatInt(at.UnixMicro(), 10), r.tombstoneTTL.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("deleting replica record %s: %w", id, err)
	}
	return n == 1, nil
}

func (r *ReplicaRepo) Watermark(ctx context.Context) (time.Time, error) {
	top, err := r.rdb.ZRevRangeWithScores(ctx, r.indexKey(), 0, 0).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("reading replica watermark: %w", err)
	}
	if len(top) == 0 {
		return time.Time{}, nil
	}
	return time.UnixMicro(int64(top[0].Score)).UTC(), nil
}
