package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/creatorlens/onboarding-rag/config"
)

const defaultPrefix = "rag:sess:"

// NewRedisClient connects to the configured Redis server.
func NewRedisClient(cfg config.RedisConfig) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisStore persists sessions in Redis.
// Data model:
//   - prefix+"session:"+id => JSON(Snapshot) with TTL
//   - prefix+"idx" => ZSET of ids scored by last update (unix seconds)
type RedisStore struct {
	rdb      redis.UniversalClient
	prefix   string
	ttl      time.Duration
	maxTurns int
	now      func() time.Time
}

func NewRedisStore(rdb redis.UniversalClient, prefix string, ttl time.Duration, maxTurns int) *RedisStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl, maxTurns: maxTurns, now: time.Now}
}

func (s *RedisStore) idxKey() string { return s.prefix + "idx" }
func (s *RedisStore) sessKey(id string) string { return s.prefix + "session:" + id }

func (s *RedisStore) Save(ctx context.Context, id string, snap Snapshot) error {
	snap, err := prepare(id, snap, s.maxTurns, s.now())
	if err != nil {
		return err
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.sessKey(id), b, s.ttl)
		p.ZAdd(ctx, s.idxKey(), &redis.Z{Score: float64(snap.UpdatedAt.Unix()), Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: save %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (Snapshot, bool, error) {
	b, err := s.rdb.Get(ctx, s.sessKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("session: load %s: %w", id, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("session: decode %s: %w", id, err)
	}
	return snap, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.sessKey(id))
		p.ZRem(ctx, s.idxKey(), id)
		return nil
	})
	return err
}

// Recent returns up to limit session ids, most recently updated first.
func (s *RedisStore) Recent(ctx context.Context, offset, limit int) ([]string, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		return []string{}, nil
	}
	return s.rdb.ZRevRange(ctx, s.idxKey(), int64(offset), int64(offset+limit-1)).Result()
}

var cleanScript = redis.NewScript(`
local idx_key = KEYS[1]
local prefix = ARGV[1]
local keep = tonumber(ARGV[2])
local total = redis.call('ZCARD', idx_key)
if total <= keep then return 0 end
local rem = total - keep
local ids = redis.call('ZRANGE', idx_key, 0, rem-1)
for i,id in ipairs(ids) do
  redis.call('ZREM', idx_key, id)
  redis.call('DEL', prefix .. 'session:' .. id)
end
return rem`)

// Clean keeps only the max most recently updated sessions and returns how
// many were removed.
func (s *RedisStore) Clean(ctx context.Context, max int) (int64, error) {
	if max <= 0 {
		return 0, nil
	}
	return cleanScript.Run(ctx, s.rdb, []string{s.idxKey()}, s.prefix, max).Int64()
}
