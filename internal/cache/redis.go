package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neexbeast/cityrank/internal/weather"
)

const pingTimeout = 5 * time.Second

// Connect parses redisURL, creates a client, and verifies connectivity with a ping.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return client, nil
}

const (
	generationKey = "weather:generation"
	scanBatch     = 100
)

// RedisStore keeps entries in Redis under a generation namespace. Flush
// increments the generation, which retires every existing entry at once, and
// then deletes the retired keys.
type RedisStore struct {
	client *redis.Client
	log    *slog.Logger
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client *redis.Client, log *slog.Logger) *RedisStore {
	return &RedisStore{client: client, log: log}
}

// The generation read and the entry access run as one script, so a Flush
// cannot land between them and strand an entry in a retired generation.
var (
	lookupScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[1]) or '0'
return redis.call('GET', 'weather:' .. gen .. ':' .. ARGV[1])
`)
	saveScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[1]) or '0'
redis.call('SET', 'weather:' .. gen .. ':' .. ARGV[1], ARGV[2])
return gen
`)
)

// Lookup returns nil, false, nil on a miss.
func (s *RedisStore) Lookup(ctx context.Context, key string) (*weather.Record, bool, error) {
	val, err := lookupScript.Run(ctx, s.client, []string{generationKey}, key).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache get for city %s: %w", key, err)
	}

	var rec *weather.Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, false, fmt.Errorf("unmarshaling cached weather for city %s: %w", key, err)
	}

	return rec, true, nil
}

// Save stores rec without expiry; a nil rec is stored as JSON null.
func (s *RedisStore) Save(ctx context.Context, key string, rec *weather.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling weather for city %s: %w", key, err)
	}

	if err := saveScript.Run(ctx, s.client, []string{generationKey}, key, b).Err(); err != nil {
		return fmt.Errorf("cache set for city %s: %w", key, err)
	}

	return nil
}

// Flush switches to a new generation. Cleanup of the retired generation is
// best effort; its keys are unreachable either way.
func (s *RedisStore) Flush(ctx context.Context) error {
	gen, err := s.client.Incr(ctx, generationKey).Result()
	if err != nil {
		return fmt.Errorf("advancing cache generation: %w", err)
	}

	if err := s.purge(ctx, gen-1); err != nil {
		s.log.Warn("purging retired cache generation failed", "generation", gen-1, "err", err)
	}
	return nil
}

func (s *RedisStore) purge(ctx context.Context, gen int64) error {
	iter := s.client.Scan(ctx, 0, "weather:"+strconv.FormatInt(gen, 10)+":*", scanBatch).Iterator()

	batch := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("deleting retired keys: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning retired keys: %w", err)
	}
	if len(batch) > 0 {
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("deleting retired keys: %w", err)
		}
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
