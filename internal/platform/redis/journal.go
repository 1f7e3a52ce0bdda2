// Package redis stores journal entries in Redis: a capped list of JSON entries plus a hash
// counting terminal failures per reason.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"backoffkit/internal/journal"
)

// Config holds Redis connection configuration.
type Config struct {
	URL string
	// Prefix namespaces the keys; defaults to "backoff:journal".
	Prefix   string
	Capacity int
}

// JournalStore implements journal.Store on Redis.
type JournalStore struct {
	rdb      *redis.Client
	prefix   string
	capacity int64
}

var _ journal.Store = (*JournalStore)(nil)

// NewJournalStore connects to Redis and verifies the connection.
func NewJournalStore(ctx context.Context, cfg Config) (*JournalStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return newJournalStore(rdb, cfg), nil
}

func newJournalStore(rdb *redis.Client, cfg Config) *JournalStore {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "backoff:journal"
	}
	return &JournalStore{rdb: rdb, prefix: prefix, capacity: int64(cfg.Capacity)}
}

func (s *JournalStore) entriesKey() string { return s.prefix + ":entries" }
func (s *JournalStore) reasonsKey() string { return s.prefix + ":reasons" }

// Close closes the Redis connection.
func (s *JournalStore) Close() error {
	return s.rdb.Close()
}

// Ping reports whether Redis is reachable.
func (s *JournalStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *JournalStore) Append(ctx context.Context, e journal.Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, s.entriesKey(), payload)
		if s.capacity > 0 {
			p.LTrim(ctx, s.entriesKey(), 0, s.capacity-1)
		}
		p.HIncrBy(ctx, s.reasonsKey(), e.Reason, 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

func (s *JournalStore) List(ctx context.Context, limit int) ([]journal.Entry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	raw, err := s.rdb.LRange(ctx, s.entriesKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange failed: %w", err)
	}
	out := make([]journal.Entry, 0, len(raw))
	for _, r := range raw {
		var e journal.Entry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("decode journal entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// ReasonCounts returns how many terminal failures were recorded per reason. Counts are
// not trimmed with the list.
func (s *JournalStore) ReasonCounts(ctx context.Context) (map[string]int64, error) {
	raw, err := s.rdb.HGetAll(ctx, s.reasonsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall failed: %w", err)
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		var n int64
		if _, err := fmt.Sscan(v, &n); err != nil {
			return nil, fmt.Errorf("reason %q: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

// Reset deletes the journal keys.
func (s *JournalStore) Reset(ctx context.Context) error {
	return s.rdb.Del(ctx, s.entriesKey(), s.reasonsKey()).Err()
}
