package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/entity"
)

const scanBatch = 500

// ResultCacheRepository stores aggregated results shared between instances.
// Keys expire in Redis at the entry's own expiry.
type ResultCacheRepository struct {
	conn   *Connection
	prefix string
}

// NewResultCacheRepository creates a new result cache repository
func NewResultCacheRepository(conn *Connection, prefix string) *ResultCacheRepository {
	return &ResultCacheRepository{conn: conn, prefix: prefix}
}

func (r *ResultCacheRepository) key(key string) string {
	return r.prefix + "result:" + key
}

// Get returns nil, nil when the key is absent or already expired
func (r *ResultCacheRepository) Get(ctx context.Context, key string) (*entity.CacheEntry, error) {
	data, err := r.conn.Client().Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}

	var entry entity.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &entry, nil
}

// Set writes entry with a Redis TTL matching its remaining lifetime
func (r *ResultCacheRepository) Set(ctx context.Context, entry *entity.CacheEntry) error {
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode %s: %w", entry.Key, err)
	}
	if err := r.conn.Client().Set(ctx, r.key(entry.Key), data, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", entry.Key, err)
	}
	return nil
}

// Delete removes a single entry
func (r *ResultCacheRepository) Delete(ctx context.Context, key string) error {
	if err := r.conn.Client().Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Clear removes every entry under the repository prefix
func (r *ResultCacheRepository) Clear(ctx context.Context) error {
	client := r.conn.Client()
	iter := client.Scan(ctx, 0, r.key("*"), scanBatch).Iterator()

	batch := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("clear: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	if len(batch) > 0 {
		if err := client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
	}
	return nil
}
