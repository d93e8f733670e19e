// Package rediscache implements the fast recent-history tier on Redis
// lists. Each chat gets its own key, appends preserve insertion order, and
// the per-chat cap is enforced with LTRIM.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dotsetgreg/docmem/pkg/memory"
)

// Config for the cache tier. Namespace keeps session history separate from
// any other logical namespace sharing the Redis instance.
type Config struct {
	Namespace string
	// TTL expires idle chats entirely; zero disables expiry.
	TTL time.Duration
}

func DefaultConfig() Config {
	return Config{Namespace: "docmem"}
}

// Cache implements memory.TurnCache on a Redis list per chat.
type Cache struct {
	rdb redis.Cmdable
	cfg Config
}

func New(rdb redis.Cmdable, cfg Config) *Cache {
	if cfg.Namespace == "" {
		cfg.Namespace = "docmem"
	}
	return &Cache{rdb: rdb, cfg: cfg}
}

func (c *Cache) key(chatID string) string {
	return fmt.Sprintf("%s:chat:%s:turns", c.cfg.Namespace, chatID)
}

func (c *Cache) Append(ctx context.Context, turn memory.ConversationTurn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn %s: %w", turn.MessageID, err)
	}
	key := c.key(turn.ChatID)
	if err := c.rdb.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("append turn to %s: %w", key, err)
	}
	if c.cfg.TTL > 0 {
		if err := c.rdb.Expire(ctx, key, c.cfg.TTL).Err(); err != nil {
			return fmt.Errorf("refresh ttl on %s: %w", key, err)
		}
	}
	return nil
}

// List returns up to limit turns in chronological order, offset counted
// backwards from the newest entry.
func (c *Cache) List(ctx context.Context, chatID string, limit, offset int) ([]memory.ConversationTurn, error) {
	if limit <= 0 {
		return nil, nil
	}
	key := c.key(chatID)
	start := int64(-(offset + limit))
	stop := int64(-(offset + 1))
	raw, err := c.rdb.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list turns from %s: %w", key, err)
	}
	turns := make([]memory.ConversationTurn, 0, len(raw))
	for _, item := range raw {
		var turn memory.ConversationTurn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			return nil, fmt.Errorf("decode cached turn in %s: %w", key, err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func (c *Cache) Trim(ctx context.Context, chatID string, maxLen int) error {
	if maxLen <= 0 {
		return nil
	}
	key := c.key(chatID)
	if err := c.rdb.LTrim(ctx, key, int64(-maxLen), -1).Err(); err != nil {
		return fmt.Errorf("trim %s to %d: %w", key, maxLen, err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, chatID string) error {
	key := c.key(chatID)
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
