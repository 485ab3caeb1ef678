package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/park285/wagerchess-core/internal/obslog"
	"github.com/park285/wagerchess-core/internal/ratingstore"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Backlog holds rating updates that could not be applied yet, oldest first.
type Backlog interface {
	Push(ctx context.Context, u ratingstore.Update) error
	Pop(ctx context.Context) (ratingstore.Update, bool, error)
	Len(ctx context.Context) (int, error)
}

type memBacklog struct {
	mu    sync.Mutex
	items []ratingstore.Update
}

func NewMemoryBacklog() Backlog { return &memBacklog{} }

func (m *memBacklog) Push(_ context.Context, u ratingstore.Update) error {
	m.mu.Lock()
	m.items = append(m.items, u)
	m.mu.Unlock()
	return nil
}

func (m *memBacklog) Pop(_ context.Context) (ratingstore.Update, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 {
		return ratingstore.Update{}, false, nil
	}
	u := m.items[0]
	m.items = m.items[1:]
	return u, true, nil
}

func (m *memBacklog) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items), nil
}

const defaultBacklogKey = "mm:rating:backlog"

// RedisBacklog is a Redis list; survives restarts of this process.
type RedisBacklog struct {
	rdb *redis.Client
	key string
}

func NewRedisBacklog(rdb *redis.Client, key string) *RedisBacklog {
	if strings.TrimSpace(key) == "" {
		key = defaultBacklogKey
	}
	return &RedisBacklog{rdb: rdb, key: key}
}

func (b *RedisBacklog) Push(ctx context.Context, u ratingstore.Update) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal backlog update: %w", err)
	}
	return b.rdb.RPush(ctx, b.key, raw).Err()
}

// Pop skips entries that do not decode, parking them on DeadKey.
func (b *RedisBacklog) Pop(ctx context.Context) (ratingstore.Update, bool, error) {
	for {
		raw, err := b.rdb.LPop(ctx, b.key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ratingstore.Update{}, false, nil
		}
		if err != nil {
			return ratingstore.Update{}, false, err
		}
		var u ratingstore.Update
		derr := json.Unmarshal(raw, &u)
		if derr == nil {
			return u, true, nil
		}
		if err := b.rdb.RPush(ctx, b.DeadKey(), raw).Err(); err != nil {
			// put it back rather than lose it
			_ = b.rdb.LPush(context.WithoutCancel(ctx), b.key, raw).Err()
			return ratingstore.Update{}, false, fmt.Errorf("park undecodable backlog entry: %w", err)
		}
		obslog.L().Error("rating_backlog_dead_letter",
			zap.String("key", b.DeadKey()),
			zap.ByteString("raw", raw),
			zap.Error(derr),
		)
	}
}

// DeadKey holds entries Pop could not decode.
func (b *RedisBacklog) DeadKey() string { return b.key + ":dead" }

func (b *RedisBacklog) Len(ctx context.Context) (int, error) {
	n, err := b.rdb.LLen(ctx, b.key).Result()
	return int(n), err
}
