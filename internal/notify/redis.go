package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/park285/wagerchess-core/internal/obslog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultChannelPrefix = "mm:events"

// RedisPublisher publishes events as JSON over Redis pub/sub, one channel
// per player plus a firehose channel. Publishing is blocking network I/O;
// put it behind Async on the matchmaking path.
type RedisPublisher struct {
	rdb     *redis.Client
	prefix  string
	timeout time.Duration
}

func NewRedisPublisher(rdb *redis.Client, prefix string) *RedisPublisher {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultChannelPrefix
	}
	return &RedisPublisher{rdb: rdb, prefix: prefix, timeout: 2 * time.Second}
}

func (p *RedisPublisher) PlayerChannel(playerID string) string {
	return p.prefix + ":" + strings.TrimSpace(playerID)
}

func (p *RedisPublisher) AllChannel() string { return p.prefix + ":all" }

func (p *RedisPublisher) Notify(ctx context.Context, ev Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		obslog.L().Error("notify_redis_marshal", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	pipe := p.rdb.Pipeline()
	if ev.PlayerID != "" {
		pipe.Publish(ctx, p.PlayerChannel(ev.PlayerID), raw)
	}
	pipe.Publish(ctx, p.AllChannel(), raw)
	if _, err := pipe.Exec(ctx); err != nil {
		obslog.L().Warn("notify_redis_publish", zap.String("player_id", ev.PlayerID), zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}
