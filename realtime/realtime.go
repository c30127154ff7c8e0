// Package realtime provides the pub/sub channel and presence tracking over
// Redis. Broadcasts are fire-and-forget: a message published while a peer
// is disconnected is gone for that peer, and only a later history load
// recovers it.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/queendesk/lounge/chat"
)

const (
	chatPrefix     = "lounge:chat"
	presencePrefix = "lounge:presence"

	// A member whose heartbeat is older than staleAfter has crashed or lost
	// its connection without leaving; snapshots drop it.
	heartbeatEvery = 15 * time.Second
	staleAfter     = 45 * time.Second
)

// Redis provides the realtime channel over a Redis server. One client
// serves one local identity.
type Redis struct {
	Logger *slog.Logger

	cli      *redis.Client
	identity string
}

// Connect connects to the Redis server and pings it to ensure the
// connection is working.
func Connect(ctx context.Context, addr, identity string, logger *slog.Logger) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{
		Logger:   logger,
		cli:      cli,
		identity: identity,
	}, nil
}

// Close releases the underlying client. Open sessions must be unsubscribed
// first.
func (r *Redis) Close() error {
	return r.cli.Close()
}

// snapshot reads the full membership view for topic: every handle whose
// heartbeat is within the freshness window, joined with its metadata.
func (r *Redis) snapshot(ctx context.Context, topic string) (map[string]chat.MemberMeta, error) {
	handles, err := r.cli.ZRangeByScore(ctx, presenceKey(topic), &redis.ZRangeBy{
		Min: strconv.FormatInt(staleCutoff(time.Now()), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore: %w", err)
	}

	out := make(map[string]chat.MemberMeta, len(handles))
	for _, handle := range handles {
		raw, err := r.cli.HGet(ctx, presenceMetaKey(topic), handle).Result()
		if err == redis.Nil {
			// Member removed between the range read and here.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("hget: %w", err)
		}
		var meta chat.MemberMeta
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			r.Logger.Warn("Skipping undecodable presence meta", "topic", topic, "handle", handle)
			continue
		}
		out[handle] = meta
	}
	return out, nil
}

// staleCutoff returns the oldest heartbeat (unix seconds) still considered
// live at now.
func staleCutoff(now time.Time) int64 {
	return now.Add(-staleAfter).Unix()
}

func chatChannel(topic string) string {
	return fmt.Sprintf("%s:%s", chatPrefix, topic)
}

func presenceKey(topic string) string {
	return fmt.Sprintf("%s:%s", presencePrefix, topic)
}

func presenceMetaKey(topic string) string {
	return fmt.Sprintf("%s:%s:meta", presencePrefix, topic)
}
