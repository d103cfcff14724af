// Package relay carries broadcasts between server instances over Redis
// pub/sub, so connections attached to different processes still see each
// other's changes.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lalith-99/echoroom/internal/realtime"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Channel is the pub/sub channel every instance publishes to and
// subscribes on.
const Channel = "echoroom:broadcast"

type Redis struct {
	client *redis.Client
	nodeID string
	logger *zap.Logger
}

// New parses a redis:// URL and pings the server.
func New(ctx context.Context, redisURL, nodeID string, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info("redis relay connected",
		zap.String("addr", opts.Addr),
		zap.String("channel", Channel),
	)
	return &Redis{client: client, nodeID: nodeID, logger: logger}, nil
}

// Publish implements realtime.Relay.
func (r *Redis) Publish(ctx context.Context, b realtime.Broadcast) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode broadcast: %w", err)
	}
	if err := r.client.Publish(ctx, Channel, payload).Err(); err != nil {
		return fmt.Errorf("publish broadcast: %w", err)
	}
	return nil
}

// Run subscribes to Channel and hands every broadcast from another node to
// deliver. It blocks until ctx is cancelled.
func (r *Redis) Run(ctx context.Context, deliver func(realtime.Broadcast)) error {
	sub := r.client.Subscribe(ctx, Channel)
	defer sub.Close()

	// Wait for the subscription confirmation so a publish right after Run
	// starts is not missed.
	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", Channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b, ok, err := decode(r.nodeID, msg.Payload)
			if err != nil {
				r.logger.Warn("malformed relay message, ignoring", zap.Error(err))
				continue
			}
			if !ok {
				continue
			}
			deliver(b)
		}
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// decode parses a relay payload. ok is false for this node's own
// broadcasts, which were already fanned out locally.
func decode(nodeID, payload string) (b realtime.Broadcast, ok bool, err error) {
	if err := json.Unmarshal([]byte(payload), &b); err != nil {
		return b, false, fmt.Errorf("decode broadcast: %w", err)
	}
	if b.Event == "" {
		return b, false, errors.New("broadcast has no event")
	}
	if b.Node == nodeID {
		return b, false, nil
	}
	return b, true, nil
}
