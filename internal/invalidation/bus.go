// Package invalidation provides the optional cross-process fan-out the
// coordination core's in-process Database.Invalidate cannot reach on its
// own: when several processes front the same storage, each one's local
// pools need to hear about the others' commits.
package invalidation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dependable-objdb/core/internal/infrastructure/config"
)

// Event is one invalidation broadcast: the committed tid, the oids it
// touched, and the id of the process that committed it, so a process can
// recognize and discard its own echo.
type Event struct {
	TID         []byte
	OIDs        [][]byte
	CommitterID string
}

// wireEvent is Event's JSON wire shape; byte slices survive JSON's
// base64 encoding but keeping it explicit documents the format.
type wireEvent struct {
	TID         []byte   `json:"tid"`
	OIDs        [][]byte `json:"oids"`
	CommitterID string   `json:"committer_id"`
}

// Bus is a Redis pub/sub-backed invalidation channel. A nil *Bus (the
// default) means invalidation stays in-process only.
type Bus struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewBus connects to Redis and verifies reachability with a timed ping
// before returning.
func NewBus(cfg *config.RedisConfig, logger *zap.Logger) (*Bus, error) {
	if logger == nil {
		return nil, fmt.Errorf("invalidation: logger is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("invalidation: redis config is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("invalidation: redis connection failed: %w", err)
	}

	logger.Info("invalidation bus connected",
		zap.String("addr", cfg.Address),
		zap.String("channel", cfg.Channel))

	return &Bus{client: client, channel: cfg.Channel, logger: logger}, nil
}

// Publish broadcasts a commit's invalidation event to every subscriber.
func (b *Bus) Publish(ctx context.Context, tid []byte, oids [][]byte, committerID string) error {
	payload, err := json.Marshal(wireEvent{TID: tid, OIDs: oids, CommitterID: committerID})
	if err != nil {
		return fmt.Errorf("invalidation: marshaling event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.logger.Error("invalidation publish failed", zap.Error(err))
		return fmt.Errorf("invalidation: publish failed: %w", err)
	}
	return nil
}

// Subscribe returns a channel of decoded Events. The channel closes when
// ctx is cancelled or the subscription errors; malformed payloads are
// logged and skipped.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("invalidation: subscribe failed: %w", err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var w wireEvent
				if err := json.Unmarshal([]byte(msg.Payload), &w); err != nil {
					b.logger.Warn("invalidation: discarding malformed event", zap.Error(err))
					continue
				}
				select {
				case out <- Event{TID: w.TID, OIDs: w.OIDs, CommitterID: w.CommitterID}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close releases the underlying Redis client.
func (b *Bus) Close() error {
	if err := b.client.Close(); err != nil {
		b.logger.Error("invalidation bus close failed", zap.Error(err))
		return fmt.Errorf("invalidation: close failed: %w", err)
	}
	b.logger.Info("invalidation bus closed")
	return nil
}
