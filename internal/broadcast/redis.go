// Package broadcast publishes ledger records over Redis pub/sub so other
// processes can follow a session live.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spherical-ai/spherical/libs/extractflow/internal/ledger"
	"github.com/spherical-ai/spherical/libs/extractflow/internal/observability"
)

// recentLimit caps the replay list kept next to each channel.
const recentLimit = 200

// Event is the message published for each ledger record.
type Event struct {
	SessionID string            `json:"session_id"`
	Record    ledger.CallRecord `json:"record"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Prefix   string
}

// RedisPublisher publishes JSON messages under a key prefix.
type RedisPublisher struct {
	client *redis.Client
	prefix string
	logger *observability.Logger
}

// NewRedisPublisher connects and pings Redis.
func NewRedisPublisher(cfg RedisConfig, logger *observability.Logger) (*RedisPublisher, error) {
	if logger == nil {
		logger = observability.Nop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "ef:"
	}

	return &RedisPublisher{
		client: client,
		prefix: prefix,
		logger: logger.WithOperation("broadcast"),
	}, nil
}

// Publish sends message as JSON on channel and appends it to the channel's replay list.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := p.prefix + channel
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, key, data)
		pipe.RPush(ctx, key+":recent", data)
		pipe.LTrim(ctx, key+":recent", -recentLimit, -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	p.logger.Debug().Str("channel", key).Int("bytes", len(data)).Msg("published")
	return nil
}

// Recent returns up to n of the latest messages published on channel, oldest first.
func (p *RedisPublisher) Recent(ctx context.Context, channel string, n int) ([][]byte, error) {
	if n <= 0 || n > recentLimit {
		n = recentLimit
	}
	vals, err := p.client.LRange(ctx, p.prefix+channel+":recent", int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

// Subscribe delivers payloads published on channel until cancel is called or ctx ends.
func (p *RedisPublisher) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := p.client.Subscribe(ctx, p.prefix+channel)
	// Receive waits for the subscription confirmation.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis subscribe: %w", err)
	}

	ch := make(chan []byte, 100)
	done := make(chan struct{})
	msgs := sub.Channel()

	go func() {
		defer close(ch)
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case ch <- []byte(msg.Payload):
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}

	return ch, cancel, nil
}

// Sink publishes every ledger record of sessionID on channel.
func (p *RedisPublisher) Sink(channel, sessionID string) ledger.Sink {
	return ledger.SinkFunc(func(ctx context.Context, rec ledger.CallRecord) error {
		return p.Publish(ctx, channel, Event{SessionID: sessionID, Record: rec})
	})
}

// Close closes the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// DecodeEvent parses a payload produced by Sink.
func DecodeEvent(payload []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return evt, nil
}
