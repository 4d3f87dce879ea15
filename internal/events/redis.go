package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spherical/module-creator/internal/domain"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisPublisher publishes progress events as JSON on a Redis channel so
// other processes can follow runs.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	channel := cfg.Channel
	if channel == "" {
		channel = "module-creator.progress"
	}

	return &RedisPublisher{client: client, channel: channel}, nil
}

// Channel returns the channel events are published on.
func (p *RedisPublisher) Channel() string {
	return p.channel
}

// Publish implements domain.Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, event domain.ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}

	return nil
}

// Subscribe follows the event channel until ctx is done or the returned
// function is called. Messages that do not decode are skipped.
func (p *RedisPublisher) Subscribe(ctx context.Context) (<-chan domain.ProgressEvent, func(), error) {
	sub := p.client.Subscribe(ctx, p.channel)
	// Wait for the subscription to be confirmed so no event is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis subscribe: %w", err)
	}

	ch := make(chan domain.ProgressEvent, DefaultBuffer)
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
				var ev domain.ProgressEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case ch <- ev:
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, stopOnce(done, sub), nil
}

// stopOnce returns a function that closes done and then closer. Calls
// after the first, including concurrent ones, do nothing.
func stopOnce(done chan struct{}, closer io.Closer) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			_ = closer.Close()
		})
	}
}

// Close closes the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
