// ABOUTME: Redis implementation of the Broker interface using go-redis pub/sub.
// ABOUTME: Subscribe blocks until the server confirms the subscription is live.

package broker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// subscriptionBuffer bounds how many undelivered payloads a single
// subscription holds before further traffic on it is dropped.
const subscriptionBuffer = 16

// RedisBroker implements Broker on top of Redis pub/sub.
type RedisBroker struct {
	client *redis.Client
	logger *slog.Logger
}

// RedisOptions configures the Redis broker connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisBroker connects to Redis and verifies the connection with a ping.
func NewRedisBroker(ctx context.Context, opts RedisOptions, logger *slog.Logger) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}

	logger.Info("broker connected", "addr", opts.Addr, "db", opts.DB)
	return &RedisBroker{
		client: client,
		logger: logger.With("component", "broker"),
	}, nil
}

// Publish sends payload to channel. Redis pub/sub is non-durable: if no
// subscriber is listening the payload is lost, which is the contract.
func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a Redis subscription to channel and waits for the server's
// subscription confirmation before returning, so a payload published after
// Subscribe returns is guaranteed to reach the handle.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channel)

	// Receive blocks until the subscription confirmation arrives.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", channel, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan []byte, subscriptionBuffer),
	}
	go sub.pump()
	return sub, nil
}

// Close disconnects from Redis. Open subscriptions observe a closed
// message stream.
func (b *RedisBroker) Close() error {
	b.logger.Info("broker disconnected")
	return b.client.Close()
}

// redisSubscription adapts a go-redis PubSub to the Subscription interface.
type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan []byte
}

// pump copies payloads from the go-redis message channel until the
// subscription is closed.
func (s *redisSubscription) pump() {
	defer close(s.out)
	for msg := range s.pubsub.Channel() {
		select {
		case s.out <- []byte(msg.Payload):
		default:
			// Subscriber is not keeping up; at-most-once delivery permits the drop.
		}
	}
}

func (s *redisSubscription) Messages() <-chan []byte {
	return s.out
}

// Close unsubscribes from the channel. go-redis tolerates repeated closes.
func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
