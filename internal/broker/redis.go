package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/estatechat/internal/logger"
	"github.com/redis/go-redis/v9"
)

// channel is the single Redis Pub/Sub channel shared by all API processes;
// the room is carried in the envelope rather than the channel name so one
// subscription covers every room.
const channel = "estatechat:rooms"

type envelope struct {
	Room string          `json:"room"`
	Data json.RawMessage `json:"data"`
}

type Redis struct {
	cli    *redis.Client
	pubsub *redis.PubSub
	cancel context.CancelFunc

	mu       sync.RWMutex
	handlers []Handler
}

// NewRedis connects the broker to Redis and starts the receive loop.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("broker: redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("broker: redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("broker: redis ping: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	b := &Redis{
		cli:    cli,
		pubsub: cli.Subscribe(loopCtx, channel),
		cancel: cancel,
	}
	go b.receive(loopCtx)
	return b, nil
}

// Client exposes the underlying Redis client for collaborators that share the
// connection (push subscription store).
func (b *Redis) Client() *redis.Client { return b.cli }

func (b *Redis) Publish(ctx context.Context, room string, payload []byte) error {
	env, err := json.Marshal(envelope{Room: room, Data: payload})
	if err != nil {
		return fmt.Errorf("broker: marshal envelope: %w", err)
	}
	if err := b.cli.Publish(ctx, channel, env).Err(); err != nil {
		return fmt.Errorf("broker: publish room=%s: %w", room, err)
	}
	return nil
}

func (b *Redis) Subscribe(h Handler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

func (b *Redis) receive(ctx context.Context) {
	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Errorf("broker: bad envelope: %v", err)
				continue
			}
			b.mu.RLock()
			handlers := b.handlers
			b.mu.RUnlock()
			for _, h := range handlers {
				h(env.Room, env.Data)
			}
		}
	}
}

func (b *Redis) Close() error {
	b.cancel()
	if err := b.pubsub.Close(); err != nil {
		logger.Errorf("broker: pubsub close: %v", err)
	}
	return b.cli.Close()
}
