package channel

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces pub/sub channels.
const DefaultRedisPrefix = "adrecon"

// RedisTransport reads payloads published on a Redis pub/sub channel named
// "{prefix}:{topic}:{subject}". Pub/sub has no replay, so LastEventID is
// ignored.
type RedisTransport struct {
	client *redis.Client
	prefix string
}

// NewRedisTransport returns a transport over an existing client.
func NewRedisTransport(client *redis.Client, prefix string) *RedisTransport {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisTransport{client: client, prefix: prefix}
}

// Channel returns the pub/sub channel for a request.
func (t *RedisTransport) Channel(req Request) string {
	return t.prefix + ":" + req.Topic + ":" + req.Subject
}

// Stream implements Transport.
func (t *RedisTransport) Stream(ctx context.Context, req Request, emit func(Frame)) error {
	sub := t.client.Subscribe(ctx, t.Channel(req))
	defer sub.Close()

	// Channel() alone never reports a failed connection.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("subscribe %s: %w", t.Channel(req), err)
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			emit(Frame{Data: msg.Payload})
		}
	}
}
