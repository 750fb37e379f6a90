// internal/app/features/fanout/broker.go
package fanout

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "askaway:group:"

// Channel returns the Redis channel of a client group.
func Channel(group string) string {
	return channelPrefix + group
}

// Broker publishes to and subscribes to named client groups.
type Broker interface {
	Publish(ctx context.Context, group string, payload []byte) error
	Subscribe(ctx context.Context, group string) (Subscription, error)
}

// Subscription delivers the payloads published to one group until closed.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// RedisBroker maps groups onto Redis pub/sub channels.
type RedisBroker struct {
	rdb *redis.Client
}

// NewRedisBroker creates a broker on rdb.
func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb}
}

// Publish sends payload to every current subscriber of group.
func (b *RedisBroker) Publish(ctx context.Context, group string, payload []byte) error {
	return b.rdb.Publish(ctx, Channel(group), payload).Err()
}

// Subscribe returns once Redis has confirmed the subscription, so nothing
// published afterwards is missed.
func (b *RedisBroker) Subscribe(ctx context.Context, group string) (Subscription, error) {
	ps := b.rdb.Subscribe(ctx, Channel(group))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return &redisSubscription{ps: ps, ch: out}, nil
}

type redisSubscription struct {
	ps *redis.PubSub
	ch chan []byte
}

func (s *redisSubscription) Messages() <-chan []byte { return s.ch }
func (s *redisSubscription) Close() error            { return s.ps.Close() }
