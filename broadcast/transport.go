package broadcast

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Message is a payload received on a channel.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription is a live set of subscribed channels.
type Subscription interface {
	Add(ctx context.Context, channels ...string) error
	Remove(ctx context.Context, channels ...string) error
	// Messages is closed when the subscription ends.
	Messages() <-chan Message
	Close() error
}

// Transport moves events between clients.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
}

// RedisTransport carries events over redis pub/sub.
type RedisTransport struct {
	rc *redis.Client
}

// NewRedisTransport wraps a redis client.
func NewRedisTransport(rc *redis.Client) *RedisTransport {
	return &RedisTransport{rc: rc}
}

// Publish sends payload to every subscriber of channel.
func (t *RedisTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	return t.rc.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a subscription. When channels are given it returns only
// after redis confirmed the first of them.
func (t *RedisTransport) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	ps := t.rc.Subscribe(ctx, channels...)
	if len(channels) > 0 {
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return nil, err
		}
	}
	sub := &redisSubscription{ps: ps, out: make(chan Message, 64), done: make(chan struct{})}
	go sub.forward()
	return sub, nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	out  chan Message
	done chan struct{}
	once sync.Once
}

func (s *redisSubscription) forward() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		select {
		case s.out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Add(ctx context.Context, channels ...string) error {
	return s.ps.Subscribe(ctx, channels...)
}

func (s *redisSubscription) Remove(ctx context.Context, channels ...string) error {
	return s.ps.Unsubscribe(ctx, channels...)
}

func (s *redisSubscription) Messages() <-chan Message { return s.out }

func (s *redisSubscription) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.ps.Close()
}
