package controlbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisClient struct {
	rdb *redis.Client

	mu sync.Mutex
	ps *redis.PubSub
	ch <-chan *redis.Message
}

// DialRedis connects to the Redis server at a redis:// URL and checks it answers.
func DialRedis(ctx context.Context, address string) (Client, error) {
	opts, err := redis.ParseURL(address)
	if err != nil {
		return nil, fmt.Errorf("parse redis address: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return &redisClient{rdb: rdb}, nil
}

func (c *redisClient) Subscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ps == nil {
		c.ps = c.rdb.Subscribe(ctx, topic)
	} else if err := c.ps.Subscribe(ctx, topic); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", topic, err)
	}
	// Until Wait starts the delivery channel, confirm the subscription so
	// publications made right after Subscribe returns are not missed.
	if c.ch == nil {
		if _, err := c.ps.Receive(ctx); err != nil {
			return fmt.Errorf("redis subscribe %s: %w", topic, err)
		}
	}
	return nil
}

func (c *redisClient) Wait(ctx context.Context, timeout time.Duration) (Message, bool, error) {
	c.mu.Lock()
	if c.ps == nil {
		c.mu.Unlock()
		return Message{}, false, ErrNotSubscribed
	}
	if c.ch == nil {
		c.ch = c.ps.Channel()
	}
	ch := c.ch
	c.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case m, open := <-ch:
		if !open {
			return Message{}, false, ErrClosed
		}
		return Message{Topic: m.Channel, Payload: []byte(m.Payload)}, true, nil
	case <-expired:
		return Message{}, false, nil
	case <-ctx.Done():
		return Message{}, false, ctx.Err()
	}
}

func (c *redisClient) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := c.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

func (c *redisClient) Close() error {
	c.mu.Lock()
	ps := c.ps
	c.mu.Unlock()
	if ps != nil {
		_ = ps.Close()
	}
	return c.rdb.Close()
}
