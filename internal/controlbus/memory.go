package controlbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	memInboxSize = 64
	dropLogEvery = 100
)

// Hub is an in-process bus. Clients of the same Hub see each other's
// publications; a full subscriber inbox drops the message rather than block
// the publisher.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string][]*memClient
	log     *slog.Logger
	dropped atomic.Uint64
}

var (
	hubsMu sync.Mutex
	hubs   = map[string]*Hub{}
)

// NewHub returns an empty hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{subs: make(map[string][]*memClient), log: log}
}

// SharedHub returns the process-wide hub called name, creating it on first use.
func SharedHub(name string, log *slog.Logger) *Hub {
	hubsMu.Lock()
	defer hubsMu.Unlock()
	h, ok := hubs[name]
	if !ok {
		h = NewHub(log)
		hubs[name] = h
	}
	return h
}

// Client returns a new endpoint on h.
func (h *Hub) Client() Client {
	return &memClient{
		hub:    h,
		inbox:  make(chan Message, memInboxSize),
		topics: make(map[string]bool),
		done:   make(chan struct{}),
	}
}

// Subscribers returns the number of clients subscribed to topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// Dropped returns how many deliveries were dropped on full inboxes.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) publish(topic string, payload []byte) {
	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}

	h.mu.RLock()
	subs := append([]*memClient(nil), h.subs[topic]...)
	h.mu.RUnlock()

	for _, c := range subs {
		select {
		case c.inbox <- msg:
		case <-c.done:
		default:
			count := h.dropped.Add(1)
			if count%dropLogEvery == 1 && h.log != nil {
				h.log.Warn("control bus subscriber inbox full, message dropped",
					slog.String("topic", topic),
					slog.Uint64("dropped", count))
			}
		}
	}
}

func (h *Hub) subscribe(topic string, c *memClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[topic] = append(h.subs[topic], c)
}

func (h *Hub) remove(c *memClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, lst := range h.subs {
		out := lst[:0]
		for _, s := range lst {
			if s != c {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			delete(h.subs, topic)
		} else {
			h.subs[topic] = out
		}
	}
}

type memClient struct {
	hub       *Hub
	inbox     chan Message
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	topics map[string]bool
}

func (c *memClient) Subscribe(ctx context.Context, topic string) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.topics[topic] {
		return nil
	}
	c.topics[topic] = true
	c.hub.subscribe(topic, c)
	return nil
}

func (c *memClient) Wait(ctx context.Context, timeout time.Duration) (Message, bool, error) {
	c.mu.Lock()
	subscribed := len(c.topics) > 0
	c.mu.Unlock()
	if !subscribed {
		return Message{}, false, ErrNotSubscribed
	}

	return waitOn(ctx, c.inbox, c.done, timeout)
}

func (c *memClient) Publish(ctx context.Context, topic string, payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.hub.publish(topic, payload)
	return nil
}

func (c *memClient) Close() error {
	c.closeOnce.Do(func() {
		c.hub.remove(c)
		close(c.done)
	})
	return nil
}
