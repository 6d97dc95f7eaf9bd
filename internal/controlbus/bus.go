// Package controlbus is the small publish/subscribe client the player uses
// for control traffic: channel switches in, playback commands between the
// engine and the consumer, and status out. It is not a broker.
package controlbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Topics used by the player.
const (
	TopicSwitch   = "switch"
	TopicPlayback = "playback"
	TopicSystem   = "system"
)

// Playback commands, published by the engine on TopicPlayback.
const (
	CmdRestart = "restart"
	CmdStop    = "stop"
)

var (
	// ErrClosed is returned by operations on a closed client or a lost connection.
	ErrClosed = errors.New("control bus closed")

	// ErrNotSubscribed is returned by Wait before any Subscribe.
	ErrNotSubscribed = errors.New("control bus: no subscriptions")
)

// Message is one delivery on a subscribed topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Client is one endpoint on the bus. Publish is safe for concurrent use;
// Subscribe and Wait belong to a single goroutine, so goroutines that both
// need to receive dial their own.
type Client interface {
	// Subscribe adds topic to the set Wait delivers from.
	Subscribe(ctx context.Context, topic string) error

	// Wait returns the next message on any subscribed topic. It waits at
	// most timeout; a zero or negative timeout waits until a message
	// arrives or ctx ends. ok is false on timeout.
	Wait(ctx context.Context, timeout time.Duration) (msg Message, ok bool, err error)

	// Publish sends payload on topic without waiting for subscribers.
	Publish(ctx context.Context, topic string, payload []byte) error

	Close() error
}

// Dial connects to the bus at address:
//
//	unix:///run/dqtt/sock, /run/dqtt/sock   dqtt broker on a Unix socket
//	redis://host:6379/0                     Redis pub/sub
//	mem://name                              in-process hub shared by name
func Dial(ctx context.Context, address string, log *slog.Logger) (Client, error) {
	switch {
	case strings.HasPrefix(address, "mem://"):
		return SharedHub(strings.TrimPrefix(address, "mem://"), log).Client(), nil
	case strings.HasPrefix(address, "redis://"), strings.HasPrefix(address, "rediss://"):
		return DialRedis(ctx, address)
	case strings.HasPrefix(address, "unix://"):
		return DialDQTT(ctx, strings.TrimPrefix(address, "unix://"))
	case strings.HasPrefix(address, "/"):
		return DialDQTT(ctx, address)
	default:
		return nil, fmt.Errorf("control bus: unsupported address %q", address)
	}
}

// waitOn implements Client.Wait for backends that deliver into a channel.
// A closed ch or done means the client is gone; done may be nil.
func waitOn(ctx context.Context, ch <-chan Message, done <-chan struct{}, timeout time.Duration) (Message, bool, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case msg, open := <-ch:
		if !open {
			return Message{}, false, ErrClosed
		}
		return msg, true, nil
	case <-done:
		return Message{}, false, ErrClosed
	case <-expired:
		return Message{}, false, nil
	case <-ctx.Done():
		return Message{}, false, ctx.Err()
	}
}
