package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"hls-radio/internal/controlbus"
	"hls-radio/internal/platform/metrics"
)

// DefaultPollInterval bounds how long a playback command can wait behind audio.
const DefaultPollInterval = 50 * time.Millisecond

// Commands is the part of a bus client the consumer needs. It must already
// be subscribed to controlbus.TopicPlayback.
type Commands interface {
	Wait(ctx context.Context, timeout time.Duration) (controlbus.Message, bool, error)
}

// Consumer feeds queued segments to the audio device and obeys playback
// commands. It owns the sink; nothing else writes to it.
type Consumer struct {
	queue    *Queue
	commands Commands
	device   Device
	poll     time.Duration
	log      *slog.Logger
	metrics  *metrics.Metrics

	// session whose segments are played, set by the engine side
	session atomic.Pointer[string]
	// segment taken from the queue while discarding, played next
	carry *Segment
}

// NewConsumer returns a consumer draining q into device. poll <= 0 uses
// DefaultPollInterval. m may be nil.
func NewConsumer(q *Queue, commands Commands, device Device, poll time.Duration, log *slog.Logger, m *metrics.Metrics) *Consumer {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Consumer{
		queue:    q,
		commands: commands,
		device:   device,
		poll:     poll,
		log:      log,
		metrics:  m,
	}
}

// Follow sets the session whose segments the consumer plays. Segments of any
// other session are dropped from the queue unplayed. The engine calls it
// before publishing a restart. Safe for concurrent use.
func (c *Consumer) Follow(session string) {
	c.session.Store(&session)
}

func (c *Consumer) wanted(seg Segment) bool {
	want := c.session.Load()
	return want != nil && seg.Session == *want
}

// Run plays until a stop command arrives or the queue is closed, in which
// case it returns nil. A restart command silences the sink, throws away every
// queued segment not of the followed session and starts a new sink. Errors
// opening the device or reading commands end the run.
func (c *Consumer) Run(ctx context.Context) error {
	for cycle := 1; ; cycle++ {
		sink, err := c.device.Open(ctx)
		if err != nil {
			return fmt.Errorf("open audio device: %w", err)
		}
		c.log.Debug("playback cycle started", slog.Int("cycle", cycle))

		again, err := c.play(ctx, sink)
		if stopErr := sink.Stop(); stopErr != nil {
			c.log.Warn("stop audio device", slog.String("error", stopErr.Error()))
		}
		if err != nil {
			return err
		}
		if !again {
			return nil
		}
	}
}

// play runs one sink cycle. It reports whether a new cycle should follow.
func (c *Consumer) play(ctx context.Context, sink Sink) (bool, error) {
	for {
		seg, ok, closed := c.next()
		if closed {
			c.log.Debug("segment queue closed")
			return false, nil
		}
		if ok {
			c.metrics.SetQueueDepth(c.queue.Len())
			if _, err := sink.Write(seg.Data); err != nil {
				c.log.Warn("audio device write failed, reopening",
					slog.Int("channel", seg.Channel),
					slog.Uint64("sequence", seg.Sequence),
					slog.String("error", err.Error()))
				return true, nil
			}
		}

		msg, ok, err := c.commands.Wait(ctx, c.poll)
		if err != nil {
			return false, fmt.Errorf("wait for playback command: %w", err)
		}
		if !ok {
			continue
		}

		switch string(msg.Payload) {
		case controlbus.CmdRestart:
			n := c.discardStale()
			c.metrics.AddDiscarded(n)
			c.metrics.SetQueueDepth(c.queue.Len())
			c.log.Info("playback restart", slog.Int("discarded", n))
			return true, nil
		case controlbus.CmdStop:
			c.log.Info("playback stop")
			return false, nil
		default:
			c.log.Debug("ignoring playback message", slog.String("payload", string(msg.Payload)))
		}
	}
}

// next returns the next segment to play. Before the first Follow every
// segment plays; after it, segments of other sessions are skipped.
func (c *Consumer) next() (Segment, bool, bool) {
	if c.carry != nil {
		seg := *c.carry
		c.carry = nil
		return seg, true, false
	}
	for {
		seg, ok, closed := c.queue.TryPop()
		if !ok || c.session.Load() == nil || c.wanted(seg) {
			return seg, ok, closed
		}
		c.metrics.AddDiscarded(1)
	}
}

// discardStale drops queued segments not of the followed session. The first
// followed segment stops the scan and is kept for playback.
func (c *Consumer) discardStale() int {
	n := 0
	if c.carry != nil {
		if c.wanted(*c.carry) {
			return 0
		}
		c.carry = nil
		n++
	}
	for {
		seg, ok, _ := c.queue.TryPop()
		if !ok {
			return n
		}
		if c.wanted(seg) {
			c.carry = &seg
			return n
		}
		n++
	}
}
