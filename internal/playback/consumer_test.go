package playback_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"hls-radio/internal/controlbus"
	"hls-radio/internal/playback"
	"hls-radio/internal/playback/playbacktest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const poll = 5 * time.Millisecond

type harness struct {
	queue    *playback.Queue
	device   *playbacktest.Device
	consumer *playback.Consumer
	pub      controlbus.Client
	done     chan error
}

func startConsumer(t *testing.T, capacity int) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	hub := controlbus.NewHub(nil)
	sub := hub.Client()
	pub := hub.Client()
	require.NoError(t, sub.Subscribe(ctx, controlbus.TopicPlayback))

	h := &harness{
		queue:  playback.NewQueue(capacity),
		device: &playbacktest.Device{},
		pub:    pub,
		done:   make(chan error, 1),
	}
	h.consumer = playback.NewConsumer(h.queue, sub, h.device, poll, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	go func() { h.done <- h.consumer.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		h.device.Release()
		<-h.done
		_ = sub.Close()
		_ = pub.Close()
	})
	return h
}

func (h *harness) push(t *testing.T, data ...string) {
	t.Helper()
	h.pushSession(t, "s1", data...)
}

func (h *harness) pushSession(t *testing.T, session string, data ...string) {
	t.Helper()
	for i, d := range data {
		seg := playback.Segment{Session: session, Channel: 1, Sequence: uint64(i), Data: []byte(d)}
		require.NoError(t, h.queue.Push(context.Background(), seg))
	}
}

func (h *harness) publish(t *testing.T, cmd string) {
	t.Helper()
	require.NoError(t, h.pub.Publish(context.Background(), controlbus.TopicPlayback, []byte(cmd)))
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		h.done <- err
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not return")
		return nil
	}
}

func TestConsumer_plays_in_order(t *testing.T) {
	h := startConsumer(t, 4)
	h.push(t, "a", "b", "c")

	assert.Eventually(t, func() bool { return len(h.device.Writes()) == 3 }, time.Second, poll)
	assert.Equal(t, []string{"a", "b", "c"}, h.device.Writes())
	assert.Equal(t, 1, h.device.Opens())
}

func TestConsumer_restart_discards_queued_segments(t *testing.T) {
	h := startConsumer(t, 4)
	h.device.Hold()

	h.push(t, "old-1")
	require.Eventually(t, func() bool { return h.device.InFlight() == 1 }, time.Second, poll)

	// queued behind the busy device, then invalidated
	h.push(t, "old-2", "old-3")
	h.consumer.Follow("s2")
	h.publish(t, controlbus.CmdRestart)
	h.device.Release()

	require.Eventually(t, func() bool { return h.device.Opens() == 2 }, time.Second, poll)
	assert.Equal(t, 0, h.queue.Len())
	assert.Equal(t, 1, h.device.Stops())

	h.pushSession(t, "s2", "new-1", "new-2")
	require.Eventually(t, func() bool { return len(h.device.Writes()) == 3 }, time.Second, poll)
	assert.Equal(t, []string{"old-1", "new-1", "new-2"}, h.device.Writes())
}

func TestConsumer_restart_keeps_newer_session(t *testing.T) {
	h := startConsumer(t, 8)
	h.device.Hold()

	h.push(t, "old-1")
	require.Eventually(t, func() bool { return h.device.InFlight() == 1 }, time.Second, poll)

	// the new session started pushing before the restart was seen
	h.push(t, "old-2")
	h.pushSession(t, "s2", "new-1", "new-2")
	h.consumer.Follow("s2")
	h.publish(t, controlbus.CmdRestart)
	h.device.Release()

	require.Eventually(t, func() bool { return len(h.device.Writes()) == 3 }, time.Second, poll)
	assert.Equal(t, []string{"old-1", "new-1", "new-2"}, h.device.Writes())
	assert.Equal(t, 2, h.device.Opens())
}

func TestConsumer_back_to_back_restarts_keep_latest_session(t *testing.T) {
	h := startConsumer(t, 8)
	h.device.Hold()

	h.pushSession(t, "a", "a-1")
	require.Eventually(t, func() bool { return h.device.InFlight() == 1 }, time.Second, poll)

	// a -> b -> c while the device is busy; b never got to queue anything
	h.consumer.Follow("b")
	h.publish(t, controlbus.CmdRestart)
	h.consumer.Follow("c")
	h.publish(t, controlbus.CmdRestart)
	h.pushSession(t, "c", "c-1", "c-2", "c-3")
	h.device.Release()

	require.Eventually(t, func() bool { return len(h.device.Writes()) == 4 }, time.Second, poll)
	assert.Equal(t, []string{"a-1", "c-1", "c-2", "c-3"}, h.device.Writes())
	assert.Equal(t, 3, h.device.Opens())
	assert.Zero(t, h.queue.Len())
}

func TestConsumer_skips_segments_of_other_sessions(t *testing.T) {
	h := startConsumer(t, 8)
	h.consumer.Follow("s2")
	h.push(t, "stale-1", "stale-2")
	h.pushSession(t, "s2", "fresh")

	require.Eventually(t, func() bool { return len(h.device.Writes()) == 1 }, time.Second, poll)
	assert.Equal(t, []string{"fresh"}, h.device.Writes())
	assert.Equal(t, 1, h.device.Opens())
}

func TestConsumer_stop_returns(t *testing.T) {
	h := startConsumer(t, 2)
	h.push(t, "a")
	require.Eventually(t, func() bool { return len(h.device.Writes()) == 1 }, time.Second, poll)

	h.publish(t, controlbus.CmdStop)
	assert.NoError(t, h.wait(t))
	assert.Equal(t, h.device.Opens(), h.device.Stops())
}

func TestConsumer_closed_queue_returns(t *testing.T) {
	h := startConsumer(t, 2)
	h.push(t, "last")
	h.queue.Close()

	assert.NoError(t, h.wait(t))
	assert.Equal(t, []string{"last"}, h.device.Writes())
	assert.Equal(t, 1, h.device.Stops())
}

func TestConsumer_ignores_unknown_commands(t *testing.T) {
	h := startConsumer(t, 2)
	h.publish(t, "rewind")
	h.push(t, "a")

	require.Eventually(t, func() bool { return len(h.device.Writes()) == 1 }, time.Second, poll)
	assert.Equal(t, 1, h.device.Opens())
}

func TestConsumer_write_failure_reopens_device(t *testing.T) {
	h := startConsumer(t, 4)
	h.device.FailWrites(1)
	h.push(t, "lost", "kept")

	require.Eventually(t, func() bool { return len(h.device.Writes()) == 1 }, time.Second, poll)
	assert.Equal(t, []string{"kept"}, h.device.Writes())
	assert.Equal(t, 2, h.device.Opens())
}

func TestConsumer_open_failure(t *testing.T) {
	hub := controlbus.NewHub(nil)
	sub := hub.Client()
	defer sub.Close()
	require.NoError(t, sub.Subscribe(context.Background(), controlbus.TopicPlayback))

	dev := &playbacktest.Device{}
	boom := errors.New("no sound card")
	dev.FailOpen(boom)

	c := playback.NewConsumer(playback.NewQueue(1), sub, dev, poll, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	err := c.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestConsumer_context_cancel(t *testing.T) {
	hub := controlbus.NewHub(nil)
	sub := hub.Client()
	defer sub.Close()
	require.NoError(t, sub.Subscribe(context.Background(), controlbus.TopicPlayback))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dev := &playbacktest.Device{}
	c := playback.NewConsumer(playback.NewQueue(1), sub, dev, poll, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	assert.ErrorIs(t, c.Run(ctx), context.Canceled)
	assert.Equal(t, 1, dev.Stops())
}
