package controlbus

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBroker accepts one connection and hands it to the test.
func fakeBroker(t *testing.T) (string, <-chan net.Conn) {
	t.Helper()
	dir, err := os.MkdirTemp("", "dqtt")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	path := filepath.Join(dir, "sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	conns := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			conns <- c
		}
	}()
	return path, conns
}

func acceptConn(t *testing.T, conns <-chan net.Conn) net.Conn {
	t.Helper()
	select {
	case c := <-conns:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("broker did not accept")
		return nil
	}
}

func TestDQTT_subscribe_and_deliver(t *testing.T) {
	ctx := context.Background()
	path, conns := fakeBroker(t)

	c, err := Dial(ctx, "unix://"+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	broker := acceptConn(t, conns)

	require.NoError(t, c.Subscribe(ctx, TopicSwitch))

	r := bufio.NewReader(broker)
	_ = broker.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := r.ReadString(eot)
	require.NoError(t, err)
	assert.Equal(t, "\x01switch\x04", frame)

	// noise before STX is skipped
	_, err = broker.Write([]byte("junk\x02switch\x03channel=3\x04\x02switch\x03channel=0\x04"))
	require.NoError(t, err)

	msg, ok, err := c.Wait(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Message{Topic: "switch", Payload: []byte("channel=3")}, msg)

	msg, ok, err = c.Wait(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "channel=0", string(msg.Payload))

	_, ok, err = c.Wait(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDQTT_publish_frame(t *testing.T) {
	ctx := context.Background()
	path, conns := fakeBroker(t)

	c, err := DialDQTT(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	broker := acceptConn(t, conns)

	require.NoError(t, c.Publish(ctx, TopicSystem, NetworkErrorPayload(true)))

	r := bufio.NewReader(broker)
	_ = broker.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := r.ReadString(eot)
	require.NoError(t, err)
	assert.Equal(t, "\x02system\x03network_error=true\x04", frame)

	assert.Error(t, c.Publish(ctx, TopicSystem, []byte("bad\x04payload")))
	assert.Error(t, c.Subscribe(ctx, ""))
}

func TestDQTT_broker_hangup(t *testing.T) {
	ctx := context.Background()
	path, conns := fakeBroker(t)

	c, err := DialDQTT(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	broker := acceptConn(t, conns)
	require.NoError(t, c.Subscribe(ctx, TopicPlayback))

	require.NoError(t, broker.Close())
	_, _, err = c.Wait(ctx, 2*time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDQTT_dial_failure(t *testing.T) {
	_, err := Dial(context.Background(), filepath.Join(t.TempDir(), "nobody-home"), nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "dial dqtt"))
}
