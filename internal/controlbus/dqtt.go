package controlbus

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// dqtt frames:
//
//	subscribe        SOH topic EOT
//	publish/deliver  STX topic ETX payload EOT
const (
	soh = 0x01
	stx = 0x02
	etx = 0x03
	eot = 0x04
)

const dqttWriteTimeout = 2 * time.Second

type dqttClient struct {
	conn  net.Conn
	wmu   sync.Mutex
	inbox chan Message
	done  chan struct{}

	closeOnce sync.Once

	subMu      sync.Mutex
	subscribed bool
}

// DialDQTT connects to a dqtt broker listening on the Unix socket at path.
func DialDQTT(ctx context.Context, path string) (Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial dqtt %s: %w", path, err)
	}
	c := &dqttClient{
		conn:  conn,
		inbox: make(chan Message, memInboxSize),
		done:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *dqttClient) readLoop() {
	defer close(c.inbox)
	r := bufio.NewReader(c.conn)
	for {
		msg, err := readFrame(r)
		if err != nil {
			return
		}
		select {
		case c.inbox <- msg:
		case <-c.done:
			return
		}
	}
}

// readFrame reads the next STX topic ETX payload EOT frame, skipping any
// bytes before STX.
func readFrame(r *bufio.Reader) (Message, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return Message{}, err
		}
		if b == stx {
			break
		}
	}
	topic, err := r.ReadBytes(etx)
	if err != nil {
		return Message{}, err
	}
	payload, err := r.ReadBytes(eot)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Topic:   string(topic[:len(topic)-1]),
		Payload: payload[:len(payload)-1],
	}, nil
}

func validFrameField(b []byte) bool {
	return !bytes.ContainsAny(b, string([]byte{soh, stx, etx, eot}))
}

func (c *dqttClient) write(frame []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(dqttWriteTimeout))
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("dqtt write: %w", err)
	}
	return nil
}

func (c *dqttClient) Subscribe(ctx context.Context, topic string) error {
	if topic == "" || !validFrameField([]byte(topic)) {
		return fmt.Errorf("dqtt: invalid topic %q", topic)
	}
	frame := make([]byte, 0, len(topic)+2)
	frame = append(frame, soh)
	frame = append(frame, topic...)
	frame = append(frame, eot)
	if err := c.write(frame); err != nil {
		return err
	}
	c.subMu.Lock()
	c.subscribed = true
	c.subMu.Unlock()
	return nil
}

func (c *dqttClient) Wait(ctx context.Context, timeout time.Duration) (Message, bool, error) {
	c.subMu.Lock()
	subscribed := c.subscribed
	c.subMu.Unlock()
	if !subscribed {
		return Message{}, false, ErrNotSubscribed
	}
	return waitOn(ctx, c.inbox, nil, timeout)
}

func (c *dqttClient) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" || !validFrameField([]byte(topic)) || !validFrameField(payload) {
		return fmt.Errorf("dqtt: topic or payload contains frame delimiters")
	}
	frame := make([]byte, 0, len(topic)+len(payload)+3)
	frame = append(frame, stx)
	frame = append(frame, topic...)
	frame = append(frame, etx)
	frame = append(frame, payload...)
	frame = append(frame, eot)
	return c.write(frame)
}

func (c *dqttClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}
