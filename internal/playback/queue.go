// Package playback moves downloaded segments to the audio device: a bounded
// FIFO between the engine and the consumer, the consumer loop, and the
// device abstraction it writes to.
package playback

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Pop once the queue is closed and empty.
var ErrQueueClosed = errors.New("segment queue closed")

// Segment is one downloaded media segment. Ownership passes from the engine
// to the queue to the consumer; nobody touches Data after handing it on.
type Segment struct {
	Session  string
	Channel  int
	Sequence uint64
	Data     []byte
}

// Queue is a fixed-capacity FIFO of segments. Push blocks while the queue is
// full and Pop blocks while it is empty. A single producer pushes and closes;
// any number of consumers may pop or drain.
type Queue struct {
	ch        chan Segment
	closeOnce sync.Once
}

// NewQueue returns a queue holding at most capacity segments (minimum 1).
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan Segment, capacity)}
}

// Push appends seg, waiting for room. It returns ctx.Err() if ctx ends first.
// Push must not be called after Close.
func (q *Queue) Push(ctx context.Context, seg Segment) error {
	select {
	case q.ch <- seg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop removes the oldest segment, waiting until one is available.
func (q *Queue) Pop(ctx context.Context) (Segment, error) {
	select {
	case seg, ok := <-q.ch:
		if !ok {
			return Segment{}, ErrQueueClosed
		}
		return seg, nil
	case <-ctx.Done():
		return Segment{}, ctx.Err()
	}
}

// TryPop removes the oldest segment without waiting. ok is false when the
// queue is empty; closed is true once the queue is closed and drained.
func (q *Queue) TryPop() (seg Segment, ok bool, closed bool) {
	select {
	case seg, open := <-q.ch:
		if !open {
			return Segment{}, false, true
		}
		return seg, true, false
	default:
		return Segment{}, false, false
	}
}

// Drain discards every queued segment and returns how many were dropped.
func (q *Queue) Drain() int {
	n := 0
	for {
		if _, ok, _ := q.TryPop(); !ok {
			return n
		}
		n++
	}
}

// Len returns the number of queued segments.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Close marks the end of production. Queued segments can still be popped.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}
