// Package playbacktest provides an in-memory audio device for tests.
package playbacktest

import (
	"context"
	"errors"
	"sync"

	"hls-radio/internal/playback"
)

// ErrWriteFailed is returned by writes armed with FailWrites.
var ErrWriteFailed = errors.New("playbacktest: write failed")

// Device records what every sink it opens is given. Writes can be held to
// simulate a device that is busy playing.
type Device struct {
	mu       sync.Mutex
	opens    int
	stops    int
	writes   [][]byte
	inFlight int
	hold     chan struct{}
	fail     int
	openErr  error
}

var _ playback.Device = (*Device)(nil)

// Open returns a new sink, or the error set by FailOpen.
func (d *Device) Open(ctx context.Context) (playback.Sink, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.opens++
	return &sink{dev: d}, nil
}

// Hold makes writes block until Release.
func (d *Device) Hold() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hold == nil {
		d.hold = make(chan struct{})
	}
}

// Release unblocks held writes.
func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hold != nil {
		close(d.hold)
		d.hold = nil
	}
}

// FailWrites makes the next n writes fail with ErrWriteFailed.
func (d *Device) FailWrites(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = n
}

// FailOpen makes Open return err.
func (d *Device) FailOpen(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openErr = err
}

// Writes returns a copy of every successful write, in order.
func (d *Device) Writes() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.writes))
	for i, w := range d.writes {
		out[i] = string(w)
	}
	return out
}

// Opens returns how many sinks were opened.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Stops returns how many sinks were stopped.
func (d *Device) Stops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}

// InFlight returns how many writes are currently held.
func (d *Device) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight
}

type sink struct {
	dev  *Device
	once sync.Once
}

func (s *sink) Write(p []byte) (int, error) {
	d := s.dev
	d.mu.Lock()
	if d.fail > 0 {
		d.fail--
		d.mu.Unlock()
		return 0, ErrWriteFailed
	}
	hold := d.hold
	d.inFlight++
	d.mu.Unlock()

	if hold != nil {
		<-hold
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.inFlight--
	d.writes = append(d.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (s *sink) Stop() error {
	s.once.Do(func() {
		s.dev.mu.Lock()
		s.dev.stops++
		s.dev.mu.Unlock()
	})
	return nil
}
