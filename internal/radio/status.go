package radio

import (
	"sync"
	"time"
)

// Status is a point-in-time view of the player for the status endpoint.
type Status struct {
	Channel           int       `json:"channel"`
	ChannelName       string    `json:"channel_name,omitempty"`
	SessionID         string    `json:"session_id,omitempty"`
	State             string    `json:"state"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	NetworkError      bool      `json:"network_error"`
	QueueDepth        int       `json:"queue_depth"`
	LastError         string    `json:"last_error,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Player states reported in Status.State. Session walk states (active,
// draining, ended) are reported while a channel is playing.
const (
	StateIdle      = "idle"
	StateResolving = "resolving"
)

// statusBoard is the concurrency-safe holder of the player's Status. The
// player writes; HTTP handlers read snapshots.
type statusBoard struct {
	mu sync.RWMutex
	st Status
}

func newStatusBoard() *statusBoard {
	return &statusBoard{st: Status{State: StateIdle, UpdatedAt: time.Now().UTC()}}
}

// update applies fn to the status under the write lock.
func (b *statusBoard) update(fn func(*Status)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.st)
	b.st.UpdatedAt = time.Now().UTC()
}

// snapshot returns a copy of the current status.
func (b *statusBoard) snapshot() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.st
}
