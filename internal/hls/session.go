package hls

import (
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/mogiioin/hls-m3u8/m3u8"
)

// State is where a Session is in its media playlist walk.
type State int

const (
	// Active sessions are still accumulating segments from playlist refreshes.
	Active State = iota
	// Draining sessions reached the end of the stream with segments still pending.
	Draining
	// Ended sessions have nothing left to fetch; a channel change is required.
	Ended
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Draining:
		return "draining"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Session is the playback state of one channel selection. It is owned by a
// single engine goroutine and replaced wholesale on every channel change.
type Session struct {
	ID          string
	Channel     int
	ManifestURL *url.URL

	// MediaURL is nil until the manifest has been resolved.
	MediaURL *url.URL

	// Seq is one past the highest media sequence number seen in the last
	// walk, the floor for queueing segments on the next refresh.
	Seq     uint64
	EndList bool

	pending []Ref
	// media sequence of the last refreshed playlist
	windowStart uint64
	walked      bool
}

// Ref is a segment waiting to be fetched.
type Ref struct {
	Sequence uint64
	URL      *url.URL
}

// NewSession starts a session for channel whose manifest lives at manifestURL.
func NewSession(channel int, manifestURL string) (*Session, error) {
	u, err := url.Parse(manifestURL)
	if err != nil {
		return nil, &Error{Op: "manifest", URL: manifestURL, Kind: KindURL, Err: fmt.Errorf("%w: %v", ErrInvalidURL, err)}
	}
	return &Session{
		ID:          uuid.NewString(),
		Channel:     channel,
		ManifestURL: u,
	}, nil
}

// Resolved reports whether the media playlist URL is known.
func (s *Session) Resolved() bool {
	return s.MediaURL != nil
}

// Pending returns the number of segment URLs not yet fetched.
func (s *Session) Pending() int {
	return len(s.pending)
}

// Next removes and returns the oldest pending segment.
func (s *Session) Next() (Ref, bool) {
	if len(s.pending) == 0 {
		return Ref{}, false
	}
	r := s.pending[0]
	s.pending[0] = Ref{}
	s.pending = s.pending[1:]
	return r, true
}

// State derives the walk state from the end flag and the pending list.
func (s *Session) State() State {
	switch {
	case !s.EndList:
		return Active
	case len(s.pending) > 0:
		return Draining
	default:
		return Ended
	}
}

// Refresh walks pl in document order and queues every segment whose sequence
// number is at least s.Seq. A media sequence lower than the previous
// playlist's means the origin restarted its numbering: the floor drops to the
// new window and all of it is queued. A discontinuity stops the walk and ends the
// stream: playing past it would need a decoder restart. Segment URIs are
// resolved against the media URL. On error the session is left unchanged.
// It returns the number of segments queued.
func (s *Session) Refresh(pl *m3u8.MediaPlaylist) (int, error) {
	if s.MediaURL == nil {
		return 0, fmt.Errorf("refresh session %s: media url not resolved", s.ID)
	}

	floor := s.Seq
	if s.walked && pl.SeqNo < s.windowStart {
		floor = pl.SeqNo
	}

	seq := pl.SeqNo
	var added []Ref
	discontinuity := false

	for _, seg := range pl.GetAllSegments() {
		if seg == nil {
			break
		}
		if seg.Discontinuity {
			discontinuity = true
			break
		}
		if seq >= floor {
			u, err := resolve(s.MediaURL, seg.URI)
			if err != nil {
				return 0, &Error{Op: "playlist", URL: seg.URI, Kind: KindURL, Err: err}
			}
			added = append(added, Ref{Sequence: seq, URL: u})
		}
		seq++
	}

	s.pending = append(s.pending, added...)
	s.Seq = max(floor, seq)
	s.windowStart = pl.SeqNo
	s.walked = true
	s.EndList = discontinuity || pl.Closed
	return len(added), nil
}
