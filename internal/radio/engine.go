// Package radio ties the pieces together: the engine walks the selected
// channel's playlist and fills the segment queue, and the player drives the
// engine from control bus commands with retry and alerting.
package radio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"hls-radio/internal/hls"
	"hls-radio/internal/platform/config"
	"hls-radio/internal/platform/metrics"
	"hls-radio/internal/playback"
)

// ErrNoSession is returned by Step before the first ChangeChannel.
var ErrNoSession = errors.New("no channel selected")

// Engine owns the session of the selected channel. It is driven by one
// goroutine and is not safe for concurrent use.
type Engine struct {
	cfg     *config.Config
	client  *hls.Client
	queue   *playback.Queue
	refresh time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics

	channel config.Channel
	session *hls.Session
	limiter *rate.Limiter
}

// NewEngine returns an engine feeding q. m may be nil.
func NewEngine(cfg *config.Config, client *hls.Client, q *playback.Queue, log *slog.Logger, m *metrics.Metrics) *Engine {
	refresh := cfg.RefreshInterval
	if refresh <= 0 {
		refresh = config.DefaultRefreshInterval
	}
	return &Engine{
		cfg:     cfg,
		client:  client,
		queue:   q,
		refresh: refresh,
		log:     log,
		metrics: m,
	}
}

// ChangeChannel throws away the current session and starts an unresolved one
// for channel ch. The manifest is resolved by the next Step.
func (e *Engine) ChangeChannel(ch int) error {
	c, err := e.cfg.Channel(ch)
	if err != nil {
		return err
	}
	s, err := hls.NewSession(ch, c.ManifestURL)
	if err != nil {
		return err
	}
	e.channel = c
	e.session = s
	e.limiter = rate.NewLimiter(rate.Every(e.refresh), 1)
	e.metrics.SetChannel(ch)
	e.log.Info("channel changed",
		slog.Int("channel", ch),
		slog.String("name", c.Name),
		slog.String("session_id", s.ID))
	return nil
}

// Session returns the current session, nil before the first ChangeChannel.
func (e *Engine) Session() *hls.Session {
	return e.session
}

// Channel returns the configuration of the selected channel.
func (e *Engine) Channel() config.Channel {
	return e.channel
}

// Step does one unit of work and reports whether the stream is still
// playing:
//
//   - unresolved session: resolve the manifest
//   - pending segments: fetch the oldest and push it onto the queue
//   - nothing pending, stream live: refresh the media playlist
//   - nothing pending, stream ended: report finished
//
// Errors leave the session consistent; calling Step again retries. A segment
// whose fetch fails is not fetched again.
func (e *Engine) Step(ctx context.Context) (bool, error) {
	s := e.session
	if s == nil {
		return false, ErrNoSession
	}

	if !s.Resolved() {
		u, err := e.client.ResolveManifest(ctx, s.ManifestURL, e.cfg.TargetBandwidth)
		if err != nil {
			return true, err
		}
		s.MediaURL = u
		e.log.Info("manifest resolved",
			slog.String("session_id", s.ID),
			slog.String("media_url", u.String()))
		return true, nil
	}

	if ref, ok := s.Next(); ok {
		data, err := e.client.FetchSegment(ctx, ref.URL)
		if err != nil {
			return true, err
		}
		seg := playback.Segment{Session: s.ID, Channel: s.Channel, Sequence: ref.Sequence, Data: data}
		if err := e.queue.Push(ctx, seg); err != nil {
			return true, fmt.Errorf("queue segment: %w", err)
		}
		e.metrics.ObserveSegment(len(data))
		e.metrics.SetQueueDepth(e.queue.Len())
		return true, nil
	}

	if s.EndList {
		e.log.Info("end of stream", slog.String("session_id", s.ID))
		return false, nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return true, err
	}
	pl, err := e.client.FetchMediaPlaylist(ctx, s.MediaURL)
	if err != nil {
		return true, err
	}
	n, err := s.Refresh(pl)
	if err != nil {
		return true, err
	}
	e.metrics.IncPlaylistRefreshes()
	e.log.Debug("playlist refreshed",
		slog.String("session_id", s.ID),
		slog.Int("new_segments", n),
		slog.Uint64("seq", s.Seq),
		slog.String("state", s.State().String()))
	return true, nil
}
