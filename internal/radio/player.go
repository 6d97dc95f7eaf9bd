package radio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"hls-radio/internal/controlbus"
	"hls-radio/internal/hls"
	"hls-radio/internal/platform/config"
	"hls-radio/internal/platform/logger"
	"hls-radio/internal/platform/metrics"
	"hls-radio/internal/playback"
)

// ErrConsumerStopped is returned by Run when the audio consumer exits while
// a channel is still playing. Audio output is lost; the process should exit.
var ErrConsumerStopped = errors.New("audio consumer stopped unexpectedly")

// DefaultSwitchPoll is how long the engine waits for a switch command between
// steps.
const DefaultSwitchPoll = time.Millisecond

// DialFunc opens a new control bus client. The player dials one client for
// itself and one per playback run for the consumer.
type DialFunc func(ctx context.Context) (controlbus.Client, error)

// PlayerOptions configures a Player. Config, Client, Dial, Device and Log
// are required.
type PlayerOptions struct {
	Config  *config.Config
	Client  *hls.Client
	Dial    DialFunc
	Device  playback.Device
	Log     *slog.Logger
	Metrics *metrics.Metrics

	// ConsumerPoll is the consumer's command poll interval,
	// playback.DefaultPollInterval when zero.
	ConsumerPoll time.Duration
	// SwitchPoll is DefaultSwitchPoll when zero.
	SwitchPoll time.Duration
}

// Player waits for channel selections on the switch topic and plays them.
// Each selection starts a playback run: a fresh queue, a consumer goroutine
// with its own bus client, and the engine. A run ends on "channel=0", at the
// end of the stream once the queued audio has played, or on shutdown. Switch
// commands are served for the whole run, including the playout after the
// end of the stream.
type Player struct {
	cfg          *config.Config
	client       *hls.Client
	dial         DialFunc
	device       playback.Device
	log          *slog.Logger
	metrics      *metrics.Metrics
	consumerPoll time.Duration
	switchPoll   time.Duration

	status *statusBoard

	// engine goroutine only
	failures int
	alerted  bool
}

// NewPlayer returns a player for opts.
func NewPlayer(opts PlayerOptions) *Player {
	switchPoll := opts.SwitchPoll
	if switchPoll <= 0 {
		switchPoll = DefaultSwitchPoll
	}
	return &Player{
		cfg:          opts.Config,
		client:       opts.Client,
		dial:         opts.Dial,
		device:       opts.Device,
		log:          opts.Log,
		metrics:      opts.Metrics,
		consumerPoll: opts.ConsumerPoll,
		switchPoll:   switchPoll,
		status:       newStatusBoard(),
	}
}

// Status returns a snapshot of the player state. Safe for concurrent use.
func (p *Player) Status() Status {
	return p.status.snapshot()
}

// Run serves channel selections until ctx ends or a fatal error occurs. It
// returns ctx's error on shutdown and ErrConsumerStopped if audio output died.
func (p *Player) Run(ctx context.Context) error {
	ctl, err := p.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial control bus: %w", err)
	}
	defer ctl.Close()

	if err := ctl.Subscribe(ctx, controlbus.TopicSwitch); err != nil {
		return fmt.Errorf("subscribe %s: %w", controlbus.TopicSwitch, err)
	}
	p.log.Info("waiting for channel selection")

	for {
		msg, ok, err := ctl.Wait(ctx, 0)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		ch, valid := controlbus.ParseChannel(msg.Payload)
		if !valid {
			p.log.Debug("ignoring switch message", slog.String("payload", string(msg.Payload)))
			continue
		}
		if ch == 0 {
			continue
		}
		for ch != 0 {
			if ch, err = p.play(ctx, ctl, ch); err != nil {
				return err
			}
		}
		p.log.Info("playback stopped, waiting for channel selection")
	}
}

// run is what the engine goroutine of one playback run works with.
type run struct {
	ctl      controlbus.Client
	engine   *Engine
	queue    *playback.Queue
	consumer *playback.Consumer
}

// play runs one playback run for channel ch. It returns the channel to play
// next when a selection arrived after the stream had ended, 0 otherwise.
func (p *Player) play(ctx context.Context, ctl controlbus.Client, ch int) (int, error) {
	queue := playback.NewQueue(p.cfg.QueueLength)
	engine := NewEngine(p.cfg, p.client, queue, logger.Component(p.log, "engine"), p.metrics)
	if err := engine.ChangeChannel(ch); err != nil {
		p.log.Warn("channel selection rejected", slog.Int("channel", ch), slog.String("error", err.Error()))
		return 0, nil
	}

	cmds, err := p.dial(ctx)
	if err != nil {
		return 0, fmt.Errorf("dial control bus: %w", err)
	}
	defer cmds.Close()
	if err := cmds.Subscribe(ctx, controlbus.TopicPlayback); err != nil {
		return 0, fmt.Errorf("subscribe %s: %w", controlbus.TopicPlayback, err)
	}
	consumer := playback.NewConsumer(queue, cmds, p.device, p.consumerPoll, logger.Component(p.log, "consumer"), p.metrics)
	consumer.Follow(engine.Session().ID)
	r := &run{ctl: ctl, engine: engine, queue: queue, consumer: consumer}

	var finished atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	// cancelled once the consumer returns, which ends the playout wait
	consumerCtx, consumerDone := context.WithCancel(gctx)
	defer consumerDone()

	g.Go(func() error {
		defer consumerDone()
		err := consumer.Run(gctx)
		switch {
		case finished.Load(), gctx.Err() != nil:
			return nil
		case err != nil:
			return fmt.Errorf("%w: %w", ErrConsumerStopped, err)
		default:
			return ErrConsumerStopped
		}
	})

	var next int
	g.Go(func() error {
		ended, err := p.drive(gctx, r)
		finished.Store(true)
		if !ended {
			p.stopPlayback(gctx, r)
			queue.Close()
			return err
		}

		// the consumer plays out what is queued, unless told otherwise
		queue.Close()
		next, err = p.playout(consumerCtx, r)
		if errors.Is(err, context.Canceled) && gctx.Err() == nil {
			return nil
		}
		return err
	})

	err = g.Wait()
	p.metrics.SetChannel(0)
	p.metrics.SetQueueDepth(0)
	p.status.update(func(s *Status) {
		s.Channel = 0
		s.ChannelName = ""
		s.SessionID = ""
		s.State = StateIdle
		s.QueueDepth = 0
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// drive steps the engine until the run ends. It reports true when the stream
// itself finished rather than a stop command or shutdown.
func (p *Player) drive(ctx context.Context, r *run) (bool, error) {
	p.publishStatus(r.engine, r.queue)
	for {
		msg, ok, err := r.ctl.Wait(ctx, p.switchPoll)
		if err != nil {
			return false, err
		}
		if ok && p.handleSwitch(ctx, r, msg) {
			return false, nil
		}

		playing, err := r.engine.Step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			p.recordFailure(ctx, r.ctl, r.engine, err)

			// back off, but a switch command cuts the wait short
			msg, ok, werr := r.ctl.Wait(ctx, p.cfg.RetryBackoff)
			if werr != nil {
				return false, werr
			}
			if ok && p.handleSwitch(ctx, r, msg) {
				return false, nil
			}
			continue
		}

		p.recordSuccess(ctx, r.ctl)
		p.publishStatus(r.engine, r.queue)
		if !playing {
			return true, nil
		}
	}
}

// handleSwitch applies a switch message and reports whether the run should
// stop. A new channel empties the queue, points the consumer at the new
// session and restarts playback before the engine fetches anything for it.
func (p *Player) handleSwitch(ctx context.Context, r *run, msg controlbus.Message) bool {
	ch, ok := p.parseSwitch(msg)
	if !ok {
		return false
	}
	if ch == 0 {
		p.log.Info("stop requested")
		return true
	}

	p.metrics.AddDiscarded(r.queue.Drain())
	if err := r.engine.ChangeChannel(ch); err != nil {
		p.log.Warn("channel change failed", slog.Int("channel", ch), slog.String("error", err.Error()))
		return false
	}
	r.consumer.Follow(r.engine.Session().ID)
	if err := r.ctl.Publish(ctx, controlbus.TopicPlayback, []byte(controlbus.CmdRestart)); err != nil {
		p.log.Warn("publish restart", slog.String("error", err.Error()))
	}
	return false
}

// playout serves the switch topic while the consumer plays what is left of
// an ended stream. A stop or a new selection silences it at once; the
// selected channel is returned so that Run plays it next.
func (p *Player) playout(ctx context.Context, r *run) (int, error) {
	for {
		msg, ok, err := r.ctl.Wait(ctx, 0)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		ch, valid := p.parseSwitch(msg)
		if !valid {
			continue
		}
		p.log.Info("selection during playout", slog.Int("channel", ch))
		p.stopPlayback(ctx, r)
		return ch, nil
	}
}

// parseSwitch returns the channel a switch message selects, 0 for stop. It
// reports false for malformed payloads and unknown channels.
func (p *Player) parseSwitch(msg controlbus.Message) (int, bool) {
	ch, ok := controlbus.ParseChannel(msg.Payload)
	if !ok {
		p.log.Debug("ignoring switch message", slog.String("payload", string(msg.Payload)))
		return 0, false
	}
	if ch == 0 {
		return 0, true
	}
	if _, err := p.cfg.Channel(ch); err != nil {
		p.log.Warn("channel selection rejected", slog.Int("channel", ch), slog.String("error", err.Error()))
		return 0, false
	}
	return ch, true
}

// stopPlayback tells the consumer to stop and drops whatever is still queued.
func (p *Player) stopPlayback(ctx context.Context, r *run) {
	if err := r.ctl.Publish(context.WithoutCancel(ctx), controlbus.TopicPlayback, []byte(controlbus.CmdStop)); err != nil {
		p.log.Warn("publish stop", slog.String("error", err.Error()))
	}
	p.metrics.AddDiscarded(r.queue.Drain())
}

func (p *Player) recordFailure(ctx context.Context, ctl controlbus.Client, engine *Engine, err error) {
	p.failures++
	kind := hls.KindOf(err)
	p.metrics.IncFetchErrors(kind.String())

	attrs := []any{
		slog.String("error", err.Error()),
		slog.String("kind", kind.String()),
		slog.Int("consecutive", p.failures),
		slog.Duration("backoff", p.cfg.RetryBackoff),
	}
	if s := engine.Session(); s != nil {
		attrs = append(attrs, slog.String("session_id", s.ID))
	}
	p.log.Warn("session step failed", attrs...)

	if p.failures == p.cfg.NetworkErrorThreshold {
		p.alerted = true
		p.metrics.IncNetworkAlerts()
		p.log.Error("network error threshold reached", slog.Int("consecutive", p.failures))
		if perr := ctl.Publish(ctx, controlbus.TopicSystem, controlbus.NetworkErrorPayload(true)); perr != nil {
			p.log.Warn("publish network alert", slog.String("error", perr.Error()))
		}
	}

	p.status.update(func(s *Status) {
		s.ConsecutiveErrors = p.failures
		s.NetworkError = p.alerted
		s.LastError = err.Error()
	})
}

func (p *Player) recordSuccess(ctx context.Context, ctl controlbus.Client) {
	if p.failures == 0 && !p.alerted {
		return
	}
	p.failures = 0
	if p.alerted {
		p.alerted = false
		p.log.Info("network recovered")
		if err := ctl.Publish(ctx, controlbus.TopicSystem, controlbus.NetworkErrorPayload(false)); err != nil {
			p.log.Warn("publish network recovery", slog.String("error", err.Error()))
		}
	}
	p.status.update(func(s *Status) {
		s.ConsecutiveErrors = 0
		s.NetworkError = false
	})
}

func (p *Player) publishStatus(engine *Engine, queue *playback.Queue) {
	s := engine.Session()
	if s == nil {
		return
	}
	state := StateResolving
	if s.Resolved() {
		state = s.State().String()
	}
	name := engine.Channel().Name
	depth := queue.Len()
	p.status.update(func(st *Status) {
		st.Channel = s.Channel
		st.ChannelName = name
		st.SessionID = s.ID
		st.State = state
		st.QueueDepth = depth
	})
}
