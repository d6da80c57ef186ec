package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"dollarnow/internal/quote"
)

// Mode selects the polling cadence.
type Mode int

const (
	Visible Mode = iota
	Hidden
	Worker
)

func (m Mode) String() string {
	switch m {
	case Visible:
		return "visible"
	case Hidden:
		return "hidden"
	case Worker:
		return "worker"
	default:
		return "unknown"
	}
}

// State is the fetch state of the scheduler.
type State int32

const (
	Idle State = iota
	Fetching
)

func (s State) String() string {
	if s == Fetching {
		return "fetching"
	}
	return "idle"
}

// Options tune scheduler behaviour.
type Options struct {
	Mode            Mode
	VisibleInterval time.Duration
	HiddenInterval  time.Duration
	WorkerInterval  time.Duration
	// FallbackDelay is the wait before trying the next endpoint.
	FallbackDelay time.Duration
	// RecoveryDelay is the wait before a last-resort retry when no quote was ever obtained.
	RecoveryDelay time.Duration

	OnQuote   func(q quote.Quote)
	OnFailure func(err error)
	OnDropped func(reason string)
}

func (o *Options) applyDefaults() {
	if o.VisibleInterval <= 0 {
		o.VisibleInterval = 30 * time.Second
	}
	if o.HiddenInterval <= 0 {
		o.HiddenInterval = 60 * time.Second
	}
	if o.WorkerInterval <= 0 {
		o.WorkerInterval = 60 * time.Second
	}
	if o.FallbackDelay <= 0 {
		o.FallbackDelay = time.Second
	}
	if o.RecoveryDelay <= 0 {
		o.RecoveryDelay = 5 * time.Second
	}
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdTrigger
	cmdSetMode
)

type command struct {
	kind commandKind
	mode Mode
}

type result struct {
	quote quote.Quote
	err   error
}

// Scheduler polls a quote fetcher with at most one fetch in flight.
//
// Transitions handled by the loop:
//
//	Idle     + tick|trigger|retry  -> Fetching, launch fetch
//	Fetching + tick|trigger|retry  -> Fetching, drop
//	Fetching + success             -> Idle, OnQuote, cancel retry
//	Fetching + retryable failure   -> Idle, arm fallback retry
//	Fetching + exhausted failure   -> Idle, OnFailure, arm recovery retry if no quote yet
//	any      + SetMode(Visible)    -> rearm interval, fetch now when Idle
//	any      + SetMode(Hidden)     -> rearm interval
//	any      + Stop                -> disarm interval and retry
//
// Once stopped, an in-flight result is still delivered but failures arm no retry.
type Scheduler struct {
	fetcher quote.Fetcher
	opts    Options
	logger  zerolog.Logger

	control chan command
	results chan result
	done    chan struct{}
	state   atomic.Int32
	mode    atomic.Int32
}

// New constructs a Scheduler instance.
func New(fetcher quote.Fetcher, opts Options, logger zerolog.Logger) *Scheduler {
	if fetcher == nil {
		panic("scheduler requires a fetcher")
	}
	opts.applyDefaults()
	s := &Scheduler{
		fetcher: fetcher,
		opts:    opts,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		control: make(chan command, 16),
		results: make(chan result, 1),
		done:    make(chan struct{}),
	}
	s.mode.Store(int32(opts.Mode))
	return s
}

// State reports whether a fetch is in flight.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Mode reports the current polling mode.
func (s *Scheduler) Mode() Mode {
	return Mode(s.mode.Load())
}

// Start fetches immediately and arms the interval for the current mode.
func (s *Scheduler) Start() { s.send(command{kind: cmdStart}) }

// Stop cancels pending timers. A fetch already in flight still delivers its result.
func (s *Scheduler) Stop() { s.send(command{kind: cmdStop}) }

// Trigger requests an immediate fetch; dropped while one is in flight.
func (s *Scheduler) Trigger() { s.send(command{kind: cmdTrigger}) }

// SetMode switches cadence.
func (s *Scheduler) SetMode(mode Mode) { s.send(command{kind: cmdSetMode, mode: mode}) }

func (s *Scheduler) send(cmd command) {
	select {
	case s.control <- cmd:
	case <-s.done:
	}
}

func (s *Scheduler) interval(mode Mode) time.Duration {
	switch mode {
	case Visible:
		return s.opts.VisibleInterval
	case Hidden:
		return s.opts.HiddenInterval
	default:
		return s.opts.WorkerInterval
	}
}

// Run blocks, processing commands and timers until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.done)

	var (
		running   bool
		succeeded bool
		ticker    *time.Ticker
		tick      <-chan time.Time
		retry     *time.Timer
		retryC    <-chan time.Time
	)

	disarmInterval := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
	}
	armInterval := func() {
		disarmInterval()
		ticker = time.NewTicker(s.interval(s.Mode()))
		tick = ticker.C
	}
	disarmRetry := func() {
		if retry != nil {
			retry.Stop()
			retry, retryC = nil, nil
		}
	}
	armRetry := func(delay time.Duration) {
		disarmRetry()
		retry = time.NewTimer(delay)
		retryC = retry.C
	}
	fetch := func(reason string) {
		if s.State() == Fetching {
			s.logger.Debug().Str("reason", reason).Msg("fetch already in flight, dropping")
			if s.opts.OnDropped != nil {
				s.opts.OnDropped(reason)
			}
			return
		}
		s.state.Store(int32(Fetching))
		go func() {
			q, err := s.fetcher.FetchQuote(ctx)
			s.results <- result{quote: q, err: err}
		}()
	}

	defer disarmInterval()
	defer disarmRetry()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case cmd := <-s.control:
			switch cmd.kind {
			case cmdStart:
				running = true
				armInterval()
				fetch("start")
			case cmdStop:
				running = false
				disarmInterval()
				disarmRetry()
			case cmdTrigger:
				fetch("trigger")
			case cmdSetMode:
				s.mode.Store(int32(cmd.mode))
				s.logger.Debug().Str("mode", cmd.mode.String()).Msg("mode changed")
				if !running {
					continue
				}
				armInterval()
				if cmd.mode == Visible {
					fetch("visible")
				}
			}

		case <-tick:
			fetch("interval")

		case <-retryC:
			retry, retryC = nil, nil
			fetch("retry")

		case res := <-s.results:
			s.state.Store(int32(Idle))
			switch {
			case res.err == nil:
				succeeded = true
				disarmRetry()
				if s.opts.OnQuote != nil {
					s.opts.OnQuote(res.quote)
				}
			case ctx.Err() != nil:
				return ctx.Err()
			case quote.IsRetryable(res.err):
				if !running {
					s.logger.Debug().Err(res.err).Msg("endpoint failed after stop, not retrying")
					continue
				}
				s.logger.Warn().Err(res.err).Dur("delay", s.opts.FallbackDelay).Msg("endpoint failed, trying next")
				armRetry(s.opts.FallbackDelay)
			default:
				s.logger.Error().Err(res.err).Msg("all endpoints failed")
				if s.opts.OnFailure != nil {
					s.opts.OnFailure(res.err)
				}
				if running && !succeeded {
					armRetry(s.opts.RecoveryDelay)
				}
			}
		}
	}
}
