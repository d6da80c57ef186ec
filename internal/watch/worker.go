package watch

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"dollarnow/internal/alert"
	"dollarnow/internal/bridge"
	"dollarnow/internal/metrics"
	"dollarnow/internal/notify"
	"dollarnow/internal/quote"
	"dollarnow/internal/scheduler"
	"dollarnow/internal/storage"
)

// WorkerOptions configures the background context.
type WorkerOptions struct {
	Scheduler scheduler.Options
	Notify    notify.Options
}

// Worker is the background context: it keeps polling with no session attached,
// reading rules and the conversion amount from its durable store.
type Worker struct {
	sched    *scheduler.Scheduler
	store    storage.WorkerStore
	bridge   *bridge.Bridge
	notifier *notify.Dispatcher
	pipeline *Pipeline
	logger   zerolog.Logger

	// ctx is set by Run; store calls made from scheduler callbacks use it.
	ctx  context.Context
	last quote.Quote
}

// NewWorker wires the background context.
func NewWorker(fetcher quote.Fetcher, store storage.WorkerStore, b *bridge.Bridge, opts WorkerOptions, m *metrics.Metrics, logger zerolog.Logger) *Worker {
	w := &Worker{
		store:  store,
		bridge: b,
		logger: logger.With().Str("component", "worker").Logger(),
		ctx:    context.Background(),
	}
	w.pipeline = NewPipeline("worker", nil, m, logger)

	notifyOpts := opts.Notify
	notifyOpts.Conversion = notify.ConversionFunc(w.conversion)
	notifyOpts.OnShown = w.pipeline.ShownHook()
	w.notifier = notify.NewDispatcher(notifyOpts, logger)
	w.pipeline.notifier = w.notifier

	schedOpts := opts.Scheduler
	schedOpts.Mode = scheduler.Worker
	schedOpts.OnQuote = w.onQuote
	schedOpts.OnDropped = func(string) { w.pipeline.RecordDropped() }
	w.sched = scheduler.New(&recordingFetcher{inner: fetcher, pipeline: w.pipeline}, schedOpts, logger)
	return w
}

// Run starts syncing immediately and serves bridge messages until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.ctx = ctx
	w.bridge.SetWorkerActive(true)
	defer w.bridge.SetWorkerActive(false)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.sched.Run(ctx) })
	g.Go(func() error {
		w.sched.Start()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case msg := <-w.bridge.WorkerInbox():
				w.handle(ctx, msg)
			}
		}
	})
	err := g.Wait()
	w.notifier.CloseAll()
	return err
}

func (w *Worker) handle(ctx context.Context, msg bridge.Message) {
	logger := w.logger.With().Str("type", string(msg.Type)).Logger()

	switch msg.Type {
	case bridge.SyncAlerts:
		rules, err := msg.Rules()
		if err != nil {
			logger.Warn().Err(err).Msg("invalid rule payload")
			return
		}
		if err := w.store.ReplaceRules(ctx, rules); err != nil {
			logger.Error().Err(err).Msg("save rules")
			return
		}
		w.pipeline.RecordRules(len(rules))
		logger.Debug().Int("rules", len(rules)).Msg("rules synced")
	case bridge.SyncConversion:
		value, ok, err := msg.Conversion()
		if err != nil {
			logger.Warn().Err(err).Msg("invalid conversion payload")
			return
		}
		if !ok {
			return
		}
		if err := w.store.SaveConversion(ctx, value); err != nil {
			logger.Error().Err(err).Msg("save conversion")
			return
		}
		logger.Debug().Str("value", value.String()).Msg("conversion synced")
	case bridge.ForceUpdate:
		w.sched.Trigger()
	case bridge.StartSync:
		w.sched.Start()
	case bridge.StopSync:
		w.sched.Stop()
	default:
		logger.Debug().Msg("ignoring message")
	}
}

// onQuote runs on the scheduler loop. Rules are evaluated only when the value moved.
func (w *Worker) onQuote(q quote.Quote) {
	changed := w.last.IsZero() || !w.last.Value.Equal(q.Value)
	if changed {
		w.last = q
		w.evaluate(q)
	}
	w.bridge.PublishQuote(q)
}

func (w *Worker) evaluate(q quote.Quote) {
	rules, err := w.store.ListRules(w.ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("load rules, skipping evaluation")
		return
	}
	if len(rules) == 0 {
		return
	}
	w.pipeline.Process(w.ctx, q, rules)
}

func (w *Worker) conversion() (decimal.Decimal, bool) {
	conv, ok, err := w.store.LoadConversion(w.ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("load conversion")
		return decimal.Zero, false
	}
	return conv.Value, ok
}

// Rules reads the persisted rule set.
func (w *Worker) Rules(ctx context.Context) ([]alert.Rule, error) {
	return w.store.ListRules(ctx)
}
