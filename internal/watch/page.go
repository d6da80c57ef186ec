package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"dollarnow/internal/alert"
	"dollarnow/internal/bridge"
	"dollarnow/internal/history"
	"dollarnow/internal/metrics"
	"dollarnow/internal/money"
	"dollarnow/internal/notify"
	"dollarnow/internal/quote"
	"dollarnow/internal/scheduler"
	"dollarnow/internal/storage"
)

// Preference keys shared with the CLI.
const (
	PrefAlerts     = "dollarAlerts"
	PrefConversion = "dollarConversionValue"
)

// alertQueue bounds the quotes waiting for alert evaluation on the page.
const alertQueue = 8

// ErrInvalidAmount rejects conversion amounts that are not positive.
var ErrInvalidAmount = errors.New("conversion amount must be greater than zero")

// Observer receives page updates, typically to relay them to attached sessions.
type Observer interface {
	QuoteUpdated(q quote.Quote)
	FetchFailed(err error)
}

// PageOptions configures the foreground context.
type PageOptions struct {
	Scheduler     scheduler.Options
	Notify        notify.Options
	PreviewSpread decimal.Decimal
}

type alertJob struct {
	quote quote.Quote
	rules []alert.Rule
}

// Page is the foreground context: it polls while at least one session is attached.
type Page struct {
	sched    *scheduler.Scheduler
	engine   *alert.Engine
	prefs    *storage.Prefs
	bridge   *bridge.Bridge
	history  *history.Buffer
	notifier *notify.Dispatcher
	pipeline *Pipeline
	alerts   chan alertJob
	spread   decimal.Decimal
	logger   zerolog.Logger

	mu         sync.RWMutex
	current    quote.Quote
	previous   quote.Quote
	conversion decimal.Decimal
	hasAmount  bool
	visible    bool
	sessions   int
	observers  []Observer
}

// NewPage wires the foreground context.
func NewPage(fetcher quote.Fetcher, prefs *storage.Prefs, b *bridge.Bridge, opts PageOptions, m *metrics.Metrics, logger zerolog.Logger) (*Page, error) {
	p := &Page{
		engine:  alert.NewEngine(nil),
		prefs:   prefs,
		bridge:  b,
		history: history.NewBuffer(),
		alerts:  make(chan alertJob, alertQueue),
		spread:  opts.PreviewSpread,
		logger:  logger.With().Str("component", "page").Logger(),
		visible: true,
	}

	p.pipeline = NewPipeline("page", nil, m, logger)

	notifyOpts := opts.Notify
	notifyOpts.Conversion = notify.ConversionFunc(p.Conversion)
	notifyOpts.PreviewSpread = opts.PreviewSpread
	notifyOpts.OnShown = p.pipeline.ShownHook()
	p.notifier = notify.NewDispatcher(notifyOpts, logger)
	p.pipeline.notifier = p.notifier

	schedOpts := opts.Scheduler
	schedOpts.Mode = scheduler.Visible
	schedOpts.OnQuote = p.onQuote
	schedOpts.OnFailure = p.onFailure
	schedOpts.OnDropped = func(string) { p.pipeline.RecordDropped() }
	p.sched = scheduler.New(&recordingFetcher{inner: fetcher, pipeline: p.pipeline}, schedOpts, logger)

	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

// Observe registers an observer for quote and failure events.
func (p *Page) Observe(o Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, o)
}

// Run drives the scheduler, evaluates alerts and applies worker updates until
// ctx is cancelled. Alerts are evaluated off the scheduler loop, so a pending
// permission prompt never holds up polling or visibility changes.
func (p *Page) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.sched.Run(ctx) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case job := <-p.alerts:
				p.pipeline.Process(ctx, job.quote, job.rules)
			}
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case msg := <-p.bridge.PageInbox():
				p.handleWorkerMessage(msg)
			}
		}
	})
	err := g.Wait()
	p.notifier.CloseAll()
	return err
}

// Attach registers a session. The first one loads preferences and starts polling.
func (p *Page) Attach() {
	p.mu.Lock()
	p.sessions++
	n := p.sessions
	p.mu.Unlock()
	p.pipeline.RecordSessions(n)
	if n != 1 {
		return
	}

	if err := p.prefs.Reload(); err != nil {
		p.logger.Error().Err(err).Msg("reload preferences")
	} else if err := p.load(); err != nil {
		p.logger.Error().Err(err).Msg("load preferences")
	}
	p.logger.Info().Msg("page session started")
	p.sched.SetMode(p.mode())
	p.sched.Start()
	p.syncWorker()
}

// Detach unregisters a session. The last one stops polling and closes notifications.
func (p *Page) Detach() {
	p.mu.Lock()
	if p.sessions == 0 {
		p.mu.Unlock()
		return
	}
	p.sessions--
	n := p.sessions
	p.mu.Unlock()
	p.pipeline.RecordSessions(n)
	if n != 0 {
		return
	}

	p.sched.Stop()
	p.notifier.CloseAll()
	p.logger.Info().Msg("page session ended")
}

// Sessions reports the number of attached sessions.
func (p *Page) Sessions() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sessions
}

// SetVisible switches between the visible and hidden cadence.
func (p *Page) SetVisible(visible bool) {
	p.mu.Lock()
	changed := p.visible != visible
	p.visible = visible
	p.mu.Unlock()
	if changed {
		p.sched.SetMode(p.mode())
	}
}

// Visible reports the page visibility.
func (p *Page) Visible() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.visible
}

func (p *Page) mode() scheduler.Mode {
	if p.Visible() {
		return scheduler.Visible
	}
	return scheduler.Hidden
}

// Refresh fetches now in both contexts.
func (p *Page) Refresh() {
	p.sched.Trigger()
	p.bridge.RequestUpdate()
}

// Quote returns the current and previous quotes; zero values mean none yet.
func (p *Page) Quote() (current, previous quote.Quote) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current, p.previous
}

// History returns the chart history, oldest first.
func (p *Page) History() []history.Entry {
	return p.history.Snapshot()
}

// Rules returns the active rule set.
func (p *Page) Rules() []alert.Rule {
	return p.engine.Rules()
}

// AddRule validates and stores a new rule, then syncs the worker.
func (p *Page) AddRule(direction alert.Direction, threshold decimal.Decimal) (alert.Rule, error) {
	rule, err := p.engine.Add(direction, threshold)
	if err != nil {
		return alert.Rule{}, err
	}
	if err := p.saveRules(); err != nil {
		p.engine.Remove(rule.ID)
		return alert.Rule{}, err
	}
	p.syncWorker()
	return rule, nil
}

// RemoveRule deletes a rule; unknown ids are a no-op.
func (p *Page) RemoveRule(id int64) (bool, error) {
	if !p.engine.Remove(id) {
		return false, nil
	}
	if err := p.saveRules(); err != nil {
		return true, err
	}
	p.syncWorker()
	return true, nil
}

// Conversion returns the dollar amount to convert, if set.
func (p *Page) Conversion() (decimal.Decimal, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conversion, p.hasAmount
}

// SetConversion stores the amount to convert.
func (p *Page) SetConversion(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if err := p.prefs.Set(PrefConversion, numberOf(amount)); err != nil {
		return err
	}
	p.mu.Lock()
	p.conversion, p.hasAmount = amount, true
	p.mu.Unlock()
	p.syncWorker()
	return nil
}

// ClearConversion removes the amount to convert.
func (p *Page) ClearConversion() error {
	if err := p.prefs.Delete(PrefConversion); err != nil {
		return err
	}
	p.mu.Lock()
	p.conversion, p.hasAmount = decimal.Zero, false
	p.mu.Unlock()
	p.syncWorker()
	return nil
}

// ConvertedPreview is amount × (value − spread), shown next to the quote.
func (p *Page) ConvertedPreview() (decimal.Decimal, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.hasAmount || p.current.IsZero() {
		return decimal.Zero, false
	}
	return money.Convert(p.conversion, p.current.Value.Sub(p.spread)), true
}

// TestNotify shows a test notification for the current quote.
func (p *Page) TestNotify(ctx context.Context) error {
	current, _ := p.Quote()
	return p.notifier.TestNotify(ctx, current)
}

// ClickNotification closes the notification with tag.
func (p *Page) ClickNotification(tag string) bool {
	return p.notifier.Click(tag)
}

// SchedulerState reports whether a page fetch is in flight.
func (p *Page) SchedulerState() scheduler.State {
	return p.sched.State()
}

func (p *Page) onQuote(q quote.Quote) {
	p.mu.Lock()
	p.previous = p.current
	p.current = q
	observers := append([]Observer(nil), p.observers...)
	p.mu.Unlock()

	p.history.Push(history.FromQuote(q))
	p.logger.Debug().Str("value", q.Value.String()).Msg("quote updated")

	for _, o := range observers {
		o.QuoteUpdated(q)
	}

	select {
	case p.alerts <- alertJob{quote: q, rules: p.engine.Rules()}:
	default:
		p.logger.Warn().Str("value", q.Value.String()).Msg("alert queue full, skipping evaluation")
	}
}

func (p *Page) onFailure(err error) {
	p.mu.RLock()
	observers := append([]Observer(nil), p.observers...)
	p.mu.RUnlock()
	for _, o := range observers {
		o.FetchFailed(err)
	}
}

func (p *Page) handleWorkerMessage(msg bridge.Message) {
	if msg.Type != bridge.QuoteUpdated {
		p.logger.Debug().Str("type", string(msg.Type)).Msg("ignoring worker message")
		return
	}
	q, err := msg.Quote()
	if err != nil {
		p.logger.Warn().Err(err).Msg("decode worker quote")
		return
	}

	p.mu.Lock()
	apply := p.visible && p.sessions > 0
	if apply {
		p.current = q
	}
	observers := append([]Observer(nil), p.observers...)
	p.mu.Unlock()
	if !apply {
		return
	}
	for _, o := range observers {
		o.QuoteUpdated(q)
	}
}

func (p *Page) syncWorker() {
	p.bridge.PushRules(p.engine.Rules())
	amount, ok := p.Conversion()
	p.bridge.PushConversion(amount, ok)
	p.pipeline.RecordRules(len(p.engine.Rules()))
}

func (p *Page) load() error {
	var records []alert.Record
	if _, err := p.prefs.Get(PrefAlerts, &records); err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	rules := make([]alert.Rule, 0, len(records))
	for _, rec := range records {
		rule, err := rec.ToRule()
		if err != nil {
			p.logger.Warn().Err(err).Int64("rule_id", rec.ID).Msg("skipping stored rule")
			continue
		}
		rules = append(rules, rule)
	}
	p.engine.Replace(rules)

	var amount decimal.Decimal
	ok, err := p.prefs.Get(PrefConversion, &amount)
	if err != nil {
		return fmt.Errorf("load conversion: %w", err)
	}
	p.mu.Lock()
	p.conversion, p.hasAmount = amount, ok && amount.IsPositive()
	p.mu.Unlock()
	p.pipeline.RecordRules(len(rules))
	return nil
}

func (p *Page) saveRules() error {
	if err := p.prefs.Set(PrefAlerts, alert.Records(p.engine.Rules())); err != nil {
		return fmt.Errorf("save rules: %w", err)
	}
	return nil
}
