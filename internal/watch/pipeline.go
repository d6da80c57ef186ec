package watch

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"dollarnow/internal/alert"
	"dollarnow/internal/metrics"
	"dollarnow/internal/notify"
	"dollarnow/internal/quote"
)

// Notifier is the part of the notification dispatcher the pipelines use.
type Notifier interface {
	Notify(ctx context.Context, q quote.Quote, rule alert.Rule) error
	TestNotify(ctx context.Context, q quote.Quote) error
	Click(tag string) bool
	CloseAll()
}

var _ Notifier = (*notify.Dispatcher)(nil)

// Pipeline evaluates a quote against a rule set and dispatches notifications.
type Pipeline struct {
	name     string
	notifier Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewPipeline builds the evaluate-and-notify step for one execution context.
func NewPipeline(name string, notifier Notifier, m *metrics.Metrics, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		name:     name,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With().Str("component", "pipeline").Str("context", name).Logger(),
	}
}

// Process fires one notification per satisfied rule and returns the fired rules.
// Notification failures are logged; they never stop evaluation of the other rules.
func (p *Pipeline) Process(ctx context.Context, q quote.Quote, rules []alert.Rule) []alert.Rule {
	fired := make([]alert.Rule, 0)
	for _, r := range rules {
		if !r.Matches(q.Value) {
			continue
		}
		fired = append(fired, r)
		if p.metrics != nil {
			p.metrics.AlertsFired.WithLabelValues(p.name).Inc()
		}

		if err := p.notifier.Notify(ctx, q, r); err != nil {
			if p.metrics != nil {
				p.metrics.NotifyErrors.WithLabelValues(p.name).Inc()
			}
			event := p.logger.Warn()
			if errors.Is(err, notify.ErrPermissionDenied) {
				event = p.logger.Debug()
			}
			event.Err(err).Int64("rule_id", r.ID).Msg("alert notification not shown")
			continue
		}
		p.logger.Info().
			Int64("rule_id", r.ID).
			Str("direction", string(r.Direction)).
			Str("threshold", r.Threshold.String()).
			Str("value", q.Value.String()).
			Msg("alert fired")
	}
	return fired
}

// RecordFetch tracks fetch outcomes and the latest quote.
func (p *Pipeline) RecordFetch(q quote.Quote, err error) {
	if p.metrics == nil {
		return
	}
	switch {
	case err == nil:
		p.metrics.Fetches.WithLabelValues(p.name, "ok").Inc()
		p.metrics.QuoteValue.Set(q.Value.InexactFloat64())
		p.metrics.QuoteTimestamp.Set(float64(q.Timestamp.Unix()))
	case quote.IsRetryable(err):
		p.metrics.Fetches.WithLabelValues(p.name, "fallback").Inc()
	default:
		p.metrics.Fetches.WithLabelValues(p.name, "failed").Inc()
	}
}

// RecordDropped counts a tick dropped while a fetch was in flight.
func (p *Pipeline) RecordDropped() {
	if p.metrics != nil {
		p.metrics.FetchesDropped.WithLabelValues(p.name).Inc()
	}
}

// RecordRules tracks the size of the active rule set.
func (p *Pipeline) RecordRules(n int) {
	if p.metrics != nil {
		p.metrics.RulesActive.WithLabelValues(p.name).Set(float64(n))
	}
}

// RecordSessions tracks attached page sessions.
func (p *Pipeline) RecordSessions(n int) {
	if p.metrics != nil {
		p.metrics.Sessions.Set(float64(n))
	}
}

// ShownHook counts notifications actually displayed.
func (p *Pipeline) ShownHook() func(tag string) {
	return func(string) {
		if p.metrics != nil {
			p.metrics.Notifications.WithLabelValues(p.name).Inc()
		}
	}
}
