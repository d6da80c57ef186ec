package bridge

import (
	"encoding/json"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dollarnow/internal/alert"
	"dollarnow/internal/quote"
)

// DefaultBuffer is the per-direction queue length.
const DefaultBuffer = 32

// Bridge carries fire-and-forget messages between the page and the worker.
type Bridge struct {
	toWorker chan Message
	toPage   chan Message
	active   atomic.Bool
	logger   zerolog.Logger

	// OnDrop is called when a message is discarded because a queue is full.
	OnDrop func(t Type)
}

// New constructs a bridge with bounded queues in both directions.
func New(buffer int, logger zerolog.Logger) *Bridge {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bridge{
		toWorker: make(chan Message, buffer),
		toPage:   make(chan Message, buffer),
		logger:   logger.With().Str("component", "bridge").Logger(),
	}
}

// SetWorkerActive marks whether the worker is consuming its queue.
func (b *Bridge) SetWorkerActive(active bool) { b.active.Store(active) }

// WorkerActive reports whether sync messages are currently delivered.
func (b *Bridge) WorkerActive() bool { return b.active.Load() }

// WorkerInbox is read by the worker.
func (b *Bridge) WorkerInbox() <-chan Message { return b.toWorker }

// PageInbox is read by the page.
func (b *Bridge) PageInbox() <-chan Message { return b.toPage }

// PushRules replaces the worker's rule set. Skipped when the worker is not active.
func (b *Bridge) PushRules(rules []alert.Rule) {
	if !b.WorkerActive() {
		return
	}
	b.post(b.toWorker, SyncAlerts, alert.Records(rules))
}

// PushConversion syncs the conversion amount; ok=false sends null.
func (b *Bridge) PushConversion(value decimal.Decimal, ok bool) {
	if !b.WorkerActive() {
		return
	}
	var data any
	if ok {
		data = json.Number(value.String())
	}
	b.post(b.toWorker, SyncConversion, data)
}

// RequestUpdate asks the worker to fetch now.
func (b *Bridge) RequestUpdate() { b.post(b.toWorker, ForceUpdate, nil) }

// StartSync asks the worker to start polling.
func (b *Bridge) StartSync() { b.post(b.toWorker, StartSync, nil) }

// StopSync asks the worker to stop polling.
func (b *Bridge) StopSync() { b.post(b.toWorker, StopSync, nil) }

// PublishQuote forwards a worker quote to the page.
func (b *Bridge) PublishQuote(q quote.Quote) {
	b.post(b.toPage, QuoteUpdated, q)
}

func (b *Bridge) post(ch chan Message, t Type, data any) {
	msg, err := NewMessage(t, data)
	if err != nil {
		b.logger.Error().Err(err).Str("type", string(t)).Msg("encode bridge message")
		return
	}
	select {
	case ch <- msg:
	default:
		b.logger.Warn().Str("type", string(t)).Msg("bridge queue full, dropping message")
		if b.OnDrop != nil {
			b.OnDrop(t)
		}
	}
}
