package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"dollarnow/internal/alert"
	"dollarnow/internal/quote"
)

// Type names a message exchanged between the page and the worker.
type Type string

const (
	SyncAlerts     Type = "sync-alerts"
	SyncConversion Type = "sync-conversion"
	QuoteUpdated   Type = "quote-updated"
	ForceUpdate    Type = "force-update"
	StartSync      Type = "start-sync"
	StopSync       Type = "stop-sync"
)

// Message is the envelope carried over the bridge and the websocket.
type Message struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage encodes data into a message of type t.
func NewMessage(t Type, data any) (Message, error) {
	if data == nil {
		return Message{Type: t}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", t, err)
	}
	return Message{Type: t, Data: raw}, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", m.Type, err)
	}
	return nil
}

// Rules decodes a sync-alerts payload.
func (m Message) Rules() ([]alert.Rule, error) {
	var records []alert.Record
	if err := m.Decode(&records); err != nil {
		return nil, err
	}
	rules := make([]alert.Rule, 0, len(records))
	for _, rec := range records {
		rule, err := rec.ToRule()
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", rec.ID, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Conversion decodes a sync-conversion payload; ok is false for null.
func (m Message) Conversion() (value decimal.Decimal, ok bool, err error) {
	if len(m.Data) == 0 || string(m.Data) == "null" {
		return decimal.Zero, false, nil
	}
	var n json.Number
	if err := m.Decode(&n); err != nil {
		return decimal.Zero, false, err
	}
	value, err = decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("decode %s: %w", m.Type, err)
	}
	return value, true, nil
}

// Quote decodes a quote-updated payload.
func (m Message) Quote() (quote.Quote, error) {
	var q quote.Quote
	if err := m.Decode(&q); err != nil {
		return quote.Quote{}, err
	}
	return q, nil
}
