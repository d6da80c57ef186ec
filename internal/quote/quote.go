package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a single USD/BRL observation.
type Quote struct {
	Value     decimal.Decimal `json:"value"`
	Timestamp time.Time       `json:"timestamp"`
	ChangePct decimal.Decimal `json:"change"`
}

// IsZero reports whether q has never been populated.
func (q Quote) IsZero() bool {
	return q.Timestamp.IsZero() && q.Value.IsZero()
}

// MarshalJSON emits value and change as JSON numbers.
func (q Quote) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Value     json.Number `json:"value"`
		Timestamp time.Time   `json:"timestamp"`
		ChangePct json.Number `json:"change"`
	}{json.Number(q.Value.String()), q.Timestamp, json.Number(q.ChangePct.String())})
}

// UnmarshalJSON accepts the layout written by MarshalJSON.
func (q *Quote) UnmarshalJSON(data []byte) error {
	var raw struct {
		Value     json.Number `json:"value"`
		Timestamp time.Time   `json:"timestamp"`
		ChangePct json.Number `json:"change"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	value, err := decimal.NewFromString(raw.Value.String())
	if err != nil {
		return fmt.Errorf("quote value: %w", err)
	}
	change := decimal.Zero
	if raw.ChangePct != "" {
		if change, err = decimal.NewFromString(raw.ChangePct.String()); err != nil {
			return fmt.Errorf("quote change: %w", err)
		}
	}
	*q = Quote{Value: value, Timestamp: raw.Timestamp, ChangePct: change}
	return nil
}

// Fetcher retrieves the latest quote.
type Fetcher interface {
	FetchQuote(ctx context.Context) (Quote, error)
}

// ErrNoValue indicates the payload matched none of the known shapes.
var ErrNoValue = errors.New("quote value not found or invalid")

// FetchError describes a failed attempt against a single endpoint.
type FetchError struct {
	Endpoint string
	Err      error
	// Retryable is set when the cursor advanced to an endpoint that has not been tried yet.
	Retryable bool
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Endpoint, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a per-endpoint failure with endpoints remaining.
func IsRetryable(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Retryable
}
