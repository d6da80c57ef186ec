package watch

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"dollarnow/internal/quote"
)

// recordingFetcher counts every attempt, including fallbacks the scheduler retries.
type recordingFetcher struct {
	inner    quote.Fetcher
	pipeline *Pipeline
}

func (f *recordingFetcher) FetchQuote(ctx context.Context) (quote.Quote, error) {
	q, err := f.inner.FetchQuote(ctx)
	f.pipeline.RecordFetch(q, err)
	return q, err
}

func numberOf(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}
