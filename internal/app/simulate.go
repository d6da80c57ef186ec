package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"dollarnow/internal/money"
	"dollarnow/internal/notify"
	"dollarnow/internal/quote"
	"dollarnow/internal/watch"
)

// Fetch retrieves one quote through the ranked endpoints and prints it.
func (a *App) Fetch(ctx context.Context, out io.Writer) error {
	source := a.newSource()
	endpoints := source.Endpoints()
	for {
		endpoint := endpoints[source.Cursor()]
		q, err := source.FetchQuote(ctx)
		if quote.IsRetryable(err) {
			a.Logger.Warn().Err(err).Msg("endpoint failed, trying next")
			continue
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "USD/BRL %s (%s%%) %s\n",
			money.BRL(q.Value, 3), q.ChangePct.StringFixed(2), humanize.Time(q.Timestamp))
		fmt.Fprintf(out, "endpoint: %s\n", endpoint)
		return nil
	}
}

// SimulateAlert evaluates the stored rules against a given value and notifies
// through the worker surface.
func (a *App) SimulateAlert(ctx context.Context, out io.Writer, value decimal.Decimal) error {
	if !value.IsPositive() {
		return fmt.Errorf("value must be greater than zero")
	}

	prefs, err := a.openPrefs()
	if err != nil {
		return err
	}
	engine, err := a.loadRules(prefs)
	if err != nil {
		return err
	}
	var amount decimal.Decimal
	hasAmount, err := prefs.Get(watch.PrefConversion, &amount)
	if err != nil {
		return fmt.Errorf("load conversion: %w", err)
	}

	surface, err := a.newWorkerSurface()
	if err != nil {
		return err
	}
	opts := a.notifyOptions(surface, notify.AlwaysGranted{})
	opts.Conversion = notify.ConversionFunc(func() (decimal.Decimal, bool) {
		return amount, hasAmount
	})
	dispatcher := notify.NewDispatcher(opts, a.Logger)

	q := quote.Quote{Value: value, Timestamp: time.Now()}
	fired := watch.NewPipeline("simulate", dispatcher, nil, a.Logger).Process(ctx, q, engine.Rules())

	if len(fired) == 0 {
		fmt.Fprintf(out, "no alert matches %s\n", money.BRL(value, 3))
		return nil
	}
	for _, r := range fired {
		fmt.Fprintf(out, "fired alert %d (%s %s)\n", r.ID, r.Direction, money.BRL(r.Threshold, 3))
	}
	return nil
}
