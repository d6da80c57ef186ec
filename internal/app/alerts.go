package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"dollarnow/internal/alert"
	"dollarnow/internal/money"
	"dollarnow/internal/storage"
	"dollarnow/internal/watch"
)

// ErrAlertNotFound is returned when removing an unknown alert id.
var ErrAlertNotFound = errors.New("alert not found")

func (a *App) loadRules(prefs *storage.Prefs) (*alert.Engine, error) {
	var records []alert.Record
	if _, err := prefs.Get(watch.PrefAlerts, &records); err != nil {
		return nil, fmt.Errorf("load alerts: %w", err)
	}
	rules := make([]alert.Rule, 0, len(records))
	for _, rec := range records {
		rule, err := rec.ToRule()
		if err != nil {
			a.Logger.Warn().Err(err).Int64("rule_id", rec.ID).Msg("skipping stored rule")
			continue
		}
		rules = append(rules, rule)
	}
	return alert.NewEngine(rules), nil
}

// saveRules writes the rule set to the preferences and mirrors it into the worker store.
func (a *App) saveRules(ctx context.Context, prefs *storage.Prefs, rules []alert.Rule) error {
	if err := prefs.Set(watch.PrefAlerts, alert.Records(rules)); err != nil {
		return fmt.Errorf("save alerts: %w", err)
	}
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	return store.ReplaceRules(ctx, rules)
}

// ListAlerts prints the stored alert rules.
func (a *App) ListAlerts(out io.Writer) error {
	prefs, err := a.openPrefs()
	if err != nil {
		return err
	}
	engine, err := a.loadRules(prefs)
	if err != nil {
		return err
	}

	rules := engine.Rules()
	if len(rules) == 0 {
		fmt.Fprintln(out, "no alerts configured")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tDirection\tThreshold")
	for _, r := range rules {
		fmt.Fprintf(writer, "%d\t%s\t%s\n", r.ID, r.Direction, money.BRL(r.Threshold, 3))
	}
	return writer.Flush()
}

// AddAlert stores a new rule and returns it.
func (a *App) AddAlert(ctx context.Context, direction alert.Direction, threshold decimal.Decimal) (alert.Rule, error) {
	prefs, err := a.openPrefs()
	if err != nil {
		return alert.Rule{}, err
	}
	engine, err := a.loadRules(prefs)
	if err != nil {
		return alert.Rule{}, err
	}
	rule, err := engine.Add(direction, threshold)
	if err != nil {
		return alert.Rule{}, err
	}
	if err := a.saveRules(ctx, prefs, engine.Rules()); err != nil {
		return alert.Rule{}, err
	}
	return rule, nil
}

// RemoveAlert deletes the rule with id.
func (a *App) RemoveAlert(ctx context.Context, id int64) error {
	prefs, err := a.openPrefs()
	if err != nil {
		return err
	}
	engine, err := a.loadRules(prefs)
	if err != nil {
		return err
	}
	if !engine.Remove(id) {
		return fmt.Errorf("%w: %d", ErrAlertNotFound, id)
	}
	return a.saveRules(ctx, prefs, engine.Rules())
}

// SetConversion stores the dollar amount used for converted values.
func (a *App) SetConversion(ctx context.Context, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return watch.ErrInvalidAmount
	}
	prefs, err := a.openPrefs()
	if err != nil {
		return err
	}
	if err := prefs.Set(watch.PrefConversion, json.Number(amount.String())); err != nil {
		return fmt.Errorf("save conversion: %w", err)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	return store.SaveConversion(ctx, amount)
}

// ClearConversion removes the amount from the preferences. The worker keeps its last value.
func (a *App) ClearConversion() error {
	prefs, err := a.openPrefs()
	if err != nil {
		return err
	}
	if err := prefs.Delete(watch.PrefConversion); err != nil {
		return fmt.Errorf("clear conversion: %w", err)
	}
	return nil
}
