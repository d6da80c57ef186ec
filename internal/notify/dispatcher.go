package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dollarnow/internal/alert"
	"dollarnow/internal/quote"
)

// ConversionSource returns the dollar amount to convert, if one is set.
type ConversionSource interface {
	Conversion() (decimal.Decimal, bool)
}

// ConversionFunc adapts a function to ConversionSource.
type ConversionFunc func() (decimal.Decimal, bool)

func (f ConversionFunc) Conversion() (decimal.Decimal, bool) { return f() }

// Options configures a Dispatcher.
type Options struct {
	Surface       Surface
	Permission    Permission
	Conversion    ConversionSource
	RuleExpiry    time.Duration
	TestExpiry    time.Duration
	Icon          string
	PreviewSpread decimal.Decimal
	// OnFocus runs when a notification is clicked.
	OnFocus func()
	// OnShown runs after each notification is displayed.
	OnShown func(tag string)
}

// Dispatcher shows notifications on a surface and tracks the open ones.
type Dispatcher struct {
	opts   Options
	logger zerolog.Logger

	mu   sync.Mutex
	open map[string]*shown
}

type shown struct {
	tag    string
	handle Handle
	timer  *time.Timer
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(opts Options, logger zerolog.Logger) *Dispatcher {
	if opts.Permission == nil {
		opts.Permission = AlwaysGranted{}
	}
	if opts.RuleExpiry <= 0 {
		opts.RuleExpiry = 10 * time.Second
	}
	if opts.TestExpiry <= 0 {
		opts.TestExpiry = 5 * time.Second
	}
	if opts.Icon == "" {
		opts.Icon = DefaultIcon
	}
	return &Dispatcher{
		opts:   opts,
		logger: logger.With().Str("component", "notify").Logger(),
		open:   make(map[string]*shown),
	}
}

// Notify shows the notification for a fired rule, replacing any open one for the same rule.
func (d *Dispatcher) Notify(ctx context.Context, q quote.Quote, rule alert.Rule) error {
	if err := d.ensurePermission(ctx); err != nil {
		return err
	}
	amount := d.conversion()
	n := Notification{
		Title: RuleTitle,
		Body:  ruleBody(q.Value, rule, amount),
		Icon:  d.opts.Icon,
		Badge: d.opts.Icon,
		Tag:   rule.Tag(),
	}
	return d.show(ctx, n, d.opts.RuleExpiry)
}

// TestNotify shows a test notification for the current quote, which may be zero.
func (d *Dispatcher) TestNotify(ctx context.Context, q quote.Quote) error {
	if err := d.ensurePermission(ctx); err != nil {
		return err
	}
	amount := d.conversion()
	n := Notification{
		Title: TestTitle,
		Body:  testNotificationBody(q.Value, !q.IsZero(), amount, d.opts.PreviewSpread),
		Icon:  d.opts.Icon,
		Badge: d.opts.Icon,
		Tag:   TestTag,
	}
	return d.show(ctx, n, d.opts.TestExpiry)
}

// Click closes the notification with tag and focuses the application.
func (d *Dispatcher) Click(tag string) bool {
	entry := d.take(tag)
	if entry == nil {
		return false
	}
	d.closeEntry(entry)
	if d.opts.OnFocus != nil {
		d.opts.OnFocus()
	}
	return true
}

// CloseAll closes every open notification.
func (d *Dispatcher) CloseAll() {
	d.mu.Lock()
	entries := make([]*shown, 0, len(d.open))
	for tag, entry := range d.open {
		entries = append(entries, entry)
		delete(d.open, tag)
	}
	d.mu.Unlock()

	for _, entry := range entries {
		d.closeEntry(entry)
	}
}

// Open returns the tags of currently visible notifications.
func (d *Dispatcher) Open() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	tags := make([]string, 0, len(d.open))
	for tag := range d.open {
		tags = append(tags, tag)
	}
	return tags
}

func (d *Dispatcher) ensurePermission(ctx context.Context) error {
	state := d.opts.Permission.State()
	if state == PermissionDefault {
		requested, err := d.opts.Permission.Request(ctx)
		if err != nil {
			return fmt.Errorf("request notification permission: %w", err)
		}
		state = requested
	}
	if state != PermissionGranted {
		return ErrPermissionDenied
	}
	return nil
}

func (d *Dispatcher) conversion() decimal.Decimal {
	if d.opts.Conversion == nil {
		return decimal.Zero
	}
	amount, ok := d.opts.Conversion.Conversion()
	if !ok || !amount.IsPositive() {
		return decimal.Zero
	}
	return amount
}

func (d *Dispatcher) show(ctx context.Context, n Notification, expiry time.Duration) error {
	if prev := d.take(n.Tag); prev != nil {
		d.closeEntry(prev)
	}

	handle, err := d.opts.Surface.Show(ctx, n)
	if err != nil {
		return fmt.Errorf("show notification %s: %w", n.Tag, err)
	}

	entry := &shown{tag: n.Tag, handle: handle}
	d.mu.Lock()
	if prev, ok := d.open[n.Tag]; ok {
		delete(d.open, n.Tag)
		defer d.closeEntry(prev)
	}
	d.open[n.Tag] = entry
	entry.timer = time.AfterFunc(expiry, func() { d.expire(entry) })
	d.mu.Unlock()

	d.logger.Debug().Str("tag", n.Tag).Dur("expiry", expiry).Msg("notification shown")
	if d.opts.OnShown != nil {
		d.opts.OnShown(n.Tag)
	}
	return nil
}

func (d *Dispatcher) expire(entry *shown) {
	d.mu.Lock()
	current := d.open[entry.tag] == entry
	if current {
		delete(d.open, entry.tag)
	}
	d.mu.Unlock()
	if current {
		d.closeEntry(entry)
	}
}

func (d *Dispatcher) take(tag string) *shown {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.open[tag]
	if !ok {
		return nil
	}
	delete(d.open, tag)
	return entry
}

func (d *Dispatcher) closeEntry(entry *shown) {
	if entry.timer != nil {
		entry.timer.Stop()
	}
	if err := entry.handle.Close(); err != nil {
		d.logger.Debug().Err(err).Str("tag", entry.tag).Msg("close notification")
	}
}
