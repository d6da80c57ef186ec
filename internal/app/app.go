package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"dollarnow/internal/bridge"
	"dollarnow/internal/chart"
	"dollarnow/internal/config"
	"dollarnow/internal/metrics"
	"dollarnow/internal/notify"
	"dollarnow/internal/quote"
	"dollarnow/internal/scheduler"
	"dollarnow/internal/storage"
	"dollarnow/internal/watch"
	"dollarnow/internal/web"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newSource() *quote.Source {
	return quote.NewSource(quote.Options{
		Endpoints: a.Config.Quote.Endpoints,
		Timeout:   a.Config.Quote.RequestTimeout,
		UserAgent: a.Config.Quote.UserAgent,
	}, a.Logger)
}

// contextSources returns one source per fetching context. Each context walks
// the endpoint ranking with its own cursor.
func (a *App) contextSources() (page, worker *quote.Source) {
	return a.newSource(), a.newSource()
}

func (a *App) newWorkerSurface() (notify.Surface, error) {
	switch strings.ToLower(a.Config.Alerting.WorkerSurface) {
	case "telegram":
		cfg := a.Config.Alerting.Telegram
		return notify.NewTelegramSurface(notify.TelegramOptions{
			BotToken: cfg.BotToken,
			ChatID:   cfg.ChatID,
			BaseURL:  cfg.APIBase,
			Timeout:  10 * time.Second,
		}, a.Logger)
	default:
		return notify.NewLogSurface(a.Logger), nil
	}
}

func (a *App) schedulerOptions() scheduler.Options {
	cfg := a.Config.Scheduler
	return scheduler.Options{
		VisibleInterval: cfg.VisibleInterval,
		HiddenInterval:  cfg.HiddenInterval,
		WorkerInterval:  cfg.WorkerInterval,
		FallbackDelay:   cfg.FallbackDelay,
		RecoveryDelay:   cfg.RecoveryDelay,
	}
}

func (a *App) notifyOptions(surface notify.Surface, permission notify.Permission) notify.Options {
	cfg := a.Config.Alerting
	return notify.Options{
		Surface:       surface,
		Permission:    permission,
		RuleExpiry:    cfg.RuleExpiry,
		TestExpiry:    cfg.TestExpiry,
		Icon:          cfg.Icon,
		PreviewSpread: a.previewSpread(),
	}
}

func (a *App) previewSpread() decimal.Decimal {
	return decimal.NewFromFloat(a.Config.Alerting.PreviewSpread)
}

func (a *App) openStore(ctx context.Context) (storage.WorkerStore, func(), error) {
	store, err := storage.Open(ctx, a.Config.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("open worker store: %w", err)
	}
	closer := func() {
		if err := store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close worker store")
		}
	}
	return store, closer, nil
}

func (a *App) openPrefs() (*storage.Prefs, error) {
	prefs, err := storage.OpenPrefs(a.Config.Storage.PrefsPath)
	if err != nil {
		return nil, fmt.Errorf("open preferences: %w", err)
	}
	return prefs, nil
}

// Run executes the watcher: the worker, the page driven by browser sessions and the HTTP surface.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	prefs, err := a.openPrefs()
	if err != nil {
		return err
	}

	surface, err := a.newWorkerSurface()
	if err != nil {
		return err
	}

	b := bridge.New(bridge.DefaultBuffer, a.Logger)
	b.OnDrop = func(t bridge.Type) { m.BridgeDropped.WithLabelValues(string(t)).Inc() }

	pageSource, workerSource := a.contextSources()
	hub := web.NewHub(a.Config.Web.AllowedOrigins, a.Logger)

	pageNotify := a.notifyOptions(hub, hub)
	pageNotify.OnFocus = hub.Focus
	page, err := watch.NewPage(pageSource, prefs, b, watch.PageOptions{
		Scheduler:     a.schedulerOptions(),
		Notify:        pageNotify,
		PreviewSpread: a.previewSpread(),
	}, m, a.Logger)
	if err != nil {
		return err
	}
	page.Observe(hub)

	worker := watch.NewWorker(workerSource, store, b, watch.WorkerOptions{
		Scheduler: a.schedulerOptions(),
		Notify:    a.notifyOptions(surface, notify.AlwaysGranted{}),
	}, m, a.Logger)

	server := web.New(web.Options{
		Listen:          a.Config.Web.Listen,
		ShutdownTimeout: a.Config.Web.ShutdownTimeout,
		ChartWidth:      a.Config.Chart.Width,
		ChartHeight:     a.Config.Chart.Height,
		PreviewSpread:   a.previewSpread(),
	}, page, hub, chart.NewRenderer(a.Config.Chart.Breakpoint), m, a.Logger)

	a.Logger.Info().
		Str("surface", a.Config.Alerting.WorkerSurface).
		Str("storage", a.Config.Storage.Driver).
		Msg("starting quote watcher")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return page.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watcher terminated with error")
		return err
	}

	a.Logger.Info().Msg("quote watcher stopped")
	return nil
}

var (
	_ web.Page       = (*watch.Page)(nil)
	_ watch.Observer = (*web.Hub)(nil)
)
