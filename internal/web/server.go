package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dollarnow/internal/alert"
	"dollarnow/internal/chart"
	"dollarnow/internal/history"
	"dollarnow/internal/metrics"
	"dollarnow/internal/quote"
)

// Page is the foreground context the HTTP surface exposes.
type Page interface {
	Controller
	Quote() (current, previous quote.Quote)
	History() []history.Entry
	Rules() []alert.Rule
	AddRule(direction alert.Direction, threshold decimal.Decimal) (alert.Rule, error)
	RemoveRule(id int64) (bool, error)
	Conversion() (decimal.Decimal, bool)
	SetConversion(amount decimal.Decimal) error
	ClearConversion() error
	TestNotify(ctx context.Context) error
}

// Options configures the HTTP server.
type Options struct {
	Listen          string
	ShutdownTimeout time.Duration
	ChartWidth      int
	ChartHeight     int
	PreviewSpread   decimal.Decimal
}

// Server serves the JSON API, chart images, the session socket and metrics.
type Server struct {
	opts     Options
	page     Page
	hub      *Hub
	renderer *chart.Renderer
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New wires the server and binds the hub to the page.
func New(opts Options, page Page, hub *Hub, renderer *chart.Renderer, m *metrics.Metrics, logger zerolog.Logger) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.ChartWidth <= 0 {
		opts.ChartWidth = 800
	}
	if opts.ChartHeight <= 0 {
		opts.ChartHeight = 300
	}
	if renderer == nil {
		renderer = chart.NewRenderer(chart.DefaultBreakpoint)
	}
	s := &Server{
		opts:     opts,
		page:     page,
		hub:      hub,
		renderer: renderer,
		metrics:  m,
		logger:   logger.With().Str("component", "http").Logger(),
	}
	hub.Bind(page, s.View)
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/quote", s.handleQuote)
	mux.HandleFunc("POST /api/quote/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/alerts", s.handleListAlerts)
	mux.HandleFunc("POST /api/alerts", s.handleAddAlert)
	mux.HandleFunc("DELETE /api/alerts/{id}", s.handleRemoveAlert)
	mux.HandleFunc("PUT /api/conversion", s.handleSetConversion)
	mux.HandleFunc("DELETE /api/conversion", s.handleClearConversion)
	mux.HandleFunc("POST /api/notifications/test", s.handleTestNotification)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/history.csv", s.handleHistoryCSV)
	mux.HandleFunc("GET /chart.png", s.handleChart)
	mux.HandleFunc("POST /api/chart/hit", s.handleChartHit)
	mux.HandleFunc("GET /report.png", s.handleReport)
	mux.HandleFunc("GET /ws", s.hub.ServeWS)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return s.logRequests(mux)
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("listen", s.opts.Listen).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t0 := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Dur("took", time.Since(t0)).
			Msg("request")
	})
}

func jsonOK(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, status int, msg string) {
	jsonOK(w, status, map[string]any{"error": msg})
}
