package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dollarnow/internal/alert"
	"dollarnow/internal/config"
	"dollarnow/internal/quote"
	"dollarnow/internal/storage"
)

func testApp(t *testing.T, endpoints ...string) *App {
	t.Helper()
	dir := t.TempDir()
	if len(endpoints) == 0 {
		endpoints = []string{"http://127.0.0.1:1/unused"}
	}
	cfg := &config.Config{
		Quote: config.QuoteConfig{Endpoints: endpoints, RequestTimeout: 2 * time.Second},
		Alerting: config.AlertingConfig{
			TestExpiry:    time.Second,
			RuleExpiry:    time.Second,
			WorkerSurface: "log",
			PreviewSpread: 0.02,
		},
		Storage: config.StorageConfig{
			Driver:     "sqlite",
			SQLitePath: filepath.Join(dir, "worker.db"),
			PrefsPath:  filepath.Join(dir, "prefs.json"),
		},
	}
	return NewApp(cfg, zerolog.Nop())
}

func TestAlertCommandsKeepBothStoresInSync(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()

	above, err := a.AddAlert(ctx, alert.Above, decimal.RequireFromString("5.50"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := a.AddAlert(ctx, alert.Below, decimal.RequireFromString("5.00")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := a.AddAlert(ctx, alert.Below, decimal.Zero); !errors.Is(err, alert.ErrInvalidThreshold) {
		t.Fatalf("expected invalid threshold, got %v", err)
	}

	var out bytes.Buffer
	if err := a.ListAlerts(&out); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out.String(), "R$ 5,500") || !strings.Contains(out.String(), "below") {
		t.Fatalf("unexpected listing:\n%s", out.String())
	}

	if err := a.RemoveAlert(ctx, above.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := a.RemoveAlert(ctx, above.ID); !errors.Is(err, ErrAlertNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	store, err := storage.OpenSQLite(ctx, a.Config.Storage.SQLitePath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	rules, err := store.ListRules(ctx)
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	if len(rules) != 1 || rules[0].Direction != alert.Below {
		t.Fatalf("worker store out of sync: %+v", rules)
	}
}

func TestConversionCommands(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()

	if err := a.SetConversion(ctx, decimal.Zero); err == nil {
		t.Fatal("zero amount must be rejected")
	}
	if err := a.SetConversion(ctx, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("set: %v", err)
	}

	store, err := storage.OpenSQLite(ctx, a.Config.Storage.SQLitePath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	conv, ok, err := store.LoadConversion(ctx)
	store.Close()
	if err != nil || !ok || !conv.Value.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("worker conversion not saved: %+v %v %v", conv, ok, err)
	}

	if err := a.ClearConversion(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	prefs, err := storage.OpenPrefs(a.Config.Storage.PrefsPath)
	if err != nil {
		t.Fatalf("prefs: %v", err)
	}
	var amount decimal.Decimal
	if found, _ := prefs.Get("dollarConversionValue", &amount); found {
		t.Fatal("conversion still stored after clear")
	}
}

func TestSimulateAlert(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()

	if _, err := a.AddAlert(ctx, alert.Above, decimal.RequireFromString("5.50")); err != nil {
		t.Fatalf("add: %v", err)
	}

	var out bytes.Buffer
	if err := a.SimulateAlert(ctx, &out, decimal.RequireFromString("5.40")); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !strings.Contains(out.String(), "no alert matches") {
		t.Fatalf("unexpected output %q", out.String())
	}

	out.Reset()
	if err := a.SimulateAlert(ctx, &out, decimal.RequireFromString("5.60")); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !strings.Contains(out.String(), "fired alert") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestFetchFallsBackAcrossEndpoints(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"USDBRL":{"bid":"5.4213","pctChange":"-0.35"}}`))
	}))
	defer up.Close()

	a := testApp(t, down.URL, up.URL)
	var out bytes.Buffer
	if err := a.Fetch(context.Background(), &out); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(out.String(), "R$ 5,421") || !strings.Contains(out.String(), up.URL) {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestContextsWalkEndpointsIndependently(t *testing.T) {
	var hitsA, hitsB atomic.Int32
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hitsA.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hitsB.Add(1)
		_, _ = w.Write([]byte(`{"USDBRL":{"bid":"5.4213","pctChange":"-0.35"}}`))
	}))
	defer second.Close()

	a := testApp(t, first.URL, second.URL)
	page, worker := a.contextSources()
	if page == worker {
		t.Fatal("page and worker share a source")
	}

	ctx := context.Background()
	if _, err := page.FetchQuote(ctx); !quote.IsRetryable(err) {
		t.Fatalf("page: expected retryable failure, got %v", err)
	}
	if worker.Cursor() != 0 {
		t.Fatalf("worker cursor moved with the page: %d", worker.Cursor())
	}
	if _, err := worker.FetchQuote(ctx); !quote.IsRetryable(err) {
		t.Fatalf("worker: expected retryable failure on its first endpoint, got %v", err)
	}
	if hitsA.Load() != 2 || hitsB.Load() != 0 {
		t.Fatalf("unexpected hits: first=%d second=%d", hitsA.Load(), hitsB.Load())
	}

	if _, err := page.FetchQuote(ctx); err != nil {
		t.Fatalf("page fallback: %v", err)
	}
	if _, err := worker.FetchQuote(ctx); err != nil {
		t.Fatalf("worker fallback: %v", err)
	}
	if hitsB.Load() != 2 {
		t.Fatalf("expected both contexts to reach the second endpoint, got %d", hitsB.Load())
	}
}
