package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dollarnow/internal/alert"
	"dollarnow/internal/config"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "worker.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleRules() []alert.Rule {
	return []alert.Rule{
		{ID: 1_700_000_000_000, Direction: alert.Above, Threshold: decimal.RequireFromString("5.50")},
		{ID: 1_700_000_000_001, Direction: alert.Below, Threshold: decimal.RequireFromString("5.125")},
	}
}

func TestSQLiteReplaceRules(t *testing.T) {
	ctx := context.Background()
	store := openTestSQLite(t)

	if err := store.ReplaceRules(ctx, sampleRules()); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := store.ListRules(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[1].Direction != alert.Below || !got[1].Threshold.Equal(decimal.RequireFromString("5.125")) {
		t.Fatalf("unexpected rules: %+v", got)
	}

	if err := store.ReplaceRules(ctx, sampleRules()[:1]); err != nil {
		t.Fatalf("replace again: %v", err)
	}
	got, err = store.ListRules(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("replace should clear previous rules, got %+v", got)
	}

	if err := store.ReplaceRules(ctx, nil); err != nil {
		t.Fatalf("replace empty: %v", err)
	}
	if got, _ := store.ListRules(ctx); len(got) != 0 {
		t.Fatalf("empty replace should clear everything, got %+v", got)
	}
}

func TestSQLiteReplaceRulesIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := openTestSQLite(t)
	if err := store.ReplaceRules(ctx, sampleRules()); err != nil {
		t.Fatalf("replace: %v", err)
	}

	dup := []alert.Rule{sampleRules()[0], sampleRules()[0]}
	if err := store.ReplaceRules(ctx, dup); err == nil {
		t.Fatal("duplicate ids should fail the transaction")
	}
	got, err := store.ListRules(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("failed replace must leave the old set intact, got %+v", got)
	}
}

func TestSQLiteConversion(t *testing.T) {
	ctx := context.Background()
	store := openTestSQLite(t)
	store.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	if _, ok, err := store.LoadConversion(ctx); ok || err != nil {
		t.Fatalf("fresh store should have no conversion, ok=%v err=%v", ok, err)
	}
	for _, v := range []string{"100", "250.75"} {
		if err := store.SaveConversion(ctx, decimal.RequireFromString(v)); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	conv, ok, err := store.LoadConversion(ctx)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if !conv.Value.Equal(decimal.RequireFromString("250.75")) || conv.Timestamp.UnixMilli() != 1_700_000_000_000 {
		t.Fatalf("unexpected conversion %+v", conv)
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, config.StorageConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "w.db")})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	_ = store.Close()

	if _, err := Open(ctx, config.StorageConfig{Driver: "mongo"}); err == nil {
		t.Fatal("unknown driver should fail")
	}
	if _, err := Open(ctx, config.StorageConfig{Driver: "postgres"}); err == nil {
		t.Fatal("postgres without dsn should fail")
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("DOLLARNOW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DOLLARNOW_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	store, err := Open(ctx, config.StorageConfig{Driver: "postgres", DSN: dsn})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer store.Close()

	if err := store.ReplaceRules(ctx, sampleRules()); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := store.ListRules(ctx)
	if err != nil || len(got) != 2 {
		t.Fatalf("list: %+v %v", got, err)
	}
	if err := store.SaveConversion(ctx, decimal.NewFromInt(10)); err != nil {
		t.Fatalf("save conversion: %v", err)
	}
	if conv, ok, err := store.LoadConversion(ctx); err != nil || !ok || !conv.Value.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("load conversion: %+v %v %v", conv, ok, err)
	}
}

func TestNilStoresReportNotConfigured(t *testing.T) {
	var pg *PostgresStore
	if _, err := pg.ListRules(context.Background()); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	var lite *SQLiteStore
	if err := lite.SaveConversion(context.Background(), decimal.NewFromInt(1)); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
