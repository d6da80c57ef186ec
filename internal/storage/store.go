package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"dollarnow/internal/alert"
	"dollarnow/internal/config"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
)

// Conversion is the persisted conversion record, stored under a fixed key.
type Conversion struct {
	Value     decimal.Decimal
	Timestamp time.Time
}

// WorkerStore is the worker's durable store for rules and the conversion amount.
type WorkerStore interface {
	// ReplaceRules clears the rule set and inserts rules in one transaction.
	ReplaceRules(ctx context.Context, rules []alert.Rule) error
	ListRules(ctx context.Context) ([]alert.Rule, error)
	SaveConversion(ctx context.Context, value decimal.Decimal) error
	// LoadConversion returns false when nothing was saved yet.
	LoadConversion(ctx context.Context) (Conversion, bool, error)
	Close() error
}

// conversionKey mirrors the single-record layout of the conversion store.
const conversionKey = 1

// Open selects and initialises the configured backend.
func Open(ctx context.Context, cfg config.StorageConfig) (WorkerStore, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		return OpenSQLite(ctx, cfg.SQLitePath)
	case "postgres":
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store := NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.StorageConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse storage dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

func parseRule(id int64, direction, value string, triggered bool) (alert.Rule, error) {
	threshold, err := decimal.NewFromString(value)
	if err != nil {
		return alert.Rule{}, fmt.Errorf("parse rule %d threshold: %w", id, err)
	}
	rec := alert.Record{ID: id, Type: alert.Direction(direction), Value: threshold, Triggered: triggered}
	rule, err := rec.ToRule()
	if err != nil {
		return alert.Rule{}, fmt.Errorf("rule %d: %w", id, err)
	}
	return rule, nil
}
