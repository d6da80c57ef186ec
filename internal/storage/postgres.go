package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"dollarnow/internal/alert"
)

// rulesLockKey serialises rule replacement across processes sharing a database.
const rulesLockKey int64 = 0x646f6c6c6172

const (
	pgSchemaSQL = `CREATE TABLE IF NOT EXISTS alerts (
        id        BIGINT PRIMARY KEY,
        type      TEXT NOT NULL,
        value     NUMERIC NOT NULL,
        triggered BOOLEAN NOT NULL DEFAULT FALSE
    );
    CREATE TABLE IF NOT EXISTS conversion (
        id         INTEGER PRIMARY KEY,
        value      NUMERIC NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL
    );`

	pgLockRulesSQL  = `SELECT pg_advisory_xact_lock($1);`
	pgClearRulesSQL = `DELETE FROM alerts;`
	pgInsertRuleSQL = `INSERT INTO alerts (id, type, value, triggered) VALUES ($1,$2,$3,$4);`
	pgListRulesSQL  = `SELECT id, type, value::text, triggered FROM alerts ORDER BY id;`

	pgSaveConversionSQL = `INSERT INTO conversion (id, value, updated_at)
    VALUES ($1,$2,$3)
    ON CONFLICT (id) DO UPDATE
    SET value      = EXCLUDED.value,
        updated_at = EXCLUDED.updated_at;`
	pgLoadConversionSQL = `SELECT value::text, updated_at FROM conversion WHERE id = $1;`
)

// PostgresStore persists worker state in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore wires a pgx pool into a store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

// EnsureSchema creates the tables when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, pgSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// ReplaceRules clears and rewrites the rule set atomically.
func (s *PostgresStore) ReplaceRules(ctx context.Context, rules []alert.Rule) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace rules: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	batch.Queue(pgLockRulesSQL, rulesLockKey)
	batch.Queue(pgClearRulesSQL)
	for _, rec := range alert.Records(rules) {
		batch.Queue(pgInsertRuleSQL, rec.ID, string(rec.Type), rec.Value.String(), rec.Triggered)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("replace rules: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace rules: %w", err)
	}
	return nil
}

// ListRules returns the stored rules ordered by id.
func (s *PostgresStore) ListRules(ctx context.Context) ([]alert.Rule, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, pgListRulesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list rules: %w", queryErr)
	}
	defer rows.Close()

	rules := make([]alert.Rule, 0)
	for rows.Next() {
		var (
			id        int64
			direction string
			value     string
			triggered bool
		)
		if err := rows.Scan(&id, &direction, &value, &triggered); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rule, err := parseRule(id, direction, value, triggered)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rules, nil
}

// SaveConversion upserts the conversion record.
func (s *PostgresStore) SaveConversion(ctx context.Context, value decimal.Decimal) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, pgSaveConversionSQL, conversionKey, value.String(), s.now().UTC()); err != nil {
		return fmt.Errorf("save conversion: %w", err)
	}
	return nil
}

// LoadConversion reads the conversion record.
func (s *PostgresStore) LoadConversion(ctx context.Context) (Conversion, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return Conversion{}, false, err
	}

	var (
		value string
		conv  Conversion
	)
	err = pool.QueryRow(ctx, pgLoadConversionSQL, conversionKey).Scan(&value, &conv.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversion{}, false, nil
	}
	if err != nil {
		return Conversion{}, false, fmt.Errorf("load conversion: %w", err)
	}
	if conv.Value, err = decimal.NewFromString(value); err != nil {
		return Conversion{}, false, fmt.Errorf("parse conversion: %w", err)
	}
	return conv, true, nil
}

var _ WorkerStore = (*PostgresStore)(nil)
