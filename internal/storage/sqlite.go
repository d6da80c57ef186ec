package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"dollarnow/internal/alert"
)

const (
	sqliteSchemaSQL = `CREATE TABLE IF NOT EXISTS alerts (
        id        INTEGER PRIMARY KEY,
        type      TEXT NOT NULL,
        value     TEXT NOT NULL,
        triggered INTEGER NOT NULL DEFAULT 0
    );
    CREATE TABLE IF NOT EXISTS conversion (
        id         INTEGER PRIMARY KEY,
        value      TEXT NOT NULL,
        updated_at INTEGER NOT NULL
    );`

	sqliteClearRulesSQL = `DELETE FROM alerts;`
	sqliteInsertRuleSQL = `INSERT INTO alerts (id, type, value, triggered) VALUES (?,?,?,?);`
	sqliteListRulesSQL  = `SELECT id, type, value, triggered FROM alerts ORDER BY id;`

	sqliteSaveConversionSQL = `INSERT INTO conversion (id, value, updated_at)
    VALUES (?,?,?)
    ON CONFLICT (id) DO UPDATE
    SET value      = excluded.value,
        updated_at = excluded.updated_at;`
	sqliteLoadConversionSQL = `SELECT value, updated_at FROM conversion WHERE id = ?;`
)

// SQLiteStore persists worker state in an embedded SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("storage.sqlite_path is required")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// ReplaceRules clears and rewrites the rule set atomically.
func (s *SQLiteStore) ReplaceRules(ctx context.Context, rules []alert.Rule) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace rules: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, sqliteClearRulesSQL); err != nil {
		return fmt.Errorf("clear rules: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, sqliteInsertRuleSQL)
	if err != nil {
		return fmt.Errorf("prepare insert rule: %w", err)
	}
	defer stmt.Close()

	for _, rec := range alert.Records(rules) {
		if _, err := stmt.ExecContext(ctx, rec.ID, string(rec.Type), rec.Value.String(), rec.Triggered); err != nil {
			return fmt.Errorf("insert rule %d: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace rules: %w", err)
	}
	return nil
}

// ListRules returns the stored rules ordered by id.
func (s *SQLiteStore) ListRules(ctx context.Context) ([]alert.Rule, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, sqliteListRulesSQL)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}

// SaveConversion upserts the conversion record.
func (s *SQLiteStore) SaveConversion(ctx context.Context, value decimal.Decimal) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, sqliteSaveConversionSQL, conversionKey, value.String(), s.now().UnixMilli()); err != nil {
		return fmt.Errorf("save conversion: %w", err)
	}
	return nil
}

// LoadConversion reads the conversion record.
func (s *SQLiteStore) LoadConversion(ctx context.Context) (Conversion, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return Conversion{}, false, err
	}

	var (
		value     string
		updatedAt int64
	)
	err = db.QueryRowContext(ctx, sqliteLoadConversionSQL, conversionKey).Scan(&value, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversion{}, false, nil
	}
	if err != nil {
		return Conversion{}, false, fmt.Errorf("load conversion: %w", err)
	}

	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return Conversion{}, false, fmt.Errorf("parse conversion: %w", err)
	}
	return Conversion{Value: parsed, Timestamp: time.UnixMilli(updatedAt)}, true, nil
}

var _ WorkerStore = (*SQLiteStore)(nil)
