package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"quantlab/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ ResultStore = (*SQLiteStore)(nil)

// SQLiteStore implements ResultStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id              TEXT PRIMARY KEY,
		strategy        TEXT NOT NULL,
		symbol          TEXT NOT NULL,
		created_at      INTEGER NOT NULL,
		initial_capital REAL NOT NULL,
		final_capital   REAL NOT NULL,
		total_return    REAL NOT NULL,
		sharpe_ratio    REAL NOT NULL,
		max_drawdown    REAL NOT NULL,
		trade_count     INTEGER NOT NULL,
		error           TEXT NOT NULL DEFAULT '',
		payload         BLOB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_strategy_symbol ON runs(strategy, symbol)`,
	`CREATE TABLE IF NOT EXISTS trades (
		run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq            INTEGER NOT NULL,
		symbol         TEXT NOT NULL,
		side           TEXT NOT NULL,
		shares         REAL NOT NULL,
		entry_price    REAL NOT NULL,
		entry_time     INTEGER NOT NULL,
		exit_price     REAL NOT NULL,
		exit_time      INTEGER NOT NULL,
		pnl            REAL NOT NULL,
		pnl_percentage REAL NOT NULL,
		stop_loss      REAL NOT NULL,
		take_profit    REAL NOT NULL,
		exit_reason    TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// tables if needed and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY under
	// concurrent batch saves.
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun inserts a run and its trades in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run RunRecord, trades []domain.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(id, strategy, symbol, created_at, initial_capital, final_capital,
		 total_return, sharpe_ratio, max_drawdown, trade_count, error, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Strategy, run.Symbol, run.CreatedAt.UnixMilli(),
		run.InitialCapital, run.FinalCapital, run.TotalReturn,
		run.SharpeRatio, run.MaxDrawdown, run.TradeCount, run.Error, run.Payload,
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO trades
		(run_id, seq, symbol, side, shares, entry_price, entry_time, exit_price,
		 exit_time, pnl, pnl_percentage, stop_loss, take_profit, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, t := range trades {
		_, err := stmt.ExecContext(ctx,
			run.ID, i, t.Symbol, t.Side.String(), t.Shares,
			t.EntryPrice, t.EntryTime.UnixMilli(), t.ExitPrice, t.ExitTime.UnixMilli(),
			t.PnL, t.PnLPercentage, t.StopLoss, t.TakeProfit, t.ExitReason,
		)
		if err != nil {
			return fmt.Errorf("inserting trade %d of run %s: %w", i, run.ID, err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, strategy, symbol, created_at, initial_capital, final_capital,
	total_return, sharpe_ratio, max_drawdown, trade_count, error, payload`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var r RunRecord
	var created int64
	err := row.Scan(&r.ID, &r.Strategy, &r.Symbol, &created,
		&r.InitialCapital, &r.FinalCapital, &r.TotalReturn,
		&r.SharpeRatio, &r.MaxDrawdown, &r.TradeCount, &r.Error, &r.Payload)
	if err != nil {
		return RunRecord{}, err
	}
	r.CreatedAt = time.UnixMilli(created)
	return r, nil
}

// GetRun retrieves a single run by its ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns runs matching f, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, f RunFilter) ([]RunRecord, error) {
	q := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if f.Strategy != "" {
		q += ` AND strategy = ?`
		args = append(args, f.Strategy)
	}
	if f.Symbol != "" {
		q += ` AND symbol = ?`
		args = append(args, f.Symbol)
	}
	q += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListTrades returns the trades recorded for a run in the order they closed.
func (s *SQLiteStore) ListTrades(ctx context.Context, runID string) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, side, shares, entry_price,
		entry_time, exit_price, exit_time, pnl, pnl_percentage, stop_loss,
		take_profit, exit_reason FROM trades WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side string
		var entry, exit int64
		if err := rows.Scan(&t.Symbol, &side, &t.Shares, &t.EntryPrice, &entry,
			&t.ExitPrice, &exit, &t.PnL, &t.PnLPercentage, &t.StopLoss,
			&t.TakeProfit, &t.ExitReason); err != nil {
			return nil, err
		}
		if t.Side, err = domain.ParseSide(side); err != nil {
			return nil, err
		}
		t.EntryTime = time.UnixMilli(entry).UTC()
		t.ExitTime = time.UnixMilli(exit).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}
