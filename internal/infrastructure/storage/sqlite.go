package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vitos/crypto_risk_engine/internal/domain"
)

// SQLiteStore persists protected positions, the capital ledger and closed
// trades. It backs restart recovery: on boot the engine reloads the ledger
// snapshot and rehydrates the protective ladder from the positions table.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			entry_price REAL NOT NULL,
			quantity REAL NOT NULL,
			leverage REAL NOT NULL,
			stop_loss REAL NOT NULL,
			break_even_level REAL NOT NULL,
			trailing_trigger REAL NOT NULL,
			trailing_distance REAL NOT NULL,
			take_profits TEXT NOT NULL,
			highest_price REAL NOT NULL,
			lowest_price REAL NOT NULL,
			at_break_even BOOLEAN NOT NULL DEFAULT 0,
			trailing_active BOOLEAN NOT NULL DEFAULT 0,
			opened_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol);`,
		`CREATE TABLE IF NOT EXISTS ledger (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			initial_capital REAL NOT NULL,
			current_capital REAL NOT NULL,
			high_water_mark REAL NOT NULL,
			daily_pnl REAL NOT NULL,
			weekly_pnl REAL NOT NULL,
			consecutive_losses INTEGER NOT NULL,
			worst_daily_loss_pct REAL NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS closed_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			position_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity REAL NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			pnl REAL NOT NULL,
			reason TEXT NOT NULL,
			closed_at DATETIME NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// PositionRepository implementation

func (s *SQLiteStore) SavePosition(ctx context.Context, pos *domain.ProtectedPosition) error {
	tps, err := json.Marshal(pos.TakeProfits)
	if err != nil {
		return fmt.Errorf("marshal take profits: %w", err)
	}

	query := `INSERT INTO positions (id, symbol, side, entry_price, quantity, leverage, stop_loss, break_even_level, trailing_trigger, trailing_distance, take_profits, highest_price, lowest_price, at_break_even, trailing_active, opened_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(id) DO UPDATE SET
			  quantity=excluded.quantity,
			  stop_loss=excluded.stop_loss,
			  take_profits=excluded.take_profits,
			  highest_price=excluded.highest_price,
			  lowest_price=excluded.lowest_price,
			  at_break_even=excluded.at_break_even,
			  trailing_active=excluded.trailing_active`
	_, err = s.db.ExecContext(ctx, query,
		pos.ID, pos.Symbol, string(pos.Side), pos.EntryPrice, pos.Quantity, pos.Leverage,
		pos.StopLoss, pos.BreakEvenLevel, pos.TrailingTrigger, pos.TrailingDistance,
		string(tps), pos.HighestPrice, pos.LowestPrice, pos.AtBreakEven, pos.TrailingActive, pos.OpenedAt)
	return err
}

func (s *SQLiteStore) GetPosition(ctx context.Context, id string) (*domain.ProtectedPosition, error) {
	query := `SELECT id, symbol, side, entry_price, quantity, leverage, stop_loss, break_even_level, trailing_trigger, trailing_distance, take_profits, highest_price, lowest_price, at_break_even, trailing_active, opened_at FROM positions WHERE id = ?`
	return scanPosition(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) ListPositions(ctx context.Context) ([]*domain.ProtectedPosition, error) {
	query := `SELECT id, symbol, side, entry_price, quantity, leverage, stop_loss, break_even_level, trailing_trigger, trailing_distance, take_profits, highest_price, lowest_price, at_break_even, trailing_active, opened_at FROM positions`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*domain.ProtectedPosition
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

func (s *SQLiteStore) DeletePosition(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM positions WHERE id = ?", id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (*domain.ProtectedPosition, error) {
	var (
		p    domain.ProtectedPosition
		side string
		tps  string
	)
	err := row.Scan(&p.ID, &p.Symbol, &side, &p.EntryPrice, &p.Quantity, &p.Leverage,
		&p.StopLoss, &p.BreakEvenLevel, &p.TrailingTrigger, &p.TrailingDistance,
		&tps, &p.HighestPrice, &p.LowestPrice, &p.AtBreakEven, &p.TrailingActive, &p.OpenedAt)
	if err != nil {
		return nil, err
	}
	p.Side = domain.Side(side)
	if err := json.Unmarshal([]byte(tps), &p.TakeProfits); err != nil {
		return nil, fmt.Errorf("unmarshal take profits for %s: %w", p.ID, err)
	}
	return &p, nil
}

// LedgerRepository implementation

func (s *SQLiteStore) SaveLedger(ctx context.Context, state domain.LedgerState) error {
	query := `INSERT INTO ledger (id, initial_capital, current_capital, high_water_mark, daily_pnl, weekly_pnl, consecutive_losses, worst_daily_loss_pct, updated_at)
			  VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(id) DO UPDATE SET
			  initial_capital=excluded.initial_capital,
			  current_capital=excluded.current_capital,
			  high_water_mark=excluded.high_water_mark,
			  daily_pnl=excluded.daily_pnl,
			  weekly_pnl=excluded.weekly_pnl,
			  consecutive_losses=excluded.consecutive_losses,
			  worst_daily_loss_pct=excluded.worst_daily_loss_pct,
			  updated_at=excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		state.InitialCapital, state.CurrentCapital, state.HighWaterMark,
		state.DailyPnL, state.WeeklyPnL, state.ConsecutiveLosses,
		state.WorstDailyLossPct, state.UpdatedAt)
	return err
}

// LoadLedger returns the persisted ledger snapshot, or nil on first run.
func (s *SQLiteStore) LoadLedger(ctx context.Context) (*domain.LedgerState, error) {
	query := `SELECT initial_capital, current_capital, high_water_mark, daily_pnl, weekly_pnl, consecutive_losses, worst_daily_loss_pct, updated_at FROM ledger WHERE id = 1`
	row := s.db.QueryRowContext(ctx, query)

	var st domain.LedgerState
	err := row.Scan(&st.InitialCapital, &st.CurrentCapital, &st.HighWaterMark,
		&st.DailyPnL, &st.WeeklyPnL, &st.ConsecutiveLosses, &st.WorstDailyLossPct, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *SQLiteStore) AppendClosedTrade(ctx context.Context, trade *domain.ClosedTrade) error {
	query := `INSERT INTO closed_trades (position_id, symbol, side, quantity, entry_price, exit_price, pnl, reason, closed_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		trade.PositionID, trade.Symbol, string(trade.Side), trade.Quantity,
		trade.EntryPrice, trade.ExitPrice, trade.PnL, trade.Reason, trade.ClosedAt)
	return err
}

func (s *SQLiteStore) ListClosedTrades(ctx context.Context, limit int) ([]*domain.ClosedTrade, error) {
	query := `SELECT id, position_id, symbol, side, quantity, entry_price, exit_price, pnl, reason, closed_at FROM closed_trades ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.ClosedTrade
	for rows.Next() {
		var (
			t    domain.ClosedTrade
			side string
		)
		if err := rows.Scan(&t.ID, &t.PositionID, &t.Symbol, &side, &t.Quantity, &t.EntryPrice, &t.ExitPrice, &t.PnL, &t.Reason, &t.ClosedAt); err != nil {
			return nil, err
		}
		t.Side = domain.Side(side)
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}
