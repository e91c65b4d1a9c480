package storage

// sqlite.go — append-only audit log plus daily snapshots.
//
// Two tables:
//   - `orders`: one row per submitted order, never updated except for the
//     terminal status transition. This is the record the startup state check
//     reconciles against the exchange.
//   - `snapshots`: one row per trading day (UPSERT on date), capturing the
//     equity the daily risk budget was derived from.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/acortes/kalmaker/internal/domain"
	"github.com/acortes/kalmaker/internal/ports"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    tick_time  DATETIME NOT NULL,
    exec_time  DATETIME NOT NULL,
    latency_ms REAL     NOT NULL DEFAULT 0,
    strategy   TEXT     NOT NULL,
    ticker     TEXT     NOT NULL,
    side       TEXT     NOT NULL,
    price      INTEGER  NOT NULL,
    quantity   INTEGER  NOT NULL,
    cost       REAL     NOT NULL DEFAULT 0,
    fee        REAL     NOT NULL DEFAULT 0,
    order_id   TEXT     NOT NULL UNIQUE,
    status     TEXT     NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
    date               TEXT PRIMARY KEY,
    created_at         DATETIME NOT NULL,
    daily_start_equity REAL     NOT NULL,
    balance            REAL     NOT NULL,
    portfolio_value    REAL     NOT NULL,
    positions          TEXT     NOT NULL DEFAULT '[]',
    strategy           TEXT     NOT NULL,
    risk_fraction      REAL     NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_exec   ON orders(exec_time DESC);
CREATE INDEX IF NOT EXISTS idx_orders_ticker ON orders(ticker);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
`

// SQLiteStore implements ports.TradeStore on SQLite (pure Go, no CGo).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at the given path and
// applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	// SQLite is single-writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveOrder(ctx context.Context, rec ports.OrderRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (tick_time, exec_time, latency_ms, strategy, ticker,
		                    side, price, quantity, cost, fee, order_id, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fmtTime(rec.TickTime), fmtTime(rec.ExecTime), rec.LatencyMS, rec.Strategy,
		rec.Ticker, string(rec.Side), rec.Price, rec.Quantity, rec.Cost, rec.Fee,
		rec.OrderID, string(rec.Status))
	if err != nil {
		return fmt.Errorf("storage.SaveOrder: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CountOrdersSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE exec_time >= ?`, fmtTime(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage.CountOrdersSince: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) OrdersSince(ctx context.Context, since time.Time) ([]ports.OrderRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tick_time, exec_time, latency_ms, strategy, ticker, side,
		       price, quantity, cost, fee, order_id, status
		FROM orders WHERE exec_time >= ? ORDER BY exec_time`, fmtTime(since))
	if err != nil {
		return nil, fmt.Errorf("storage.OrdersSince: %w", err)
	}
	defer rows.Close()

	var out []ports.OrderRecord
	for rows.Next() {
		var (
			r                  ports.OrderRecord
			tickTime, execTime string
			side, status       string
		)
		if err := rows.Scan(&tickTime, &execTime, &r.LatencyMS, &r.Strategy, &r.Ticker,
			&side, &r.Price, &r.Quantity, &r.Cost, &r.Fee, &r.OrderID, &status); err != nil {
			return nil, fmt.Errorf("storage.OrdersSince: scan: %w", err)
		}
		r.TickTime, _ = time.Parse(time.RFC3339Nano, tickTime)
		r.ExecTime, _ = time.Parse(time.RFC3339Nano, execTime)
		r.Side = domain.Side(side)
		r.Status = domain.OrderStatus(status)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.OrdersSince: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap ports.Snapshot) error {
	positions, err := json.Marshal(snap.Positions)
	if err != nil {
		return fmt.Errorf("storage.SaveSnapshot: marshal positions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (date, created_at, daily_start_equity, balance,
		                       portfolio_value, positions, strategy, risk_fraction)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
		    created_at         = excluded.created_at,
		    daily_start_equity = excluded.daily_start_equity,
		    balance            = excluded.balance,
		    portfolio_value    = excluded.portfolio_value,
		    positions          = excluded.positions,
		    strategy           = excluded.strategy,
		    risk_fraction      = excluded.risk_fraction`,
		snap.Date, fmtTime(snap.Timestamp), snap.DailyStartEquity, snap.Balance,
		snap.PortfolioValue, string(positions), snap.StrategyName, snap.RiskFraction)
	if err != nil {
		return fmt.Errorf("storage.SaveSnapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context) (ports.Snapshot, bool, error) {
	var (
		snap      ports.Snapshot
		createdAt string
		positions string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT date, created_at, daily_start_equity, balance, portfolio_value,
		       positions, strategy, risk_fraction
		FROM snapshots ORDER BY date DESC LIMIT 1`).
		Scan(&snap.Date, &createdAt, &snap.DailyStartEquity, &snap.Balance,
			&snap.PortfolioValue, &positions, &snap.StrategyName, &snap.RiskFraction)
	if err == sql.ErrNoRows {
		return ports.Snapshot{}, false, nil
	}
	if err != nil {
		return ports.Snapshot{}, false, fmt.Errorf("storage.LatestSnapshot: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		snap.Timestamp = t
	}
	if err := json.Unmarshal([]byte(positions), &snap.Positions); err != nil {
		return ports.Snapshot{}, false, fmt.Errorf("storage.LatestSnapshot: positions: %w", err)
	}
	return snap, true, nil
}

func (s *SQLiteStore) OpenLocalOrders(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT order_id FROM orders WHERE status = ?`, string(domain.StatusResting))
	if err != nil {
		return nil, fmt.Errorf("storage.OpenLocalOrders: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage.OpenLocalOrders: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.OpenLocalOrders: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) MarkOrderTerminal(ctx context.Context, orderID string, status domain.OrderStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("storage.MarkOrderTerminal: %q is not terminal", status)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ? WHERE order_id = ?`, string(status), orderID)
	if err != nil {
		return fmt.Errorf("storage.MarkOrderTerminal: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// timeLayout keeps a fixed-width fraction: RFC3339Nano drops trailing zeros,
// which breaks lexicographic ordering in SQL comparisons.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// fmtTime normalizes timestamps to UTC so string comparison in SQL orders
// chronologically.
func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
