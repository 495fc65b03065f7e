// Package storage persists orders, audit events and mass-test results
// in SQLite. Hot-path writes go through a buffered async queue so the
// trading loop never blocks on disk; overflow drops the write and bumps
// a counter instead.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/audit"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/domain"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/metrics"
)

// writeQueueSize bounds the async write backlog. One slot per pending
// order or audit row; beyond this, writes are dropped.
const writeQueueSize = 1024

type writeOp func(ctx context.Context) error

// Store handles persistent storage in SQLite.
type Store struct {
	db      *sql.DB
	metrics *metrics.Metrics

	writes chan writeOp
	quit   chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup
}

// NewStore opens (or creates) the database at dbPath with WAL mode
// enabled and starts the async writer. metrics may be nil.
func NewStore(dbPath string, m *metrics.Metrics) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Configure SQLite for a single fast writer with durable-enough sync.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:      db,
		metrics: m,
		writes:  make(chan writeOp, writeQueueSize),
		quit:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.runWriter()
	return s, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			type TEXT NOT NULL,
			price REAL NOT NULL,
			amount REAL NOT NULL,
			filled REAL NOT NULL,
			avg_price REAL NOT NULL,
			status TEXT NOT NULL,
			mode TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			ts_ms INTEGER NOT NULL,
			event TEXT NOT NULL,
			symbol TEXT,
			order_id TEXT,
			qty REAL,
			payload BLOB
		);`,
		`CREATE TABLE IF NOT EXISTS bot_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bot_id TEXT NOT NULL,
			cycle INTEGER NOT NULL,
			orders INTEGER NOT NULL,
			fills INTEGER NOT NULL,
			pnl REAL NOT NULL,
			pnl_pct REAL NOT NULL,
			wins INTEGER NOT NULL,
			losses INTEGER NOT NULL,
			runtime_ms INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bot_stats_cycle ON bot_stats(cycle);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

// runWriter applies queued writes until Close, then drains the backlog.
func (s *Store) runWriter() {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.writes:
			s.apply(op)
		case <-s.quit:
			for {
				select {
				case op := <-s.writes:
					s.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) apply(op writeOp) {
	if err := op(context.Background()); err != nil {
		slog.Warn("async store write failed", slog.Any("error", err))
	}
}

// enqueue hands a write to the background writer. Full queue or closed
// store: the write is dropped and counted.
func (s *Store) enqueue(op writeOp) {
	if s.closed.Load() {
		s.metrics.RecordStoreDropped()
		return
	}
	select {
	case s.writes <- op:
	default:
		s.metrics.RecordStoreDropped()
	}
}

// SaveOrderAsync persists an order without blocking the caller.
// Implements the execution OrderSink.
func (s *Store) SaveOrderAsync(order domain.Order) {
	s.enqueue(func(ctx context.Context) error {
		return s.SaveOrder(ctx, order)
	})
}

// AppendAuditAsync persists an audit event without blocking the caller.
func (s *Store) AppendAuditAsync(ev audit.Event) {
	s.enqueue(func(ctx context.Context) error {
		return s.AppendAudit(ctx, ev)
	})
}

// SaveOrder upserts an order row keyed by order id.
func (s *Store) SaveOrder(ctx context.Context, o domain.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, symbol, side, type, price, amount, filled, avg_price, status, mode, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			price=excluded.price,
			amount=excluded.amount,
			filled=excluded.filled,
			avg_price=excluded.avg_price,
			status=excluded.status,
			updated_at=excluded.updated_at`,
		o.ID, o.Symbol, string(o.Side), o.Type, o.Price, o.Amount, o.Filled,
		o.AvgPrice, string(o.Status), o.Mode,
		o.CreatedAt.UnixMilli(), o.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert order %s: %w", o.ID, err)
	}
	return nil
}

// GetOrder loads one order by id. sql.ErrNoRows when absent.
func (s *Store) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	var (
		o                    domain.Order
		side, status         string
		createdMS, updatedMS int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, side, type, price, amount, filled, avg_price, status, mode, created_at, updated_at
		FROM orders WHERE id = ?`, id,
	).Scan(&o.ID, &o.Symbol, &side, &o.Type, &o.Price, &o.Amount, &o.Filled,
		&o.AvgPrice, &status, &o.Mode, &createdMS, &updatedMS)
	if err != nil {
		return domain.Order{}, err
	}
	o.Side = domain.Side(side)
	o.Status = domain.Status(status)
	o.ExecutedQty = o.Filled
	o.CreatedAt = time.UnixMilli(createdMS)
	o.UpdatedAt = time.UnixMilli(updatedMS)
	return o, nil
}

// ListOrders returns the most recent orders for a symbol, newest first.
// Empty symbol lists across all symbols.
func (s *Store) ListOrders(ctx context.Context, symbol string, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, symbol, side, type, price, amount, filled, avg_price, status, mode, created_at, updated_at
		FROM orders`
	args := []any{}
	if symbol != "" {
		query += " WHERE symbol = ?"
		args = append(args, symbol)
	}
	query += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		var (
			o                    domain.Order
			side, status         string
			createdMS, updatedMS int64
		)
		if err := rows.Scan(&o.ID, &o.Symbol, &side, &o.Type, &o.Price, &o.Amount,
			&o.Filled, &o.AvgPrice, &status, &o.Mode, &createdMS, &updatedMS); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.Side = domain.Side(side)
		o.Status = domain.Status(status)
		o.ExecutedQty = o.Filled
		o.CreatedAt = time.UnixMilli(createdMS)
		o.UpdatedAt = time.UnixMilli(updatedMS)
		out = append(out, o)
	}
	return out, rows.Err()
}

// AppendAudit appends one audit event row. The extra map is stored as
// a JSON payload.
func (s *Store) AppendAudit(ctx context.Context, ev audit.Event) error {
	var payload []byte
	if len(ev.Extra) > 0 {
		var err error
		payload, err = json.Marshal(ev.Extra)
		if err != nil {
			return fmt.Errorf("failed to marshal audit payload: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (ts_ms, event, symbol, order_id, qty, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.TsMS, ev.Event, ev.Symbol, ev.OrderID, ev.Qty, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// CountAuditEvents returns how many rows exist for one event name, or
// all rows when name is empty.
func (s *Store) CountAuditEvents(ctx context.Context, name string) (int, error) {
	var n int
	var err error
	if name == "" {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events").Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events WHERE event = ?", name).Scan(&n)
	}
	return n, err
}

// SaveBotStats appends one bot's cycle results.
func (s *Store) SaveBotStats(ctx context.Context, st domain.BotStats) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_stats (bot_id, cycle, orders, fills, pnl, pnl_pct, wins, losses, runtime_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.BotID, st.Cycle, st.Orders, st.Fills, st.PnL, st.PnLPct,
		st.Wins, st.Losses, st.Runtime.Milliseconds(), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert bot stats: %w", err)
	}
	return nil
}

// ListBotStats returns all stats rows for one cycle ordered by PnL
// descending, so the first row is the cycle winner.
func (s *Store) ListBotStats(ctx context.Context, cycle int) ([]domain.BotStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bot_id, cycle, orders, fills, pnl, pnl_pct, wins, losses, runtime_ms
		FROM bot_stats WHERE cycle = ? ORDER BY pnl DESC`, cycle)
	if err != nil {
		return nil, fmt.Errorf("failed to query bot stats: %w", err)
	}
	defer rows.Close()

	var out []domain.BotStats
	for rows.Next() {
		var st domain.BotStats
		var runtimeMS int64
		if err := rows.Scan(&st.BotID, &st.Cycle, &st.Orders, &st.Fills,
			&st.PnL, &st.PnLPct, &st.Wins, &st.Losses, &runtimeMS); err != nil {
			return nil, fmt.Errorf("failed to scan bot stats: %w", err)
		}
		st.Runtime = time.Duration(runtimeMS) * time.Millisecond
		out = append(out, st)
	}
	return out, rows.Err()
}

// UpsertMetadata saves a key-value pair to the metadata table.
func (s *Store) UpsertMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
		key, value, time.Now().UnixMilli(),
	)
	return err
}

// GetMetadata retrieves a value from the metadata table. Missing keys
// return the empty string.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// Flush blocks until every write queued before the call has been
// applied. Intended for tests and shutdown paths.
func (s *Store) Flush() {
	if s.closed.Load() {
		return
	}
	done := make(chan struct{})
	marker := writeOp(func(context.Context) error {
		close(done)
		return nil
	})
	select {
	case s.writes <- marker:
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	case <-time.After(5 * time.Second):
	}
}

// Close drains the write queue and closes the database.
func (s *Store) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.quit)
		s.wg.Wait()
	}
	return s.db.Close()
}
