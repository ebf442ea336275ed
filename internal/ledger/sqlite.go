package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"TierTrader/internal/logger"
	"TierTrader/internal/model"
)

// SQLiteStore persists trades, source stats and snapshots in SQLite.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.Mutex
	log *logrus.Entry
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, log: logger.WithComponent("ledger"), now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.log.WithField("path", dbPath).Info("sqlite ledger opened")
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id                TEXT PRIMARY KEY,
			direction         TEXT NOT NULL,
			quote_id          TEXT,
			quantity          REAL NOT NULL,
			entry_price       REAL NOT NULL,
			invested          REAL NOT NULL,
			take_profit_price REAL,
			take_profit_pct   REAL,
			tier_name         TEXT NOT NULL,
			tier              TEXT,
			entry_at          INTEGER NOT NULL,
			closed            INTEGER NOT NULL DEFAULT 0,
			exit_price        REAL,
			exit_amount       REAL,
			exit_at           INTEGER,
			exit_kind         TEXT,
			exit_quote_id     TEXT,
			created_at        INTEGER NOT NULL,
			updated_at        INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_tier_entry ON trades(tier_name, entry_at)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_open ON trades(direction, closed, entry_at)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_exit ON trades(exit_at)`,

		`CREATE TABLE IF NOT EXISTS source_stats (
			source       TEXT PRIMARY KEY,
			success      INTEGER NOT NULL DEFAULT 0,
			total        INTEGER NOT NULL DEFAULT 0,
			errors       INTEGER NOT NULL DEFAULT 0,
			last_used    INTEGER,
			last_success INTEGER,
			last_latency REAL,
			avg_latency  REAL,
			last_error   TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS system_snapshots (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp    INTEGER NOT NULL,
			price        REAL,
			drawdown_pct REAL,
			sources_used INTEGER,
			eur          REAL,
			btc          REAL,
			open_trades  INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON system_snapshots(timestamp)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

const tradeColumns = `id, direction, quote_id, quantity, entry_price, invested,
	take_profit_price, take_profit_pct, tier, entry_at, closed,
	exit_price, exit_amount, exit_at, exit_kind, exit_quote_id, created_at, updated_at`

// InsertTrade writes a new open trade.
func (s *SQLiteStore) InsertTrade(ctx context.Context, t model.Trade) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	tier, err := json.Marshal(t.Tier)
	if err != nil {
		return fmt.Errorf("%w: encode tier: %v", ErrLedgerWrite, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `INSERT INTO trades
		(id, direction, quote_id, quantity, entry_price, invested,
		 take_profit_price, take_profit_pct, tier_name, tier, entry_at, closed,
		 created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, string(t.Direction), t.QuoteID, t.Quantity, t.EntryPrice, t.Invested,
		t.TakeProfitPrice, t.TakeProfitPct, t.Tier.Name, string(tier), t.EntryAt.UnixMilli(), boolInt(t.Closed),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("%w: insert trade %s: %v", ErrLedgerWrite, t.ID, err)
	}
	return nil
}

// UpdateTrade closes an open trade with its exit fields. Closing a trade that
// is missing or already closed is an error.
func (s *SQLiteStore) UpdateTrade(ctx context.Context, id string, exit model.TradeExit) error {
	if err := exit.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE trades SET
		closed = 1, exit_price = ?, exit_amount = ?, exit_at = ?, exit_kind = ?, exit_quote_id = ?, updated_at = ?
		WHERE id = ? AND closed = 0`,
		exit.Price, exit.Amount, exit.At.UnixMilli(), string(exit.Kind), exit.QuoteID, s.now().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("%w: update trade %s: %v", ErrLedgerWrite, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: update trade %s: %v", ErrLedgerWrite, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: trade %s not found or already closed", ErrLedgerWrite, id)
	}
	return nil
}

// QueryOpenBuyTrades returns open buys, oldest first.
func (s *SQLiteStore) QueryOpenBuyTrades(ctx context.Context, limit int) ([]model.Trade, error) {
	return s.queryTrades(ctx, `SELECT `+tradeColumns+` FROM trades
		WHERE direction = 'BUY' AND closed = 0 ORDER BY entry_at ASC LIMIT ?`, limit)
}

// QueryTradesByTierSince returns trades of one tier entered at or after since.
func (s *SQLiteStore) QueryTradesByTierSince(ctx context.Context, tierName string, since time.Time) ([]model.Trade, error) {
	return s.queryTrades(ctx, `SELECT `+tradeColumns+` FROM trades
		WHERE tier_name = ? AND entry_at >= ? ORDER BY entry_at DESC`, tierName, since.UnixMilli())
}

// QueryBuyTradesSince returns the most recent buys entered at or after since.
func (s *SQLiteStore) QueryBuyTradesSince(ctx context.Context, since time.Time, limit int) ([]model.Trade, error) {
	return s.queryTrades(ctx, `SELECT `+tradeColumns+` FROM trades
		WHERE direction = 'BUY' AND entry_at >= ? ORDER BY entry_at DESC LIMIT ?`, since.UnixMilli(), limit)
}

// QueryTradesSince returns trades entered or closed at or after since.
func (s *SQLiteStore) QueryTradesSince(ctx context.Context, since time.Time) ([]model.Trade, error) {
	ms := since.UnixMilli()
	return s.queryTrades(ctx, `SELECT `+tradeColumns+` FROM trades
		WHERE entry_at >= ? OR exit_at >= ? ORDER BY entry_at ASC`, ms, ms)
}

func (s *SQLiteStore) queryTrades(ctx context.Context, query string, args ...any) ([]model.Trade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTrade(rows *sql.Rows) (model.Trade, error) {
	var (
		t                             model.Trade
		direction                     string
		quoteID, tier                 sql.NullString
		tpPrice, tpPct                sql.NullFloat64
		entryAt, createdAt, updatedAt int64
		closed                        int
		exitPrice, exitAmount         sql.NullFloat64
		exitAt                        sql.NullInt64
		exitKind, exitQuoteID         sql.NullString
	)
	err := rows.Scan(&t.ID, &direction, &quoteID, &t.Quantity, &t.EntryPrice, &t.Invested,
		&tpPrice, &tpPct, &tier, &entryAt, &closed,
		&exitPrice, &exitAmount, &exitAt, &exitKind, &exitQuoteID, &createdAt, &updatedAt)
	if err != nil {
		return t, fmt.Errorf("scan trade: %w", err)
	}

	t.Direction = model.Direction(direction)
	t.QuoteID = quoteID.String
	t.TakeProfitPrice = tpPrice.Float64
	t.TakeProfitPct = tpPct.Float64
	if tier.Valid && tier.String != "" {
		if err := json.Unmarshal([]byte(tier.String), &t.Tier); err != nil {
			return t, fmt.Errorf("decode tier of trade %s: %w", t.ID, err)
		}
	}
	t.EntryAt = time.UnixMilli(entryAt)
	t.Closed = closed != 0
	t.ExitPrice = exitPrice.Float64
	t.ExitAmount = exitAmount.Float64
	if exitAt.Valid {
		t.ExitAt = time.UnixMilli(exitAt.Int64)
	}
	t.ExitKind = model.SellKind(exitKind.String)
	t.ExitQuoteID = exitQuoteID.String
	t.CreatedAt = time.UnixMilli(createdAt)
	t.UpdatedAt = time.UnixMilli(updatedAt)
	return t, nil
}

// RecordSourceStats folds one collection's samples into the running totals.
func (s *SQLiteStore) RecordSourceStats(ctx context.Context, samples []model.PriceSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, sm := range samples {
		used := sm.FetchedAt.UnixMilli()
		var success, errs int
		var lastSuccess any
		if sm.Success {
			success, lastSuccess = 1, used
		} else {
			errs = 1
		}
		latency := sm.Latency.Seconds()

		_, err := tx.ExecContext(ctx, `INSERT INTO source_stats
			(source, success, total, errors, last_used, last_success, last_latency, avg_latency, last_error)
			VALUES (?, ?, 1, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(source) DO UPDATE SET
				success      = success + excluded.success,
				total        = total + 1,
				errors       = errors + excluded.errors,
				last_used    = excluded.last_used,
				last_success = COALESCE(excluded.last_success, last_success),
				last_latency = excluded.last_latency,
				avg_latency  = (COALESCE(avg_latency, 0) * total + excluded.last_latency) / (total + 1),
				last_error   = CASE WHEN excluded.errors > 0 THEN excluded.last_error ELSE last_error END`,
			sm.Source, success, errs, used, lastSuccess, latency, latency, sm.Error,
		)
		if err != nil {
			return fmt.Errorf("upsert stats for %s: %w", sm.Source, err)
		}
	}
	return tx.Commit()
}

// SourceStats returns all source statistics ordered by name.
func (s *SQLiteStore) SourceStats(ctx context.Context) ([]model.SourceStat, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, success, total, errors, last_used, last_success,
		last_latency, avg_latency, last_error FROM source_stats ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("query source stats: %w", err)
	}
	defer rows.Close()

	var out []model.SourceStat
	for rows.Next() {
		var (
			st                    model.SourceStat
			lastUsed, lastSuccess sql.NullInt64
			lastLat, avgLat       sql.NullFloat64
			lastErr               sql.NullString
		)
		if err := rows.Scan(&st.Source, &st.Success, &st.Total, &st.Errors, &lastUsed, &lastSuccess,
			&lastLat, &avgLat, &lastErr); err != nil {
			return nil, fmt.Errorf("scan source stat: %w", err)
		}
		if lastUsed.Valid {
			st.LastUsed = time.UnixMilli(lastUsed.Int64)
		}
		if lastSuccess.Valid {
			st.LastSuccess = time.UnixMilli(lastSuccess.Int64)
		}
		st.LastLatency = lastLat.Float64
		st.AvgLatency = avgLat.Float64
		st.LastError = lastErr.String
		out = append(out, st)
	}
	return out, rows.Err()
}

// RecordSnapshot appends an hourly system snapshot.
func (s *SQLiteStore) RecordSnapshot(ctx context.Context, snap model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO system_snapshots
		(timestamp, price, drawdown_pct, sources_used, eur, btc, open_trades)
		VALUES (?,?,?,?,?,?,?)`,
		snap.Timestamp.UnixMilli(), snap.Price, snap.DrawdownPct, snap.SourcesUsed,
		snap.EUR, snap.BTC, snap.OpenTrades,
	)
	return err
}

// PruneSnapshots deletes snapshots older than before. Trades are never pruned.
func (s *SQLiteStore) PruneSnapshots(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM system_snapshots WHERE timestamp < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
