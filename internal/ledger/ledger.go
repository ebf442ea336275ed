// Package ledger persists trades, source telemetry and system snapshots.
package ledger

import (
	"context"
	"errors"
	"time"

	"TierTrader/internal/model"
)

// ErrLedgerWrite wraps every failed trade write. After a fill it marks a
// reconciliation gap: the exchange holds a trade the ledger does not.
var ErrLedgerWrite = errors.New("ledger write failed")

// TradeLedger is the durable store of trade records.
type TradeLedger interface {
	InsertTrade(ctx context.Context, t model.Trade) error
	UpdateTrade(ctx context.Context, id string, exit model.TradeExit) error
	QueryOpenBuyTrades(ctx context.Context, limit int) ([]model.Trade, error)
	QueryTradesByTierSince(ctx context.Context, tierName string, since time.Time) ([]model.Trade, error)
	QueryBuyTradesSince(ctx context.Context, since time.Time, limit int) ([]model.Trade, error)
	QueryTradesSince(ctx context.Context, since time.Time) ([]model.Trade, error)
}

// Telemetry stores per-source statistics and hourly snapshots.
type Telemetry interface {
	RecordSourceStats(ctx context.Context, samples []model.PriceSample) error
	SourceStats(ctx context.Context) ([]model.SourceStat, error)
	RecordSnapshot(ctx context.Context, s model.Snapshot) error
	PruneSnapshots(ctx context.Context, before time.Time) (int64, error)
}

// Store is everything the trader persists.
type Store interface {
	TradeLedger
	Telemetry
	Close() error
}
