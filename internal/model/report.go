package model

import "time"

// Fill describes a completed exchange order.
type Fill struct {
	Side      Side    `json:"side"`
	QuoteID   string  `json:"quote_id"`
	TradeID   string  `json:"trade_id"`
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price"`
	Amount    float64 `json:"amount"`
	ProfitPct float64 `json:"profit_pct,omitempty"`
	ReceiptID string  `json:"receipt_id,omitempty"`
}

// OrderOutcome is the audit entry for one order attempt in a cycle. Skipped
// marks a buy dropped by the final duplicate check.
type OrderOutcome struct {
	Side    Side   `json:"side"`
	TradeID string `json:"trade_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
	Fill    *Fill  `json:"fill,omitempty"`
}

// CycleReport is returned by every cycle and forced action, including the
// ones that took no action.
type CycleReport struct {
	ExecutionID   string         `json:"execution_id"`
	Success       bool           `json:"success"`
	Reason        string         `json:"reason"`
	Action        string         `json:"action"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	Price         float64        `json:"price,omitempty"`
	DrawdownPct   float64        `json:"drawdown_pct"`
	SourcesUsed   int            `json:"sources_used,omitempty"`
	Fallback      bool           `json:"fallback,omitempty"`
	Tier          *Tier          `json:"tier,omitempty"`
	OpenTrades    int            `json:"open_trades"`
	Balance       float64        `json:"balance,omitempty"`
	Sells         []OrderOutcome `json:"sells,omitempty"`
	SellsExecuted int            `json:"sells_executed"`
	Buy           *BuyDecision   `json:"buy_decision,omitempty"`
	BuyOutcome    *OrderOutcome  `json:"buy,omitempty"`
	BuyExecuted   bool           `json:"buy_executed"`
}

// Action labels for CycleReport.Action.
const (
	ActionNone  = "NONE"
	ActionBuy   = "BUY_EXECUTED"
	ActionSells = "SELLS_EXECUTED"
	ActionBoth  = "SELLS_AND_BUY_EXECUTED"
)

// StatusReport is a read-only view of the system.
type StatusReport struct {
	Price        *ConsolidatedPrice `json:"price,omitempty"`
	PriceError   string             `json:"price_error,omitempty"`
	Balances     *Balances          `json:"balances,omitempty"`
	BalanceError string             `json:"balance_error,omitempty"`
	OpenTrades   int                `json:"open_trades"`
	BuysToday    int                `json:"buys_today"`
	BuysPerTier  map[string]int     `json:"buys_per_tier"`
	SourceStats  []SourceStat       `json:"source_stats"`
	GeneratedAt  time.Time          `json:"generated_at"`
}

// DailyReport summarises the trades of one calendar day.
type DailyReport struct {
	Date          string         `json:"date"`
	Buys          int            `json:"buys"`
	Sells         int            `json:"sells"`
	InvestedTotal float64        `json:"invested_total"`
	RealizedTotal float64        `json:"realized_total"`
	BuysPerTier   map[string]int `json:"buys_per_tier"`
	SourceStats   []SourceStat   `json:"source_stats"`
	Trades        []Trade        `json:"trades"`
}

// Snapshot is the hourly persisted system state.
type Snapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	Price       float64   `json:"price"`
	DrawdownPct float64   `json:"drawdown_pct"`
	SourcesUsed int       `json:"sources_used"`
	EUR         float64   `json:"eur"`
	BTC         float64   `json:"btc"`
	OpenTrades  int       `json:"open_trades"`
}
