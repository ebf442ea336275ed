package model

// Band identifies a drawdown bracket.
type Band string

const (
	BandLight    Band = "light"
	BandModerate Band = "moderate"
	BandStrong   Band = "strong"
	BandBear     Band = "bear"
	BandCrisis   Band = "crisis"
)

// Confidence is a diagnostic score. It never gates a decision.
type Confidence struct {
	Overall    int    `json:"overall"`
	Volatility int    `json:"volatility"`
	Momentum   int    `json:"momentum"`
	Drawdown   int    `json:"drawdown"`
	TakeProfit int    `json:"take_profit"`
	Label      string `json:"label"`
}

// Tier is the risk bracket derived from the drawdown magnitude.
// It is embedded in every buy Trade as a snapshot.
type Tier struct {
	Name              string     `json:"name"`
	Band              Band       `json:"band"`
	DrawdownPct       float64    `json:"drawdown_pct"`
	DrawdownMin       float64    `json:"drawdown_min"`
	DrawdownMax       float64    `json:"drawdown_max"`
	CapitalBasePct    float64    `json:"capital_base_pct"`
	DrawdownFactor    float64    `json:"drawdown_factor"`
	RSIAdjustment     float64    `json:"rsi_adjustment"`
	ATRAdjustment     float64    `json:"atr_adjustment"`
	CapitalPct        float64    `json:"capital_pct"`
	TakeProfitBasePct float64    `json:"take_profit_base_pct"`
	TakeProfitPct     float64    `json:"take_profit_pct"`
	RSI               float64    `json:"rsi"`
	ATR               float64    `json:"atr"`
	Confidence        Confidence `json:"confidence"`
}

// BuyDecision is produced once per cycle.
type BuyDecision struct {
	Allowed         bool    `json:"allowed"`
	Reason          string  `json:"reason"`
	Tier            Tier    `json:"tier"`
	Amount          float64 `json:"amount"`
	Price           float64 `json:"price"`
	TakeProfitPrice float64 `json:"take_profit_price"`
	DrawdownPct     float64 `json:"drawdown_pct"`
	Balance         float64 `json:"balance"`
	Forced          bool    `json:"forced,omitempty"`
}

// SellKind is why a trade is being closed.
type SellKind string

const (
	SellTakeProfit SellKind = "TAKE_PROFIT"
	SellForced     SellKind = "FORCED"
)

// SellDecision is emitted for each open trade that should be closed.
type SellDecision struct {
	Trade       Trade    `json:"trade"`
	Kind        SellKind `json:"kind"`
	Reason      string   `json:"reason"`
	TargetPrice float64  `json:"target_price"`
	ProfitPct   float64  `json:"profit_pct"`
	DrawdownPct float64  `json:"drawdown_pct"`
}
