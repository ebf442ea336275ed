package model

import "time"

// OHLCV represents a single candlestick bar.
type OHLCV struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// PriceSample is one source's answer for a single collection.
// High24h, Low24h and Volume are zero when the source does not report them.
type PriceSample struct {
	Source    string        `json:"source"`
	Price     float64       `json:"price,omitempty"`
	Volume    float64       `json:"volume,omitempty"`
	High24h   float64       `json:"high_24h,omitempty"`
	Low24h    float64       `json:"low_24h,omitempty"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency"`
	FetchedAt time.Time     `json:"fetched_at"`
}

// ConsolidatedPrice is the median consensus of one collection.
type ConsolidatedPrice struct {
	Price        float64       `json:"price"`
	Volume       float64       `json:"volume"`
	High24h      float64       `json:"high_24h"`
	Low24h       float64       `json:"low_24h"`
	SixMonthHigh float64       `json:"six_month_high"`
	SixMonthLow  float64       `json:"six_month_low"`
	ReferenceBy  string        `json:"reference_by"`
	SourcesUsed  int           `json:"sources_used"`
	TotalSources int           `json:"total_sources"`
	Fallback     bool          `json:"fallback"`
	Samples      []PriceSample `json:"samples"`
	CollectedAt  time.Time     `json:"collected_at"`
}

// Drawdown is the signed percentage distance of Price from SixMonthHigh.
// Zero when no reference high is known.
func (c *ConsolidatedPrice) Drawdown() float64 {
	if c == nil || c.SixMonthHigh <= 0 {
		return 0
	}
	return (c.Price - c.SixMonthHigh) / c.SixMonthHigh * 100
}

// Signals carries the momentum and volatility inputs used to size a tier.
type Signals struct {
	Price  float64 `json:"price"`
	RSI    float64 `json:"rsi"`
	ATR    float64 `json:"atr"`
	Source string  `json:"source"`
}

// ATRPercent expresses ATR relative to Price.
func (s Signals) ATRPercent() float64 {
	if s.Price <= 0 {
		return 0
	}
	return s.ATR / s.Price * 100
}

// Balances is the available amount per currency on the exchange account.
type Balances struct {
	EUR       float64   `json:"eur"`
	BTC       float64   `json:"btc"`
	FetchedAt time.Time `json:"fetched_at"`
}

// SourceStat is the running telemetry of one price source.
type SourceStat struct {
	Source      string    `json:"source"`
	Success     int64     `json:"success"`
	Total       int64     `json:"total"`
	Errors      int64     `json:"errors"`
	LastUsed    time.Time `json:"last_used"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastLatency float64   `json:"last_latency_seconds"`
	AvgLatency  float64   `json:"avg_latency_seconds"`
	LastError   string    `json:"last_error,omitempty"`
}
