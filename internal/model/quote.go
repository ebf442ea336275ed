package model

// Side of an exchange order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// QuoteState is the exchange-side lifecycle of a currency exchange quote.
type QuoteState string

const (
	QuoteCreated   QuoteState = "CREATED"
	QuotePending   QuoteState = "PENDING"
	QuoteCompleted QuoteState = "COMPLETED"
	QuoteFailed    QuoteState = "FAILED"
	QuoteExpired   QuoteState = "EXPIRED"
	QuoteCancelled QuoteState = "CANCELLED"
)

// Failed reports whether the state is a terminal failure.
func (s QuoteState) Failed() bool {
	return s == QuoteFailed || s == QuoteExpired || s == QuoteCancelled
}

// QuoteRequest asks the exchange for a conversion quote. Amount is in EUR
// for buys and in BTC for sells.
type QuoteRequest struct {
	Side   Side
	Amount float64
}

// Quote is the exchange's view of a quote.
type Quote struct {
	ID             string     `json:"id"`
	State          QuoteState `json:"state"`
	SourceAmount   float64    `json:"source_amount"`
	SourceCurrency string     `json:"source_currency"`
	TargetAmount   float64    `json:"target_amount"`
	TargetCurrency string     `json:"target_currency"`
	ExchangeRate   float64    `json:"exchange_rate"`
}

// Receipt is the best-effort invoice describing a fill.
type Receipt struct {
	CorrelationID string
	TradeID       string
	Description   string
	Amount        string
	Currency      string
}
