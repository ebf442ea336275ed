package model

import (
	"errors"
	"fmt"
	"time"
)

// Direction of a ledger record.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Trade is the only durable state owned by the trader. A buy creates it,
// a sell closes it; nothing deletes it.
type Trade struct {
	ID              string    `json:"id"`
	Direction       Direction `json:"direction"`
	QuoteID         string    `json:"quote_id"`
	Quantity        float64   `json:"quantity"`
	EntryPrice      float64   `json:"entry_price"`
	Invested        float64   `json:"invested"`
	TakeProfitPrice float64   `json:"take_profit_price"`
	TakeProfitPct   float64   `json:"take_profit_pct"`
	Tier            Tier      `json:"tier"`
	EntryAt         time.Time `json:"entry_at"`
	Closed          bool      `json:"closed"`
	ExitPrice       float64   `json:"exit_price,omitempty"`
	ExitAmount      float64   `json:"exit_amount,omitempty"`
	ExitAt          time.Time `json:"exit_at,omitempty"`
	ExitKind        SellKind  `json:"exit_kind,omitempty"`
	ExitQuoteID     string    `json:"exit_quote_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TradeExit holds the fields written when a trade is closed.
type TradeExit struct {
	Price   float64
	Amount  float64
	At      time.Time
	Kind    SellKind
	QuoteID string
}

// Validate checks the invariants of a new trade record.
func (t *Trade) Validate() error {
	switch {
	case t.ID == "":
		return errors.New("trade id is required")
	case t.Direction != DirectionBuy && t.Direction != DirectionSell:
		return fmt.Errorf("invalid direction %q", t.Direction)
	case t.Quantity <= 0:
		return fmt.Errorf("quantity must be positive, got %v", t.Quantity)
	case t.EntryPrice <= 0:
		return fmt.Errorf("entry price must be positive, got %v", t.EntryPrice)
	case t.Invested <= 0:
		return fmt.Errorf("invested amount must be positive, got %v", t.Invested)
	case t.EntryAt.IsZero():
		return errors.New("entry timestamp is required")
	}
	return nil
}

// Validate checks an exit before it is applied to a trade.
func (e TradeExit) Validate() error {
	switch {
	case e.Price <= 0:
		return fmt.Errorf("exit price must be positive, got %v", e.Price)
	case e.At.IsZero():
		return errors.New("exit timestamp is required")
	}
	return nil
}

// ProfitPct is the unrealised (or realised) return at price.
func (t *Trade) ProfitPct(price float64) float64 {
	if t.EntryPrice <= 0 {
		return 0
	}
	return (price - t.EntryPrice) / t.EntryPrice * 100
}
