// Package fund sizes buy orders against the available exchange balance.
package fund

import (
	"math"

	"TierTrader/internal/config"
)

// Sizer turns a capital percentage into an order amount in EUR. The exchange
// balance is authoritative, so the sizer keeps no state of its own.
type Sizer struct {
	minBuy   float64
	maxBuy   float64
	forceMax float64
	forcePct float64
}

func NewSizer(cfg config.Trading) *Sizer {
	return &Sizer{
		minBuy:   cfg.MinBuy,
		maxBuy:   cfg.MaxBuy,
		forceMax: cfg.ForceBuyMax,
		forcePct: cfg.ForceBuyPct,
	}
}

// Amount is balance × capitalPct%, clamped to [minBuy, maxBuy] and rounded
// down to the cent.
func (s *Sizer) Amount(balance, capitalPct float64) float64 {
	raw := balance * capitalPct / 100
	return floorCents(math.Max(s.minBuy, math.Min(s.maxBuy, raw)))
}

// ForcedAmount is the smaller of the fixed forced-buy cap and a share of the
// balance.
func (s *Sizer) ForcedAmount(balance float64) float64 {
	return floorCents(math.Min(s.forceMax, balance*s.forcePct/100))
}

// Affordable reports whether amount can be paid from balance.
func (s *Sizer) Affordable(amount, balance float64) bool {
	return amount >= s.minBuy && amount <= balance
}

func floorCents(v float64) float64 {
	return math.Floor(v*100+1e-9) / 100
}
