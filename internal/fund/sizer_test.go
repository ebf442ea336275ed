package fund

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"TierTrader/internal/config"
)

func testTrading() config.Trading {
	return config.Trading{MinBuy: 0.01, MaxBuy: 5000, ForceBuyMax: 10, ForceBuyPct: 10}
}

func TestAmount(t *testing.T) {
	s := NewSizer(testTrading())
	tests := []struct {
		name       string
		balance    float64
		capitalPct float64
		want       float64
	}{
		{"plain share", 1000, 13, 130},
		{"capped at max", 100000, 70, 5000},
		{"floored at min", 0.05, 5, 0.01},
		{"rounded down to the cent", 333.33, 13, 43.33},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, s.Amount(tt.balance, tt.capitalPct), 1e-9)
		})
	}
}

func TestForcedAmount(t *testing.T) {
	s := NewSizer(testTrading())
	assert.InDelta(t, 10, s.ForcedAmount(1000), 1e-9)
	assert.InDelta(t, 5, s.ForcedAmount(50), 1e-9)
}

func TestAffordable(t *testing.T) {
	s := NewSizer(testTrading())
	assert.True(t, s.Affordable(10, 10))
	assert.False(t, s.Affordable(10.01, 10))
	assert.False(t, s.Affordable(0.001, 10))
}
