package strategy

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TierTrader/internal/config"
	"TierTrader/internal/model"
)

func testTrading() config.Trading {
	return config.Trading{
		MinCapitalPct: 5, MaxCapitalPct: 70,
		MinTakeProfitPct: 5, MaxTakeProfitPct: 200,
		MaxRSI: 80, MinBuy: 0.01, MaxBuy: 5000,
		ForceBuyMax: 10, ForceBuyPct: 10,
	}
}

func staticSignals(price float64) model.Signals {
	return model.Signals{Price: price, RSI: 50, ATR: price * 0.02, Source: "static"}
}

type stubGuard struct{ err error }

func (g stubGuard) Check(context.Context, string) error { return g.err }

func TestRSIAdjustment(t *testing.T) {
	tests := []struct {
		rsi  float64
		want float64
	}{
		{0, 1.3}, {10, 1.3}, {30, 1.3}, {40, 1.15}, {50, 1.3}, {60, 1.15}, {70, 0.7}, {90, 0.7}, {100, 0.7},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("rsi=%v", tt.rsi), func(t *testing.T) {
			assert.InDelta(t, tt.want, RSIAdjustment(tt.rsi), 1e-9)
		})
	}
}

func TestATRAdjustment(t *testing.T) {
	assert.Equal(t, 0.8, ATRAdjustment(0))
	assert.InDelta(t, 0.82, ATRAdjustment(820), 1e-9)
	assert.Equal(t, 1.5, ATRAdjustment(5000))
}

func TestClassify_Scenario(t *testing.T) {
	e := NewEngine(testTrading())
	drawdown := (41000.0 - 48000.0) / 48000.0 * 100

	tier := e.Classify(drawdown, staticSignals(41000))
	assert.Equal(t, model.BandLight, tier.Band)
	assert.Equal(t, "Correction légère ATR+RSI", tier.Name)
	assert.Equal(t, 10.0, tier.CapitalBasePct)
	assert.InDelta(t, 13.0, tier.CapitalPct, 1e-9)
	assert.InDelta(t, 8*1.3*0.82, tier.TakeProfitPct, 1e-9)
	assert.Equal(t, 46, tier.Confidence.Overall)
	assert.Equal(t, "medium", tier.Confidence.Label)
}

func TestClassify_Bands(t *testing.T) {
	e := NewEngine(testTrading())
	tests := []struct {
		drawdown float64
		band     model.Band
		base     float64
		factor   float64
		tpBase   float64
	}{
		{0, model.BandLight, 10, 1.0, 8},
		{5, model.BandLight, 10, 1.0, 8},
		{-15, model.BandLight, 10, 1.0, 8},
		{-15.01, model.BandModerate, 20, 1.2, 12},
		{-20, model.BandModerate, 20, 1.2, 12},
		{-25, model.BandStrong, 30, 1.5, 18},
		{-30, model.BandBear, 40, 2.0, 25},
		{-30.5, model.BandCrisis, 50, 2.5, 35},
		{-80, model.BandCrisis, 50, 2.5, 35},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("dd=%v", tt.drawdown), func(t *testing.T) {
			tier := e.Classify(tt.drawdown, staticSignals(40000))
			assert.Equal(t, tt.band, tier.Band)
			assert.Equal(t, tt.base, tier.CapitalBasePct)
			assert.Equal(t, tt.factor, tier.DrawdownFactor)
			assert.Equal(t, tt.tpBase, tier.TakeProfitBasePct)
		})
	}
}

func TestClassify_Monotonic(t *testing.T) {
	e := NewEngine(testTrading())
	prev := e.Classify(0, staticSignals(40000))
	for d := 0.5; d <= 60; d += 0.5 {
		cur := e.Classify(-d, staticSignals(40000))
		assert.GreaterOrEqual(t, cur.CapitalBasePct, prev.CapitalBasePct, "drawdown %v", d)
		assert.GreaterOrEqual(t, cur.TakeProfitBasePct, prev.TakeProfitBasePct, "drawdown %v", d)
		prev = cur
	}
}

func TestClassify_Bounds(t *testing.T) {
	e := NewEngine(testTrading())
	for _, d := range []float64{0, -10, -17, -22, -28, -45, -95} {
		for rsi := 0.0; rsi <= 100; rsi += 5 {
			for _, atr := range []float64{0, 50, 800, 1200, 5000, 1e6} {
				tier := e.Classify(d, model.Signals{Price: 40000, RSI: rsi, ATR: atr})
				assert.GreaterOrEqual(t, tier.CapitalPct, 5.0)
				assert.LessOrEqual(t, tier.CapitalPct, 70.0)
				assert.GreaterOrEqual(t, tier.TakeProfitPct, 5.0)
				assert.LessOrEqual(t, tier.TakeProfitPct, 200.0)
				assert.GreaterOrEqual(t, tier.Confidence.Overall, 0)
				assert.LessOrEqual(t, tier.Confidence.Overall, 100)
			}
		}
	}
}

func TestClassify_Deterministic(t *testing.T) {
	e := NewEngine(testTrading())
	a := e.Classify(-23.7, model.Signals{Price: 38000, RSI: 41.3, ATR: 912.4})
	b := e.Classify(-23.7, model.Signals{Price: 38000, RSI: 41.3, ATR: 912.4})
	assert.Equal(t, a, b)
}

func TestScore(t *testing.T) {
	c := Score(14.583, 2, 50, 8.528)
	assert.Equal(t, 70, c.Volatility)
	assert.Equal(t, 60, c.Momentum)
	assert.Equal(t, 32, c.Drawdown)
	assert.Equal(t, 26, c.TakeProfit)
	assert.Equal(t, 46, c.Overall)

	assert.Equal(t, "very high", Label(80))
	assert.Equal(t, "high", Label(60))
	assert.Equal(t, "medium", Label(40))
	assert.Equal(t, "low", Label(20))
	assert.Equal(t, "very low", Label(19.9))

	// clamps
	c = Score(40, 20, 100, 100)
	assert.Equal(t, 0, c.Volatility)
	assert.Equal(t, 0, c.Momentum)
	assert.Equal(t, 0, c.Drawdown)
	assert.Equal(t, 100, c.TakeProfit)
}

func TestDecideBuy(t *testing.T) {
	e := NewEngine(testTrading())
	tier := e.Classify(-14.58, staticSignals(41000))
	errDup := errors.New("duplicate: already bought today")

	tests := []struct {
		name    string
		guard   Guard
		tier    func(model.Tier) model.Tier
		balance float64
		allowed bool
		amount  float64
		reason  string
	}{
		{name: "allowed", guard: stubGuard{}, balance: 1000, allowed: true, amount: 130},
		{name: "no capital", guard: stubGuard{}, balance: 0.001, reason: "insufficient capital"},
		{name: "duplicate", guard: stubGuard{err: errDup}, balance: 1000, reason: "already bought today"},
		{
			name: "overbought", guard: stubGuard{}, balance: 1000, reason: "overbought",
			tier: func(t model.Tier) model.Tier { t.RSI = 85; return t },
		},
		{name: "capped", guard: stubGuard{}, balance: 100000, allowed: true, amount: 5000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := tier
			if tt.tier != nil {
				tr = tt.tier(tr)
			}
			d := e.DecideBuy(context.Background(), tt.guard, tr, 41000, tt.balance)
			assert.Equal(t, tt.allowed, d.Allowed, d.Reason)
			if tt.allowed {
				assert.InDelta(t, tt.amount, d.Amount, 1e-9)
				assert.InDelta(t, 41000*(1+tr.TakeProfitPct/100), d.TakeProfitPrice, 1e-6)
				return
			}
			assert.Contains(t, d.Reason, tt.reason)
			assert.Zero(t, d.Amount)
		})
	}
}

func TestDecideForcedBuy(t *testing.T) {
	e := NewEngine(testTrading())

	d := e.DecideForcedBuy(staticSignals(41000), -3, 41000, 1000)
	require.True(t, d.Allowed)
	assert.True(t, d.Forced)
	assert.Equal(t, 10.0, d.Amount)
	assert.Equal(t, model.BandLight, d.Tier.Band)
	assert.Equal(t, -3.0, d.DrawdownPct)

	d = e.DecideForcedBuy(staticSignals(41000), -3, 41000, 50)
	require.True(t, d.Allowed)
	assert.Equal(t, 5.0, d.Amount)

	d = e.DecideForcedBuy(staticSignals(41000), -3, 41000, 0.05)
	assert.False(t, d.Allowed)
}

func TestEvaluateSells_Scenario(t *testing.T) {
	open := []model.Trade{
		{ID: "BUY_a", EntryPrice: 40000, TakeProfitPrice: 43200},
		{ID: "BUY_b", EntryPrice: 42000, TakeProfitPrice: 45360},
	}
	decisions := EvaluateSells(open, 43300)
	require.Len(t, decisions, 1)
	d := decisions[0]
	assert.Equal(t, "BUY_a", d.Trade.ID)
	assert.Equal(t, model.SellTakeProfit, d.Kind)
	assert.Contains(t, d.Reason, "take-profit reached")
	assert.Equal(t, 43200.0, d.TargetPrice)
	assert.InDelta(t, 8.25, d.ProfitPct, 1e-9)
}

func TestEvaluateSells_Boundaries(t *testing.T) {
	open := []model.Trade{{ID: "x", EntryPrice: 40000, TakeProfitPrice: 43200}}
	assert.Len(t, EvaluateSells(open, 43200), 1, "target price itself qualifies")
	assert.Empty(t, EvaluateSells(open, 43199.99))
	assert.Empty(t, EvaluateSells(nil, 50000))

	closed := []model.Trade{{ID: "y", EntryPrice: 40000, TakeProfitPrice: 43200, Closed: true}}
	assert.Empty(t, EvaluateSells(closed, 50000))
}

func TestForcedSells(t *testing.T) {
	open := []model.Trade{
		{ID: "a", EntryPrice: 40000, TakeProfitPrice: 43200},
		{ID: "b", EntryPrice: 50000, TakeProfitPrice: 54000},
	}
	d := ForcedSells(open, 45000)
	require.Len(t, d, 2)
	assert.Equal(t, model.SellForced, d[0].Kind)
	assert.InDelta(t, 12.5, d[0].ProfitPct, 1e-9)
	assert.InDelta(t, -10, d[1].ProfitPct, 1e-9)
}
