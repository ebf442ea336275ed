package strategy

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"TierTrader/internal/config"
	"TierTrader/internal/fund"
	"TierTrader/internal/logger"
	"TierTrader/internal/model"
)

// BandSpec is one row of the drawdown table. A drawdown magnitude belongs
// to the first row whose MaxDrawdown it does not exceed.
type BandSpec struct {
	MaxDrawdown    float64
	Band           model.Band
	Name           string
	CapitalBase    float64
	Factor         float64
	TakeProfitBase float64
}

// Bands maps drawdown magnitude to tier parameters, lightest first.
var Bands = []BandSpec{
	{15, model.BandLight, "Correction légère ATR+RSI", 10, 1.0, 8},
	{20, model.BandModerate, "Correction modérée ATR+RSI", 20, 1.2, 12},
	{25, model.BandStrong, "Correction forte ATR+RSI", 30, 1.5, 18},
	{30, model.BandBear, "Bear market ATR+RSI", 40, 2.0, 25},
	{math.Inf(1), model.BandCrisis, "Crise majeure ATR+RSI", 50, 2.5, 35},
}

// BandFor returns the row for a drawdown magnitude. Every value maps to
// exactly one row.
func BandFor(drawdownAbs float64) (spec BandSpec, lower float64) {
	for _, b := range Bands {
		if drawdownAbs <= b.MaxDrawdown {
			return b, lower
		}
		lower = b.MaxDrawdown
	}
	return Bands[len(Bands)-1], lower
}

// RSIAdjustment scales capital and take-profit by momentum. It is 1.3 at or
// below 30, 0.7 at or above 70, and peaks at 1.3 for a neutral 50 between.
func RSIAdjustment(rsi float64) float64 {
	switch {
	case rsi <= 30:
		return 1.3
	case rsi >= 70:
		return 0.7
	default:
		distance := math.Abs(rsi-50) / 20
		return 1.0 + 0.3*(1-distance)
	}
}

// ATRAdjustment scales the take-profit by absolute volatility.
func ATRAdjustment(atr float64) float64 {
	return clamp(atr/1000, 0.8, 1.5)
}

// Guard decides whether buying tierName now would duplicate a recent buy.
type Guard interface {
	Check(ctx context.Context, tierName string) error
}

// Engine maps market state to tiers and buy/sell decisions. It holds no
// mutable state.
type Engine struct {
	cfg   config.Trading
	sizer *fund.Sizer
	log   *logrus.Entry
}

func NewEngine(cfg config.Trading) *Engine {
	return &Engine{
		cfg:   cfg,
		sizer: fund.NewSizer(cfg),
		log:   logger.WithComponent("strategy"),
	}
}

// CapitalPercent is base × factor × rsiAdj clamped to the configured bounds.
func (e *Engine) CapitalPercent(base, factor, rsiAdj float64) float64 {
	return clamp(base*factor*rsiAdj, e.cfg.MinCapitalPct, e.cfg.MaxCapitalPct)
}

// TakeProfitPercent is base × rsiAdj × atrAdj clamped to the configured bounds.
func (e *Engine) TakeProfitPercent(base, rsiAdj, atrAdj float64) float64 {
	return clamp(base*rsiAdj*atrAdj, e.cfg.MinTakeProfitPct, e.cfg.MaxTakeProfitPct)
}

// Classify resolves the tier for a signed drawdown percentage. A zero or
// positive drawdown resolves to the lightest band.
func (e *Engine) Classify(drawdownPct float64, sig model.Signals) model.Tier {
	abs := math.Abs(drawdownPct)
	spec, lower := BandFor(abs)

	rsiAdj := RSIAdjustment(sig.RSI)
	atrAdj := ATRAdjustment(sig.ATR)
	tp := e.TakeProfitPercent(spec.TakeProfitBase, rsiAdj, atrAdj)

	tier := model.Tier{
		Name:              spec.Name,
		Band:              spec.Band,
		DrawdownPct:       drawdownPct,
		DrawdownMin:       lower,
		DrawdownMax:       spec.MaxDrawdown,
		CapitalBasePct:    spec.CapitalBase,
		DrawdownFactor:    spec.Factor,
		RSIAdjustment:     rsiAdj,
		ATRAdjustment:     atrAdj,
		CapitalPct:        e.CapitalPercent(spec.CapitalBase, spec.Factor, rsiAdj),
		TakeProfitBasePct: spec.TakeProfitBase,
		TakeProfitPct:     tp,
		RSI:               sig.RSI,
		ATR:               sig.ATR,
		Confidence:        Score(abs, sig.ATRPercent(), sig.RSI, tp),
	}
	if math.IsInf(tier.DrawdownMax, 1) {
		tier.DrawdownMax = 100
	}

	e.log.WithFields(logrus.Fields{
		"tier":        tier.Name,
		"drawdown":    fmt.Sprintf("%.2f%%", drawdownPct),
		"capital_pct": fmt.Sprintf("%.2f", tier.CapitalPct),
		"tp_pct":      fmt.Sprintf("%.2f", tier.TakeProfitPct),
		"confidence":  tier.Confidence.Overall,
	}).Debug("tier classified")
	return tier
}

// DecideBuy applies the buy gates in order: minimum capital, duplicate
// guard, momentum ceiling, sizing and affordability.
func (e *Engine) DecideBuy(ctx context.Context, g Guard, tier model.Tier, price, balance float64) model.BuyDecision {
	d := model.BuyDecision{
		Tier:        tier,
		Price:       price,
		DrawdownPct: tier.DrawdownPct,
		Balance:     balance,
	}

	if balance < e.cfg.MinBuy {
		d.Reason = fmt.Sprintf("insufficient capital: %.2f EUR", balance)
		return d
	}
	if err := g.Check(ctx, tier.Name); err != nil {
		d.Reason = err.Error()
		return d
	}
	if tier.RSI > e.cfg.MaxRSI {
		d.Reason = fmt.Sprintf("overbought conditions (RSI %.1f > %.0f)", tier.RSI, e.cfg.MaxRSI)
		return d
	}

	amount := e.sizer.Amount(balance, tier.CapitalPct)
	if !e.sizer.Affordable(amount, balance) {
		d.Reason = fmt.Sprintf("insufficient EUR balance: %.2f available, %.2f required", balance, amount)
		return d
	}

	d.Allowed = true
	d.Amount = amount
	d.TakeProfitPrice = TakeProfitPrice(price, tier.TakeProfitPct)
	d.Reason = fmt.Sprintf("conditions met for tier %s", tier.Name)
	return d
}

// DecideForcedBuy sizes a manual buy in the light tier. Only the
// minimum-capital and affordability gates apply; the caller is responsible
// for the duplicate check.
func (e *Engine) DecideForcedBuy(sig model.Signals, drawdownPct, price, balance float64) model.BuyDecision {
	tier := e.Classify(-10, sig)
	tier.DrawdownPct = drawdownPct
	d := model.BuyDecision{
		Tier:        tier,
		Price:       price,
		DrawdownPct: drawdownPct,
		Balance:     balance,
		Forced:      true,
	}

	amount := e.sizer.ForcedAmount(balance)
	if balance < e.cfg.MinBuy || amount < e.cfg.MinBuy {
		d.Reason = fmt.Sprintf("insufficient capital: %.2f EUR", balance)
		return d
	}
	if !e.sizer.Affordable(amount, balance) {
		d.Reason = fmt.Sprintf("insufficient EUR balance: %.2f available, %.2f required", balance, amount)
		return d
	}

	d.Allowed = true
	d.Amount = amount
	d.TakeProfitPrice = TakeProfitPrice(price, tier.TakeProfitPct)
	d.Reason = "forced buy"
	return d
}

// TakeProfitPrice is the exit target for an entry at price.
func TakeProfitPrice(price, takeProfitPct float64) float64 {
	return price * (1 + takeProfitPct/100)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
