package collector

import (
	"context"

	"github.com/sirupsen/logrus"

	"TierTrader/internal/calculator"
	"TierTrader/internal/config"
	"TierTrader/internal/logger"
	"TierTrader/internal/model"
)

// ReferenceProvider supplies the six-month high/low used as the drawdown
// reference.
type ReferenceProvider interface {
	Extremum(ctx context.Context, price float64) (high, low float64, by string)
}

// ApproxReference derives the extremum from the current price alone. This
// is not a historical extremum: the drawdown it yields is constant.
type ApproxReference struct {
	HighFactor float64
	LowFactor  float64
}

func (a ApproxReference) Extremum(_ context.Context, price float64) (float64, float64, string) {
	return price * a.HighFactor, price * a.LowFactor, "approx"
}

// KlinesReference scans daily candles for the true extremum and falls back
// to an approximation when candles cannot be fetched.
type KlinesReference struct {
	Bars     BarsFetcher
	Days     int
	Fallback ApproxReference
	log      *logrus.Entry
}

func (k *KlinesReference) Extremum(ctx context.Context, price float64) (float64, float64, string) {
	bars, err := k.Bars.DailyBars(ctx, k.Days)
	if err == nil {
		var high, low float64
		if high, low, err = calculator.RangeHighLow(bars, k.Days); err == nil {
			// today's bar may lag the live consensus
			if price > high {
				high = price
			}
			if price < low {
				low = price
			}
			return high, low, "klines"
		}
	}
	k.log.WithError(err).Warn("historical extremum unavailable, using approximation")
	return k.Fallback.Extremum(ctx, price)
}

// SignalProvider supplies the RSI and ATR inputs of the tier engine.
type SignalProvider interface {
	Signals(ctx context.Context, price float64) model.Signals
}

// StaticSignals reports a neutral RSI and an ATR proportional to price.
type StaticSignals struct {
	ATRRatio float64
	RSI      float64
}

func (s StaticSignals) Signals(_ context.Context, price float64) model.Signals {
	return model.Signals{Price: price, RSI: s.RSI, ATR: price * s.ATRRatio, Source: "static"}
}

// KlinesSignals computes Wilder RSI and ATR from daily candles.
type KlinesSignals struct {
	Bars     BarsFetcher
	Period   int
	Days     int
	Fallback StaticSignals
	log      *logrus.Entry
}

func (k *KlinesSignals) Signals(ctx context.Context, price float64) model.Signals {
	bars, err := k.Bars.DailyBars(ctx, k.Days)
	if err == nil {
		var rsi, atr float64
		if rsi, err = calculator.RSI(bars, k.Period); err == nil {
			if atr, err = calculator.ATR(bars, k.Period); err == nil {
				return model.Signals{Price: price, RSI: rsi, ATR: atr, Source: "klines"}
			}
		}
	}
	k.log.WithError(err).Warn("kline signals unavailable, using static signals")
	return k.Fallback.Signals(ctx, price)
}

// NewReferenceProvider builds the provider selected by cfg.Mode.
func NewReferenceProvider(cfg config.Reference, bars BarsFetcher) ReferenceProvider {
	approx := ApproxReference{HighFactor: cfg.HighFactor, LowFactor: cfg.LowFactor}
	if cfg.Mode != "klines" || bars == nil {
		return approx
	}
	return &KlinesReference{Bars: bars, Days: cfg.Days, Fallback: approx, log: logger.WithComponent("reference")}
}

// NewSignalProvider builds the provider selected by cfg.Mode.
func NewSignalProvider(cfg config.Signals, bars BarsFetcher) SignalProvider {
	static := StaticSignals{ATRRatio: cfg.ATRRatio, RSI: cfg.DefaultRSI}
	if cfg.Mode != "klines" || bars == nil {
		return static
	}
	return &KlinesSignals{Bars: bars, Period: cfg.Period, Days: cfg.Days, Fallback: static, log: logger.WithComponent("signals")}
}
