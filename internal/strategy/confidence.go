package strategy

import (
	"math"

	"TierTrader/internal/model"
)

// Sub-score weights of the overall confidence.
const (
	weightVolatility = 0.20
	weightMomentum   = 0.25
	weightDrawdown   = 0.40
	weightTakeProfit = 0.15
)

// Score computes the diagnostic confidence for a tier. It never gates a
// decision.
func Score(drawdownAbs, atrPercent, rsi, takeProfitPct float64) model.Confidence {
	vol := volatilityScore(atrPercent)
	mom := momentumScore(rsi)
	dd := drawdownScore(drawdownAbs)
	tp := takeProfitScore(takeProfitPct)

	overall := vol*weightVolatility + mom*weightMomentum + dd*weightDrawdown + tp*weightTakeProfit
	return model.Confidence{
		Overall:    round(overall),
		Volatility: round(vol),
		Momentum:   round(mom),
		Drawdown:   round(dd),
		TakeProfit: round(tp),
		Label:      Label(overall),
	}
}

// Label names a confidence score.
func Label(score float64) string {
	switch {
	case score >= 80:
		return "very high"
	case score >= 60:
		return "high"
	case score >= 40:
		return "medium"
	case score >= 20:
		return "low"
	default:
		return "very low"
	}
}

func volatilityScore(atrPercent float64) float64 {
	return clamp(100-atrPercent*15, 0, 100)
}

func momentumScore(rsi float64) float64 {
	var s float64
	switch {
	case rsi > 70:
		s = 60 - (rsi-70)*2
	case rsi > 50:
		s = 40 + (rsi - 50)
	case rsi > 30:
		s = 60 - (50 - rsi)
	default:
		s = 40 - (30-rsi)*2
	}
	return clamp(s, 0, 100)
}

func drawdownScore(d float64) float64 {
	var s float64
	switch {
	case d <= 5:
		s = 90 - d*4
	case d <= 15:
		s = 70 - (d-5)*4
	case d <= 25:
		s = 30 - (d-15)*3
	default:
		s = 0
	}
	return clamp(s, 0, 100)
}

func takeProfitScore(tp float64) float64 {
	return clamp(tp*3, 0, 100)
}

func round(v float64) int {
	return int(math.Round(v))
}
