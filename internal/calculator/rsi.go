package calculator

import (
	"errors"

	"TierTrader/internal/model"
)

// NeutralRSI is returned when there are not enough bars to compute RSI.
const NeutralRSI = 50.0

// RSI computes the Wilder-smoothed relative strength index over period.
// Requires at least period+1 bars; returns NeutralRSI otherwise.
func RSI(bars []model.OHLCV, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	if len(bars) < period+1 {
		return NeutralRSI, nil
	}

	cl := closes(bars)
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		gain, loss := split(cl[i] - cl[i-1])
		avgGain += gain
		avgLoss += loss
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(cl); i++ {
		gain, loss := split(cl[i] - cl[i-1])
		avgGain = wilder(avgGain, gain, period)
		avgLoss = wilder(avgLoss, loss, period)
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return NeutralRSI, nil
		}
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

func split(change float64) (gain, loss float64) {
	if change > 0 {
		return change, 0
	}
	return 0, -change
}

func wilder(prev, next float64, period int) float64 {
	return (prev*float64(period-1) + next) / float64(period)
}

func closes(bars []model.OHLCV) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
