package calculator

import (
	"errors"
	"math"

	"TierTrader/internal/model"
)

// ATR computes the Wilder average true range over period. The first value
// is seeded with the SMA of the first period true ranges.
func ATR(bars []model.OHLCV, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	if len(bars) < period+1 {
		return 0, errors.New("not enough data for ATR calculation")
	}

	tr := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		tr = append(tr, trueRange(bars[i], bars[i-1].Close))
	}

	atr, err := SMA(tr[:period], period)
	if err != nil {
		return 0, err
	}
	for _, v := range tr[period:] {
		atr = wilder(atr, v, period)
	}
	return atr, nil
}

func trueRange(bar model.OHLCV, prevClose float64) float64 {
	return math.Max(bar.High-bar.Low, math.Max(math.Abs(bar.High-prevClose), math.Abs(bar.Low-prevClose)))
}
