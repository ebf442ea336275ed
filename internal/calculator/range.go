package calculator

import (
	"errors"
	"math"

	"TierTrader/internal/model"
)

// RangeHighLow scans the most recent n bars and returns the highest high and
// the lowest low. All bars are used when n <= 0 or exceeds len(bars).
func RangeHighLow(bars []model.OHLCV, n int) (high, low float64, err error) {
	if len(bars) == 0 {
		return 0, 0, errors.New("no bars provided")
	}
	start := 0
	if n > 0 && n < len(bars) {
		start = len(bars) - n
	}
	high = math.Inf(-1)
	low = math.Inf(1)
	for _, b := range bars[start:] {
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}
	return high, low, nil
}
