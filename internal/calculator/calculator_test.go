package calculator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TierTrader/internal/model"
)

func bars(closes ...float64) []model.OHLCV {
	out := make([]model.OHLCV, len(closes))
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		out[i] = model.OHLCV{Time: start.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c}
	}
	return out
}

func TestRSI(t *testing.T) {
	tests := []struct {
		name string
		bars []model.OHLCV
		want func(float64) bool
	}{
		{"insufficient data is neutral", bars(1, 2, 3), func(v float64) bool { return v == NeutralRSI }},
		{"only gains", bars(1, 2, 3, 4, 5, 6), func(v float64) bool { return v == 100 }},
		{"only losses", bars(6, 5, 4, 3, 2, 1), func(v float64) bool { return v == 0 }},
		{"flat", bars(5, 5, 5, 5, 5, 5), func(v float64) bool { return v == NeutralRSI }},
		{"mixed", bars(10, 11, 10, 11, 10, 11), func(v float64) bool { return v > 40 && v < 70 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := RSI(tt.bars, 3)
			require.NoError(t, err)
			assert.True(t, tt.want(v), "rsi=%v", v)
		})
	}
}

func TestATR(t *testing.T) {
	// Every bar has high-low = 2 and closes are flat, so TR = 2 throughout.
	v, err := ATR(bars(100, 100, 100, 100, 100), 3)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, v, 1e-9)

	// A gap up makes the true range larger than high-low.
	v, err = ATR(bars(100, 110), 1)
	require.NoError(t, err)
	assert.InDelta(t, 11.0, v, 1e-9)

	_, err = ATR(bars(100), 3)
	assert.Error(t, err)
}

func TestRangeHighLow(t *testing.T) {
	b := bars(100, 300, 200, 150)

	h, l, err := RangeHighLow(b, 0)
	require.NoError(t, err)
	assert.Equal(t, 301.0, h)
	assert.Equal(t, 99.0, l)

	h, l, err = RangeHighLow(b, 2)
	require.NoError(t, err)
	assert.Equal(t, 201.0, h)
	assert.Equal(t, 149.0, l)

	_, _, err = RangeHighLow(nil, 2)
	assert.Error(t, err)
}
