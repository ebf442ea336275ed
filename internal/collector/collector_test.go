package collector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TierTrader/internal/config"
	"TierTrader/internal/model"
)

type fakeSource struct {
	name  string
	r     Reading
	err   error
	calls atomic.Int32
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(context.Context) (Reading, error) {
	f.calls.Add(1)
	return f.r, f.err
}

func ok(name string, price float64) *fakeSource {
	return &fakeSource{name: name, r: Reading{Price: price}}
}

func failing(name string) *fakeSource {
	return &fakeSource{name: name, err: &SourceFetchError{Source: name, Err: errors.New("timeout")}}
}

func testSourcesConfig() config.Sources {
	return config.Sources{Timeout: time.Second, MinSources: 2, MinPrice: 10000, MaxPrice: 100000}
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 41000.0, Median([]float64{41000, 41200, 40950, 40980, 41100}))
	assert.Equal(t, 3.0, Median([]float64{4, 1, 3, 2}), "even count takes the upper middle")
	assert.Equal(t, 0.0, Median(nil))

	in := []float64{3, 1, 2}
	Median(in)
	assert.Equal(t, []float64{3, 1, 2}, in, "input must not be reordered")
}

func TestMedianOrderAndDuplicateInvariance(t *testing.T) {
	base := []float64{41000, 41200, 40950, 40980, 41100}
	want := Median(base)
	perms := [][]float64{
		{41200, 41100, 41000, 40980, 40950},
		{40980, 41000, 40950, 41200, 41100},
		{41100, 40950, 41200, 41000, 40980},
	}
	for _, p := range perms {
		assert.Equal(t, want, Median(p))
	}
	assert.Equal(t, want, Median(append(append([]float64{}, base...), want)))
}

func TestConsolidate(t *testing.T) {
	samples := []model.PriceSample{
		{Source: "a", Success: true, Price: 41000, Volume: 100},
		{Source: "b", Success: false, Error: "down"},
		{Source: "c", Success: true, Price: 41200, Volume: 300, High24h: 42000, Low24h: 40000},
		{Source: "d", Success: true, Price: 40950, High24h: 43000, Low24h: 39000},
	}
	cp, err := Consolidate(samples, 2)
	require.NoError(t, err)
	assert.Equal(t, 41000.0, cp.Price)
	assert.Equal(t, 200.0, cp.Volume)
	assert.Equal(t, 42000.0, cp.High24h, "first available high wins")
	assert.Equal(t, 40000.0, cp.Low24h)
	assert.Equal(t, 3, cp.SourcesUsed)
	assert.Equal(t, 4, cp.TotalSources)
}

func TestConsolidateNeedsTwoSamples(t *testing.T) {
	samples := []model.PriceSample{
		{Source: "a", Success: true, Price: 41000},
		{Source: "b", Success: true, Price: 0},
		{Source: "c", Success: false},
	}
	cp, err := Consolidate(samples, 2)
	assert.Nil(t, cp)
	assert.ErrorIs(t, err, ErrInsufficientSources)
}

func TestCollectScenario(t *testing.T) {
	sources := []Source{
		ok("bitfinex", 41000), ok("bitstamp", 41200), failing("kraken"),
		ok("coinbase", 40950), ok("binance", 40980), failing("cryptocompare"), ok("yahoo", 41100),
	}
	agg := NewAggregator(testSourcesConfig(), sources, nil, StaticReference(48000))

	cp, err := agg.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 41000.0, cp.Price)
	assert.Equal(t, 5, cp.SourcesUsed)
	assert.Equal(t, 7, cp.TotalSources)
	assert.False(t, cp.Fallback)
	assert.Len(t, cp.Samples, 7)
	assert.InDelta(t, -14.583, cp.Drawdown(), 0.001)

	assert.False(t, cp.Samples[2].Success)
	assert.Equal(t, "kraken", cp.Samples[2].Source)
	assert.NotEmpty(t, cp.Samples[2].Error)
}

func TestCollectFallback(t *testing.T) {
	fb := ok("coinbase", 40000)
	sources := []Source{ok("bitfinex", 41000), failing("kraken"), failing("bitstamp")}
	agg := NewAggregator(testSourcesConfig(), sources, fb, ApproxReference{HighFactor: 1.3, LowFactor: 0.7})

	cp, err := agg.Collect(context.Background())
	require.NoError(t, err)
	assert.True(t, cp.Fallback)
	assert.Equal(t, 40000.0, cp.Price)
	assert.Equal(t, 1, cp.SourcesUsed)
	assert.InDelta(t, 52000, cp.SixMonthHigh, 1e-6)
	assert.InDelta(t, 28000, cp.SixMonthLow, 1e-6)
	assert.Equal(t, int32(1), fb.calls.Load(), "fallback is called exactly once")
	assert.Equal(t, "coinbase_fallback", cp.Samples[len(cp.Samples)-1].Source)
}

func TestCollectFallbackFails(t *testing.T) {
	fb := failing("coinbase")
	agg := NewAggregator(testSourcesConfig(), []Source{failing("a"), failing("b")}, fb, ApproxReference{HighFactor: 1.3, LowFactor: 0.7})

	cp, err := agg.Collect(context.Background())
	assert.Nil(t, cp)
	assert.ErrorIs(t, err, ErrDataUnavailable)
	assert.Equal(t, int32(1), fb.calls.Load())
}

func TestCollectNoFallbackConfigured(t *testing.T) {
	agg := NewAggregator(testSourcesConfig(), []Source{ok("a", 41000)}, nil, ApproxReference{HighFactor: 1.3, LowFactor: 0.7})
	_, err := agg.Collect(context.Background())
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestCollectOutOfBounds(t *testing.T) {
	fb := ok("coinbase", 41000)
	agg := NewAggregator(testSourcesConfig(), []Source{ok("a", 150000), ok("b", 151000)}, fb, ApproxReference{HighFactor: 1.3, LowFactor: 0.7})

	_, err := agg.Collect(context.Background())
	assert.ErrorIs(t, err, ErrPriceOutOfBounds)
	assert.Equal(t, int32(0), fb.calls.Load(), "bounds failure does not trigger fallback")
}

func TestCollectFallbackOutOfBounds(t *testing.T) {
	agg := NewAggregator(testSourcesConfig(), []Source{failing("a")}, ok("coinbase", 5000), ApproxReference{HighFactor: 1.3, LowFactor: 0.7})
	_, err := agg.Collect(context.Background())
	assert.ErrorIs(t, err, ErrPriceOutOfBounds)
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte(`{"data":{"amount":"40980.00"}}`))
		case "/bad":
			_, _ = w.Write([]byte(`{"data":{"amount":""}}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	client := resty.New().SetTimeout(time.Second)

	r, err := NewHTTPSource("coinbase", srv.URL+"/ok", parseCoinbase, client).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 40980.0, r.Price)

	_, err = NewHTTPSource("coinbase", srv.URL+"/bad", parseCoinbase, client).Fetch(context.Background())
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "coinbase", pe.Source)

	_, err = NewHTTPSource("coinbase", srv.URL+"/down", parseCoinbase, client).Fetch(context.Background())
	var fe *SourceFetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "coinbase", fe.Source)
}

func TestNewSet(t *testing.T) {
	cfg := testSourcesConfig()
	cfg.Fallback = "coinbase"
	cfg.Disabled = []string{"yahoo", "coinbase"}

	set, err := NewSet(cfg, "")
	require.NoError(t, err)
	assert.Len(t, set.Sources, 5)
	assert.Equal(t, "coinbase", set.Fallback.Name())
	for _, s := range set.Sources {
		assert.NotEqual(t, "coinbase", s.Name())
	}

	cfg.Disabled = []string{"nope"}
	_, err = NewSet(cfg, "")
	assert.Error(t, err)
}

// StaticReference pins the six-month high for deterministic drawdowns.
type StaticReference float64

func (s StaticReference) Extremum(_ context.Context, price float64) (float64, float64, string) {
	return float64(s), price * 0.7, "static"
}
