package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"TierTrader/internal/config"
	"TierTrader/internal/logger"
	"TierTrader/internal/model"
)

// Substitute 24h range when no source reports one.
const (
	defaultHighFactor = 1.05
	defaultLowFactor  = 0.95
)

// Aggregator turns independent source readings into one trusted price.
type Aggregator struct {
	sources    []Source
	fallback   Source
	reference  ReferenceProvider
	minSources int
	minPrice   float64
	maxPrice   float64
	timeout    time.Duration
	log        *logrus.Entry
	now        func() time.Time
}

// NewAggregator creates an Aggregator. fallback may be nil, in which case a
// consensus failure is final.
func NewAggregator(cfg config.Sources, sources []Source, fallback Source, ref ReferenceProvider) *Aggregator {
	return &Aggregator{
		sources:    sources,
		fallback:   fallback,
		reference:  ref,
		minSources: cfg.MinSources,
		minPrice:   cfg.MinPrice,
		maxPrice:   cfg.MaxPrice,
		timeout:    cfg.Timeout,
		log:        logger.WithComponent("collector"),
		now:        time.Now,
	}
}

// Collect queries every source concurrently and returns the median consensus.
// When fewer than the minimum number of sources succeed, exactly one call is
// made to the fallback source.
func (a *Aggregator) Collect(ctx context.Context) (*model.ConsolidatedPrice, error) {
	samples := a.fetchAll(ctx)

	cp, err := Consolidate(samples, a.minSources)
	switch {
	case errors.Is(err, ErrInsufficientSources):
		a.log.WithError(err).Warn("consensus failed, trying fallback source")
		return a.collectFallback(ctx, samples)
	case err != nil:
		return nil, err
	}

	if err := a.checkBounds(cp.Price); err != nil {
		return nil, err
	}
	a.finish(ctx, cp)

	a.log.WithFields(logrus.Fields{
		"price":   cp.Price,
		"sources": fmt.Sprintf("%d/%d", cp.SourcesUsed, cp.TotalSources),
		"ref":     cp.ReferenceBy,
	}).Info("price consolidated")
	return cp, nil
}

// fetchAll runs every source in its own goroutine. Each goroutine writes
// only its own slot, so the result order follows the source order.
func (a *Aggregator) fetchAll(ctx context.Context) []model.PriceSample {
	samples := make([]model.PriceSample, len(a.sources))
	var wg sync.WaitGroup
	for i, src := range a.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			samples[i] = a.fetchOne(ctx, src, src.Name())
		}(i, src)
	}
	wg.Wait()
	return samples
}

func (a *Aggregator) fetchOne(ctx context.Context, src Source, label string) model.PriceSample {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := a.now()
	r, err := src.Fetch(ctx)
	sample := model.PriceSample{
		Source:    label,
		Latency:   time.Since(start),
		FetchedAt: start,
	}
	if err == nil && r.Price <= 0 {
		err = &ParseError{Source: src.Name(), Field: "price", Reason: "missing or non-positive"}
	}
	if err != nil {
		sample.Error = err.Error()
		a.log.WithField("source", label).WithError(err).Warn("source unavailable")
		return sample
	}

	sample.Success = true
	sample.Price = r.Price
	sample.Volume = r.Volume
	sample.High24h = r.High24h
	sample.Low24h = r.Low24h
	a.log.WithFields(logrus.Fields{"source": label, "price": r.Price, "latency": sample.Latency}).Debug("source ok")
	return sample
}

func (a *Aggregator) collectFallback(ctx context.Context, samples []model.PriceSample) (*model.ConsolidatedPrice, error) {
	if a.fallback == nil {
		return nil, fmt.Errorf("%w: no fallback source configured", ErrDataUnavailable)
	}

	fb := a.fetchOne(ctx, a.fallback, a.fallback.Name()+"_fallback")
	samples = append(samples, fb)
	if !fb.Success {
		return nil, fmt.Errorf("%w: fallback %s: %s", ErrDataUnavailable, a.fallback.Name(), fb.Error)
	}
	if err := a.checkBounds(fb.Price); err != nil {
		return nil, err
	}

	cp := &model.ConsolidatedPrice{
		Price:        fb.Price,
		High24h:      fb.Price * defaultHighFactor,
		Low24h:       fb.Price * defaultLowFactor,
		SourcesUsed:  1,
		TotalSources: len(a.sources),
		Fallback:     true,
		Samples:      samples,
	}
	a.finish(ctx, cp)

	a.log.WithFields(logrus.Fields{"price": cp.Price, "source": a.fallback.Name()}).Warn("price from fallback source")
	return cp, nil
}

func (a *Aggregator) checkBounds(price float64) error {
	if price < a.minPrice || price > a.maxPrice {
		return fmt.Errorf("%w: %.2f not in [%.0f, %.0f]", ErrPriceOutOfBounds, price, a.minPrice, a.maxPrice)
	}
	return nil
}

func (a *Aggregator) finish(ctx context.Context, cp *model.ConsolidatedPrice) {
	cp.SixMonthHigh, cp.SixMonthLow, cp.ReferenceBy = a.reference.Extremum(ctx, cp.Price)
	cp.CollectedAt = a.now()
}

// Consolidate reduces samples to a consensus price. It is a pure function
// of its input and does not depend on the order in which sources answered;
// the 24h high/low are taken from the first sample, in slice order, that
// reports them.
func Consolidate(samples []model.PriceSample, minSources int) (*model.ConsolidatedPrice, error) {
	var (
		prices    []float64
		volumeSum float64
		volumeN   int
		high, low float64
	)
	for _, s := range samples {
		if !s.Success || s.Price <= 0 {
			continue
		}
		prices = append(prices, s.Price)
		if s.Volume > 0 {
			volumeSum += s.Volume
			volumeN++
		}
		if high == 0 && s.High24h > 0 {
			high = s.High24h
		}
		if low == 0 && s.Low24h > 0 {
			low = s.Low24h
		}
	}

	if len(prices) < minSources {
		return nil, fmt.Errorf("%w: %d/%d", ErrInsufficientSources, len(prices), len(samples))
	}

	median := Median(prices)
	cp := &model.ConsolidatedPrice{
		Price:        median,
		High24h:      high,
		Low24h:       low,
		SourcesUsed:  len(prices),
		TotalSources: len(samples),
		Samples:      samples,
	}
	if volumeN > 0 {
		cp.Volume = volumeSum / float64(volumeN)
	}
	if cp.High24h == 0 {
		cp.High24h = median * defaultHighFactor
	}
	if cp.Low24h == 0 {
		cp.Low24h = median * defaultLowFactor
	}
	return cp, nil
}

// Median returns the middle element of the sorted values. For an even count
// it returns the upper of the two middle elements. The input is not modified.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}
