package collector

import (
	"context"
	"errors"
	"fmt"

	"TierTrader/internal/model"
)

var (
	// ErrInsufficientSources is returned when fewer than the minimum number
	// of sources produced a usable price.
	ErrInsufficientSources = errors.New("insufficient price sources")
	// ErrPriceOutOfBounds is returned when the consensus price is outside the
	// configured sanity range.
	ErrPriceOutOfBounds = errors.New("price out of bounds")
	// ErrDataUnavailable is returned when both the consensus and the single
	// fallback source failed.
	ErrDataUnavailable = errors.New("price data unavailable")
)

// Reading is what a single source reports. Zero fields are "not reported".
type Reading struct {
	Price   float64
	Volume  float64
	High24h float64
	Low24h  float64
}

// Source is one independent price endpoint with its own schema.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (Reading, error)
}

// BarsFetcher returns daily candles, oldest first.
type BarsFetcher interface {
	DailyBars(ctx context.Context, days int) ([]model.OHLCV, error)
}

// SourceFetchError is a transport-level failure of one source.
type SourceFetchError struct {
	Source string
	Err    error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SourceFetchError) Unwrap() error { return e.Err }

// ParseError is returned by a source parser when the payload is malformed
// or carries no positive price.
type ParseError struct {
	Source string
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("source %s: parse: %s", e.Source, e.Reason)
	}
	return fmt.Sprintf("source %s: parse %s: %s", e.Source, e.Field, e.Reason)
}
