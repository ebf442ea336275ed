package collector

import (
	"fmt"
	"slices"

	"TierTrader/internal/config"
)

// Names of every supported source, in consolidation order.
var SourceNames = []string{"bitfinex", "bitstamp", "kraken", "coinbase", "binance", "cryptocompare", "yahoo"}

// Set is the wired group of sources built from configuration.
type Set struct {
	Sources  []Source
	Fallback Source
	Bars     *BinanceBars
}

// NewSet builds all enabled sources plus the designated fallback. The
// fallback is built even if it is disabled for the consensus.
func NewSet(cfg config.Sources, proxy string) (*Set, error) {
	rc := newRestyClient(cfg.Timeout, cfg.UserAgent, proxy)
	bc := newBinanceClient(cfg.BinanceBaseURL, cfg.Timeout, proxy)

	build := func(name string) (Source, error) {
		if name == "binance" {
			return NewBinanceSource(bc), nil
		}
		parse, ok := parsers[name]
		if !ok {
			return nil, fmt.Errorf("unknown price source %q", name)
		}
		url := defaultEndpoints[name]
		if override, ok := cfg.Endpoints[name]; ok && override != "" {
			url = override
		}
		return NewHTTPSource(name, url, parse, rc), nil
	}

	for _, name := range cfg.Disabled {
		if !slices.Contains(SourceNames, name) {
			return nil, fmt.Errorf("unknown price source %q in disabled list", name)
		}
	}

	set := &Set{Bars: NewBinanceBars(bc)}
	for _, name := range SourceNames {
		if slices.Contains(cfg.Disabled, name) {
			continue
		}
		src, err := build(name)
		if err != nil {
			return nil, err
		}
		set.Sources = append(set.Sources, src)
	}
	if len(set.Sources) < cfg.MinSources {
		return nil, fmt.Errorf("%d sources enabled, at least %d required", len(set.Sources), cfg.MinSources)
	}

	fb, err := build(cfg.Fallback)
	if err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}
	set.Fallback = fb
	return set, nil
}
