package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Default public endpoints, keyed by source name.
var defaultEndpoints = map[string]string{
	"bitfinex":      "https://api-pub.bitfinex.com/v2/ticker/tBTCEUR",
	"bitstamp":      "https://www.bitstamp.net/api/v2/ticker/btceur/",
	"kraken":        "https://api.kraken.com/0/public/Ticker?pair=XBTEUR",
	"coinbase":      "https://api.coinbase.com/v2/prices/BTC-EUR/spot",
	"cryptocompare": "https://min-api.cryptocompare.com/data/price?fsym=BTC&tsyms=EUR",
	"yahoo":         "https://query1.finance.yahoo.com/v8/finance/chart/BTC-EUR?interval=1d&range=1d",
}

var parsers = map[string]func([]byte) (Reading, error){
	"bitfinex":      parseBitfinex,
	"bitstamp":      parseBitstamp,
	"kraken":        parseKraken,
	"coinbase":      parseCoinbase,
	"cryptocompare": parseCryptoCompare,
	"yahoo":         parseYahoo,
}

// HTTPSource is a JSON-over-GET ticker endpoint.
type HTTPSource struct {
	name   string
	url    string
	parse  func([]byte) (Reading, error)
	client *resty.Client
}

// NewHTTPSource builds a source from a name, endpoint and payload parser.
func NewHTTPSource(name, url string, parse func([]byte) (Reading, error), client *resty.Client) *HTTPSource {
	return &HTTPSource{name: name, url: url, parse: parse, client: client}
}

func (s *HTTPSource) Name() string { return s.name }

func (s *HTTPSource) Fetch(ctx context.Context) (Reading, error) {
	resp, err := s.client.R().SetContext(ctx).Get(s.url)
	if err != nil {
		return Reading{}, &SourceFetchError{Source: s.name, Err: err}
	}
	if !resp.IsSuccess() {
		return Reading{}, &SourceFetchError{Source: s.name, Err: fmt.Errorf("status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))}
	}
	r, err := s.parse(resp.Body())
	if err != nil {
		return Reading{}, tagSource(err, s.name)
	}
	return r, nil
}

// tagSource fills in the source name of a parser error.
func tagSource(err error, name string) error {
	var pe *ParseError
	if errors.As(err, &pe) && pe.Source == "" {
		pe.Source = name
	}
	return err
}

func newRestyClient(timeout time.Duration, userAgent, proxy string) *resty.Client {
	c := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent)
	if proxy != "" {
		c.SetProxy(proxy)
	}
	return c
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
