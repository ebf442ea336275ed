package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"

	"TierTrader/internal/model"
)

const binanceSymbol = "BTCEUR"

func newBinanceClient(baseURL string, timeout time.Duration, proxy string) *binance.Client {
	transport := &http.Transport{}
	if proxy != "" {
		if u, err := url.Parse(proxy); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	client := binance.NewClient("", "")
	client.HTTPClient = &http.Client{Timeout: timeout, Transport: transport}
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return client
}

// BinanceSource reads the BTCEUR spot price from the public market data API.
type BinanceSource struct {
	client *binance.Client
}

func NewBinanceSource(client *binance.Client) *BinanceSource {
	return &BinanceSource{client: client}
}

func (s *BinanceSource) Name() string { return "binance" }

func (s *BinanceSource) Fetch(ctx context.Context) (Reading, error) {
	prices, err := s.client.NewListPricesService().Symbol(binanceSymbol).Do(ctx)
	if err != nil {
		return Reading{}, &SourceFetchError{Source: s.Name(), Err: err}
	}
	for _, p := range prices {
		if p.Symbol != binanceSymbol {
			continue
		}
		price, err := num("price", p.Price)
		if err == nil {
			err = positive("price", price)
		}
		if err != nil {
			return Reading{}, tagSource(err, s.Name())
		}
		return Reading{Price: price}, nil
	}
	return Reading{}, &ParseError{Source: s.Name(), Field: "price", Reason: "symbol not in response"}
}

// BinanceBars serves daily BTCEUR candles.
type BinanceBars struct {
	client *binance.Client
}

func NewBinanceBars(client *binance.Client) *BinanceBars {
	return &BinanceBars{client: client}
}

func (b *BinanceBars) DailyBars(ctx context.Context, days int) ([]model.OHLCV, error) {
	klines, err := b.client.NewKlinesService().
		Symbol(binanceSymbol).
		Interval("1d").
		Limit(days).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines: %w", err)
	}

	bars := make([]model.OHLCV, 0, len(klines))
	for _, k := range klines {
		bar := model.OHLCV{Time: time.UnixMilli(k.OpenTime)}
		for _, f := range []struct {
			dst *float64
			src string
		}{{&bar.Open, k.Open}, {&bar.High, k.High}, {&bar.Low, k.Low}, {&bar.Close, k.Close}, {&bar.Volume, k.Volume}} {
			v, err := strconv.ParseFloat(f.src, 64)
			if err != nil {
				return nil, fmt.Errorf("binance kline %d: %w", k.OpenTime, err)
			}
			*f.dst = v
		}
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("binance klines: no data returned")
	}
	return bars, nil
}
