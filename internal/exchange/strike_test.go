package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TierTrader/internal/config"
	"TierTrader/internal/model"
)

type recorded struct {
	method string
	path   string
	auth   string
	body   map[string]any
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*StrikeClient, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization")}
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			_ = json.Unmarshal(b, &rec.body)
		}
		calls = append(calls, rec)
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c := NewStrikeClient(config.Exchange{
		BaseURL: srv.URL + "/v1/", APIKey: "secret-key", Timeout: 2 * time.Second, RateLimit: 100, Burst: 10,
	}, "TRADING_BOT", "")
	c.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	return c, &calls
}

func TestBalances(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"currency":"EUR","available":"1234.56","total":"1300"},{"currency":"BTC","available":"0.01500000"},{"currency":"USD","available":"5"}]`))
	})
	b, err := c.Balances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1234.56, b.EUR)
	assert.Equal(t, 0.015, b.BTC)
	require.Len(t, *calls, 1)
	assert.Equal(t, "/v1/balances", (*calls)[0].path)
	assert.Equal(t, "Bearer secret-key", (*calls)[0].auth)
}

func TestCreateQuoteBodies(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"q-1","state":"NEW"}`))
	})

	q, err := c.CreateQuote(context.Background(), model.QuoteRequest{Side: model.SideBuy, Amount: 130})
	require.NoError(t, err)
	assert.Equal(t, "q-1", q.ID)

	_, err = c.CreateQuote(context.Background(), model.QuoteRequest{Side: model.SideSell, Amount: 0.0025})
	require.NoError(t, err)

	require.Len(t, *calls, 2)
	buy := (*calls)[0].body
	assert.Equal(t, map[string]any{"amount": "130.00", "currency": "EUR"}, buy["amount"])
	assert.Equal(t, "EUR", buy["sell"])
	assert.Equal(t, "BTC", buy["buy"])
	assert.Equal(t, "INCLUSIVE", buy["feePolicy"])

	sell := (*calls)[1].body
	assert.Equal(t, "0.00250000", sell["amount"])
	assert.Equal(t, "BTC", sell["sourceCurrency"])
	assert.Equal(t, "EUR", sell["targetCurrency"])

	_, err = c.CreateQuote(context.Background(), model.QuoteRequest{Side: "HOLD", Amount: 1})
	assert.Error(t, err)
}

func TestExecuteAndGetQuote(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		_, _ = w.Write([]byte(`{"id":"q-1","state":"COMPLETED","source":{"amount":"130.00","currency":"EUR"},"target":{"amount":"0.00317073","currency":"BTC"},"conversionRate":{"amount":"41000.00"}}`))
	})

	require.NoError(t, c.ExecuteQuote(context.Background(), "q-1"))
	q, err := c.GetQuote(context.Background(), "q-1")
	require.NoError(t, err)
	assert.Equal(t, model.QuoteCompleted, q.State)
	assert.Equal(t, 0.00317073, q.TargetAmount)
	assert.Equal(t, 41000.0, q.ExchangeRate)

	assert.Equal(t, http.MethodPatch, (*calls)[0].method)
	assert.Equal(t, "/v1/currency-exchange-quotes/q-1/execute", (*calls)[0].path)
}

func TestGetQuoteNumericRate(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"state":"COMPLETED","target":{"amount":"108.25","currency":"EUR"},"exchangeRate":43300}`))
	})
	q, err := c.GetQuote(context.Background(), "q-9")
	require.NoError(t, err)
	assert.Equal(t, "q-9", q.ID)
	assert.Equal(t, 43300.0, q.ExchangeRate)
}

func TestAPIError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"data":{"code":"INVALID_AMOUNT"}}`))
	})
	_, err := c.CreateQuote(context.Background(), model.QuoteRequest{Side: model.SideBuy, Amount: 1})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Contains(t, apiErr.Body, "INVALID_AMOUNT")
}

func TestCreateInvoice(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"invoiceId":"inv-7"}`))
	})
	id, err := c.CreateInvoice(context.Background(), model.Receipt{
		CorrelationID: "q-1",
		TradeID:       "BUY_q-1_1",
		Description:   strings.Repeat("é", 250),
		Amount:        "130.00",
		Currency:      "EUR",
	})
	require.NoError(t, err)
	assert.Equal(t, "inv-7", id)

	body := (*calls)[0].body
	assert.Equal(t, "q-1", body["correlationId"])
	assert.Equal(t, "TRADING_BOT", body["issuer"])
	assert.Equal(t, 200, len([]rune(body["description"].(string))))
	meta := body["metadata"].(map[string]any)
	assert.Equal(t, "BUY_q-1_1", meta["tradeId"])
	assert.Equal(t, "BITCOIN_TRADE", meta["type"])
	assert.Equal(t, "2025-03-10T12:00:00Z", meta["timestamp"])
}

func TestCreateInvoiceRequiresID(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	_, err := c.CreateInvoice(context.Background(), model.Receipt{CorrelationID: "q", Amount: "1.00", Currency: "EUR"})
	assert.Error(t, err)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "130.00", FormatEUR(130))
	assert.Equal(t, "0.10", FormatEUR(0.1))
	assert.Equal(t, "0.00250000", FormatBTC(0.0025))
	assert.Equal(t, "short", TruncateDescription("short"))
}
