// Package exchange talks to the custodial exchange account.
package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"TierTrader/internal/config"
	"TierTrader/internal/model"
)

// Maximum receipt description length accepted by the exchange.
const maxDescription = 200

// Client is the exchange surface used by the trader.
type Client interface {
	Balances(ctx context.Context) (*model.Balances, error)
	CreateQuote(ctx context.Context, req model.QuoteRequest) (*model.Quote, error)
	ExecuteQuote(ctx context.Context, id string) error
	GetQuote(ctx context.Context, id string) (*model.Quote, error)
	CreateInvoice(ctx context.Context, r model.Receipt) (string, error)
}

// APIError is a non-2xx answer from the exchange.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// StrikeClient implements Client over the Strike REST API.
type StrikeClient struct {
	http    *resty.Client
	limiter *rate.Limiter
	issuer  string
	now     func() time.Time
}

func NewStrikeClient(cfg config.Exchange, issuer, proxy string) *StrikeClient {
	c := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetAuthToken(cfg.APIKey).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if proxy != "" {
		c.SetProxy(proxy)
	}
	return &StrikeClient{
		http:    c,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		issuer:  issuer,
		now:     time.Now,
	}
}

type money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type balanceDTO struct {
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
}

type quoteDTO struct {
	ID             string          `json:"id"`
	State          string          `json:"state"`
	Source         *money          `json:"source"`
	Target         *money          `json:"target"`
	ExchangeRate   decimal.Decimal `json:"exchangeRate"`
	ConversionRate *struct {
		Amount decimal.Decimal `json:"amount"`
	} `json:"conversionRate"`
}

func (q *quoteDTO) toModel() *model.Quote {
	out := &model.Quote{ID: q.ID, State: model.QuoteState(strings.ToUpper(q.State))}
	if q.Source != nil {
		out.SourceAmount = q.Source.Amount.InexactFloat64()
		out.SourceCurrency = q.Source.Currency
	}
	if q.Target != nil {
		out.TargetAmount = q.Target.Amount.InexactFloat64()
		out.TargetCurrency = q.Target.Currency
	}
	xr := q.ExchangeRate
	if xr.IsZero() && q.ConversionRate != nil {
		xr = q.ConversionRate.Amount
	}
	out.ExchangeRate = xr.InexactFloat64()
	return out
}

func (c *StrikeClient) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if !resp.IsSuccess() {
		return &APIError{Method: method, Path: path, Status: resp.StatusCode(), Body: truncate(resp.String(), 300)}
	}
	return nil
}

// Balances returns the available EUR and BTC.
func (c *StrikeClient) Balances(ctx context.Context) (*model.Balances, error) {
	var list []balanceDTO
	if err := c.do(ctx, http.MethodGet, "/balances", nil, &list); err != nil {
		return nil, fmt.Errorf("get balances: %w", err)
	}
	b := &model.Balances{FetchedAt: c.now()}
	for _, item := range list {
		switch strings.ToUpper(item.Currency) {
		case "EUR":
			b.EUR = item.Available.InexactFloat64()
		case "BTC":
			b.BTC = item.Available.InexactFloat64()
		}
	}
	return b, nil
}

// CreateQuote requests a conversion quote. Buys spend Amount EUR with fees
// included; sells convert Amount BTC.
func (c *StrikeClient) CreateQuote(ctx context.Context, req model.QuoteRequest) (*model.Quote, error) {
	var body any
	switch req.Side {
	case model.SideBuy:
		body = map[string]any{
			"amount":    map[string]string{"amount": FormatEUR(req.Amount), "currency": "EUR"},
			"sell":      "EUR",
			"buy":       "BTC",
			"feePolicy": "INCLUSIVE",
		}
	case model.SideSell:
		body = map[string]any{
			"sourceCurrency": "BTC",
			"targetCurrency": "EUR",
			"amount":         FormatBTC(req.Amount),
		}
	default:
		return nil, fmt.Errorf("create quote: unknown side %q", req.Side)
	}

	var q quoteDTO
	if err := c.do(ctx, http.MethodPost, "/currency-exchange-quotes", body, &q); err != nil {
		return nil, fmt.Errorf("create quote: %w", err)
	}
	return q.toModel(), nil
}

// ExecuteQuote commits a quote. It must not be retried blindly.
func (c *StrikeClient) ExecuteQuote(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodPatch, "/currency-exchange-quotes/"+id+"/execute", map[string]any{}, nil); err != nil {
		return fmt.Errorf("execute quote %s: %w", id, err)
	}
	return nil
}

func (c *StrikeClient) GetQuote(ctx context.Context, id string) (*model.Quote, error) {
	var q quoteDTO
	if err := c.do(ctx, http.MethodGet, "/currency-exchange-quotes/"+id, nil, &q); err != nil {
		return nil, fmt.Errorf("get quote %s: %w", id, err)
	}
	if q.ID == "" {
		q.ID = id
	}
	return q.toModel(), nil
}

// CreateInvoice records a receipt and returns its id.
func (c *StrikeClient) CreateInvoice(ctx context.Context, r model.Receipt) (string, error) {
	tradeID := r.TradeID
	if tradeID == "" {
		tradeID = r.CorrelationID
	}
	body := map[string]any{
		"correlationId": r.CorrelationID,
		"description":   TruncateDescription(r.Description),
		"amount":        map[string]string{"amount": r.Amount, "currency": r.Currency},
		"issuer":        c.issuer,
		"metadata": map[string]string{
			"tradeId":   tradeID,
			"type":      "BITCOIN_TRADE",
			"timestamp": c.now().UTC().Format(time.RFC3339),
		},
	}

	var out struct {
		InvoiceID string `json:"invoiceId"`
	}
	if err := c.do(ctx, http.MethodPost, "/invoices", body, &out); err != nil {
		return "", fmt.Errorf("create invoice: %w", err)
	}
	if out.InvoiceID == "" {
		return "", fmt.Errorf("create invoice: response has no invoiceId")
	}
	return out.InvoiceID, nil
}

// FormatEUR renders an EUR amount with two decimals.
func FormatEUR(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

// FormatBTC renders a BTC amount with eight decimals.
func FormatBTC(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(8)
}

// TruncateDescription cuts s to the exchange limit without splitting a rune.
func TruncateDescription(s string) string {
	if utf8.RuneCountInString(s) <= maxDescription {
		return s
	}
	return string([]rune(s)[:maxDescription])
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
