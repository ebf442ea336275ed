package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TierTrader/internal/model"
)

type botServer struct {
	mu     sync.Mutex
	sent   []map[string]string
	status int
}

func (s *botServer) handler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.sent = append(s.sent, body)
	if s.status != 0 {
		w.WriteHeader(s.status)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
		return
	}
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func newTestNotifier(t *testing.T, s *botServer) *TelegramNotifier {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(s.handler))
	t.Cleanup(srv.Close)
	return newTelegramNotifier(srv.URL, "token", "42", "")
}

func TestSend(t *testing.T) {
	s := &botServer{}
	n := newTestNotifier(t, s)

	require.NoError(t, n.Send(context.Background(), "<b>hi</b>"))
	require.Len(t, s.sent, 1)
	assert.Equal(t, "42", s.sent[0]["chat_id"])
	assert.Equal(t, "HTML", s.sent[0]["parse_mode"])
	assert.Equal(t, "<b>hi</b>", s.sent[0]["text"])
}

func TestSend_APIError(t *testing.T) {
	s := &botServer{status: http.StatusBadRequest}
	n := newTestNotifier(t, s)

	err := n.Send(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestDisabledNotifierIsNoop(t *testing.T) {
	n := NewTelegramNotifier("", "", "")
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Send(context.Background(), "hi"))
	assert.NotPanics(t, func() { n.Alert(context.Background(), "gap") })

	var nilNotifier *TelegramNotifier
	assert.NotPanics(t, func() { nilNotifier.Alert(context.Background(), "gap") })
}

func TestDispatchIgnoresOtherChats(t *testing.T) {
	s := &botServer{}
	n := newTestNotifier(t, s)
	var got []string
	handler := func(_ context.Context, cmd string) string {
		got = append(got, cmd)
		return "ok"
	}

	var u telegramUpdate
	require.NoError(t, json.Unmarshal([]byte(`{"update_id":1,"message":{"text":" /status ","chat":{"id":42}}}`), &u))
	n.dispatch(context.Background(), u, handler)

	require.NoError(t, json.Unmarshal([]byte(`{"update_id":2,"message":{"text":"/run","chat":{"id":7}}}`), &u))
	n.dispatch(context.Background(), u, handler)

	assert.Equal(t, []string{"/status"}, got)
	require.Len(t, s.sent, 1)
	assert.Equal(t, "ok", s.sent[0]["text"])
}

func TestFormatCycleReport(t *testing.T) {
	rep := &model.CycleReport{
		ExecutionID: "exec-1", Success: true, Action: model.ActionBoth,
		Price: 41000, DrawdownPct: -14.58, SourcesUsed: 5,
		Tier: &model.Tier{Name: "Correction légère ATR+RSI", CapitalPct: 13, TakeProfitPct: 10.4,
			Confidence: model.Confidence{Overall: 46, Label: "medium"}},
		Sells: []model.OrderOutcome{
			{Side: model.SideSell, TradeID: "t1", Success: true, Fill: &model.Fill{Quantity: 0.001, Price: 43300, ProfitPct: 8.25}},
			{Side: model.SideSell, TradeID: "t2", Error: "quote <FAILED>"},
		},
		BuyOutcome: &model.OrderOutcome{Side: model.SideBuy, Success: true, Fill: &model.Fill{Amount: 130, Quantity: 0.00317, Price: 41009}},
		Reason:     "1/2 sell(s) executed; buy executed",
	}

	out := FormatCycleReport(rep)
	assert.Contains(t, out, "SELLS_AND_BUY_EXECUTED")
	assert.Contains(t, out, "BTC: 41000.00 EUR (drawdown -14.58%, 5 sources)")
	assert.Contains(t, out, "confidence 46 (medium)")
	assert.Contains(t, out, "PnL +8.25%")
	assert.Contains(t, out, "quote &lt;FAILED&gt;")
	assert.Contains(t, out, "BUY 130.00 EUR")
	assert.Contains(t, out, "<code>exec-1</code>")
}

func TestFormatStatusAndReport(t *testing.T) {
	st := &model.StatusReport{
		PriceError: "insufficient sources", Balances: &model.Balances{EUR: 1000},
		OpenTrades: 2, BuysToday: 1, BuysPerTier: map[string]int{"Correction légère ATR+RSI": 1},
		GeneratedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	out := FormatStatus(st)
	assert.Contains(t, out, "unavailable (insufficient sources)")
	assert.Contains(t, out, "Open trades: 2 | buys today: 1")
	assert.Contains(t, out, "Correction légère ATR+RSI: 1")

	rep := &model.DailyReport{
		Date: "2026-03-02", Buys: 1, Sells: 1, InvestedTotal: 38, RealizedTotal: 3,
		SourceStats: []model.SourceStat{{Source: "kraken", Success: 9, Total: 10, AvgLatency: 0.25}},
	}
	out = FormatDailyReport(rep)
	assert.Contains(t, out, "Sells: 1 (realized +3.00 EUR)")
	assert.Contains(t, out, "kraken: 90% ok, 0.25s avg")
}
