package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TierTrader/internal/config"
	"TierTrader/internal/model"
)

const light = "Correction légère ATR+RSI"

type memLedger struct {
	trades        []model.Trade
	tierErr       error
	fallbackErr   error
	fallbackCalls int
}

func (m *memLedger) QueryTradesByTierSince(_ context.Context, tier string, since time.Time) ([]model.Trade, error) {
	if m.tierErr != nil {
		return nil, m.tierErr
	}
	var out []model.Trade
	for _, t := range m.trades {
		if t.Tier.Name == tier && !t.EntryAt.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memLedger) QueryBuyTradesSince(_ context.Context, since time.Time, limit int) ([]model.Trade, error) {
	m.fallbackCalls++
	if m.fallbackErr != nil {
		return nil, m.fallbackErr
	}
	var out []model.Trade
	for _, t := range m.trades {
		if t.Direction == model.DirectionBuy && !t.EntryAt.Before(since) && len(out) < limit {
			out = append(out, t)
		}
	}
	return out, nil
}

func testGuardConfig() config.Guard {
	return config.Guard{
		Timezone:         "Europe/Paris",
		CheckSameDay:     true,
		Cooldown:         24 * time.Hour,
		FailOpen:         true,
		FallbackLookback: 12 * time.Hour,
		FallbackLimit:    50,
	}
}

func newGuard(t *testing.T, l Ledger, cfg config.Guard, now time.Time) *DuplicateGuard {
	t.Helper()
	g, err := New(l, cfg)
	require.NoError(t, err)
	g.now = func() time.Time { return now }
	return g
}

func buy(id, tier string, at time.Time, closed bool) model.Trade {
	return model.Trade{ID: id, Direction: model.DirectionBuy, Tier: model.Tier{Name: tier}, EntryAt: at, Closed: closed}
}

// 2025-03-10 14:00 in Paris (UTC+1).
var now = time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC)

func TestStartOfDayUsesTimezone(t *testing.T) {
	g := newGuard(t, &memLedger{}, testGuardConfig(), time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC))
	sod := g.StartOfDay()
	assert.Equal(t, time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC), sod.UTC(), "00:30 Paris on the 11th")
}

func TestAlreadyBoughtToday(t *testing.T) {
	l := &memLedger{trades: []model.Trade{
		buy("a", light, now.Add(-2*time.Hour), false),
	}}
	g := newGuard(t, l, testGuardConfig(), now)
	assert.True(t, g.AlreadyBoughtToday(context.Background(), light))
	assert.False(t, g.AlreadyBoughtToday(context.Background(), "Bear market ATR+RSI"))

	err := g.Check(context.Background(), light)
	assert.ErrorIs(t, err, ErrDuplicateGuardTripped)
	assert.Contains(t, err.Error(), "already bought today")
}

func TestAlreadyBoughtTodayIgnoresYesterday(t *testing.T) {
	l := &memLedger{trades: []model.Trade{
		buy("yesterday", light, now.Add(-20*time.Hour), false),
	}}
	g := newGuard(t, l, testGuardConfig(), now)
	assert.False(t, g.AlreadyBoughtToday(context.Background(), light))

	// still inside the 24h cooldown
	assert.True(t, g.RecentlyBought(context.Background(), light, 24*time.Hour))
	err := g.Check(context.Background(), light)
	assert.ErrorIs(t, err, ErrDuplicateGuardTripped)
	assert.Contains(t, err.Error(), "within the last")
}

func TestAlreadyBoughtTodayCountsSoldBuys(t *testing.T) {
	l := &memLedger{trades: []model.Trade{
		buy("sold", light, now.Add(-time.Hour), true),
	}}
	cfg := testGuardConfig()
	cfg.Cooldown = 0
	g := newGuard(t, l, cfg, now)

	assert.True(t, g.AlreadyBoughtToday(context.Background(), light))
	err := g.Check(context.Background(), light)
	assert.ErrorIs(t, err, ErrDuplicateGuardTripped)
	assert.Contains(t, err.Error(), "already bought today")
}

func TestCheckPasses(t *testing.T) {
	l := &memLedger{trades: []model.Trade{buy("old", light, now.Add(-30*time.Hour), false)}}
	g := newGuard(t, l, testGuardConfig(), now)
	assert.NoError(t, g.Check(context.Background(), light))
}

func TestFallbackQuery(t *testing.T) {
	l := &memLedger{
		trades:  []model.Trade{buy("a", light, now.Add(-time.Hour), false)},
		tierErr: errors.New("index missing"),
	}
	g := newGuard(t, l, testGuardConfig(), now)
	assert.True(t, g.AlreadyBoughtToday(context.Background(), light))
	assert.Equal(t, 1, l.fallbackCalls)
}

func TestFallbackIsNarrower(t *testing.T) {
	// 20h ago is inside the cooldown but outside the 12h fallback lookback.
	l := &memLedger{
		trades:  []model.Trade{buy("a", light, now.Add(-20*time.Hour), false)},
		tierErr: errors.New("index missing"),
	}
	g := newGuard(t, l, testGuardConfig(), now)
	assert.False(t, g.RecentlyBought(context.Background(), light, 24*time.Hour))
}

func TestFailOpenAndClosed(t *testing.T) {
	l := &memLedger{
		trades:      []model.Trade{buy("a", light, now.Add(-time.Hour), false)},
		tierErr:     errors.New("down"),
		fallbackErr: errors.New("still down"),
	}

	open := newGuard(t, l, testGuardConfig(), now)
	assert.False(t, open.AlreadyBoughtToday(context.Background(), light))
	assert.NoError(t, open.Check(context.Background(), light))

	cfg := testGuardConfig()
	cfg.FailOpen = false
	closed := newGuard(t, l, cfg, now)
	assert.True(t, closed.AlreadyBoughtToday(context.Background(), light))
	assert.ErrorIs(t, closed.Check(context.Background(), light), ErrDuplicateGuardTripped)
}

func TestBoughtAnyToday(t *testing.T) {
	l := &memLedger{trades: []model.Trade{buy("a", "Bear market ATR+RSI", now.Add(-time.Hour), true)}}
	g := newGuard(t, l, testGuardConfig(), now)
	got, err := g.BoughtAnyToday(context.Background())
	require.NoError(t, err)
	assert.True(t, got)

	l.fallbackErr = errors.New("down")
	_, err = g.BoughtAnyToday(context.Background())
	assert.Error(t, err)
}

func TestCheckPoliciesCanBeDisabled(t *testing.T) {
	l := &memLedger{trades: []model.Trade{buy("a", light, now.Add(-time.Hour), false)}}
	cfg := testGuardConfig()
	cfg.CheckSameDay = false
	cfg.Cooldown = 0
	g := newGuard(t, l, cfg, now)
	assert.NoError(t, g.Check(context.Background(), light))
}
