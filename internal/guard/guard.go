// Package guard prevents repeated buys in the same tier.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"TierTrader/internal/config"
	"TierTrader/internal/logger"
	"TierTrader/internal/model"
)

// ErrDuplicateGuardTripped means a buy was skipped as a duplicate. It is a
// business decision, not a failure.
var ErrDuplicateGuardTripped = errors.New("duplicate guard tripped")

// Ledger is the read surface the guard needs.
type Ledger interface {
	QueryTradesByTierSince(ctx context.Context, tierName string, since time.Time) ([]model.Trade, error)
	QueryBuyTradesSince(ctx context.Context, since time.Time, limit int) ([]model.Trade, error)
}

// DuplicateGuard answers "was this tier bought recently" from the ledger.
// Query errors degrade to a narrower fallback query; if that fails too the
// answer follows the configured fail-open policy.
type DuplicateGuard struct {
	ledger Ledger
	cfg    config.Guard
	loc    *time.Location
	log    *logrus.Entry
	now    func() time.Time
}

func New(ledger Ledger, cfg config.Guard) (*DuplicateGuard, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	return &DuplicateGuard{
		ledger: ledger,
		cfg:    cfg,
		loc:    loc,
		log:    logger.WithComponent("guard"),
		now:    time.Now,
	}, nil
}

// StartOfDay is midnight of the current calendar day in the guard timezone.
func (g *DuplicateGuard) StartOfDay() time.Time {
	n := g.now().In(g.loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, g.loc)
}

// AlreadyBoughtToday reports a buy for tierName entered today. A buy that
// was already sold again still counts.
func (g *DuplicateGuard) AlreadyBoughtToday(ctx context.Context, tierName string) bool {
	since := g.StartOfDay()
	return g.query(ctx, "same_day", tierName, since, func(t model.Trade) bool {
		return !t.EntryAt.Before(since)
	})
}

// RecentlyBought reports any buy for tierName within window.
func (g *DuplicateGuard) RecentlyBought(ctx context.Context, tierName string, window time.Duration) bool {
	since := g.now().Add(-window)
	return g.query(ctx, "cooldown", tierName, since, func(t model.Trade) bool {
		return !t.EntryAt.Before(since)
	})
}

// Check runs the enabled policies in order and wraps
// ErrDuplicateGuardTripped with the reason when one matches.
func (g *DuplicateGuard) Check(ctx context.Context, tierName string) error {
	if g.cfg.CheckSameDay && g.AlreadyBoughtToday(ctx, tierName) {
		g.log.WithField("tier", tierName).Info("buy skipped: tier already bought today")
		return fmt.Errorf("%w: tier %s already bought today", ErrDuplicateGuardTripped, tierName)
	}
	if g.cfg.Cooldown > 0 && g.RecentlyBought(ctx, tierName, g.cfg.Cooldown) {
		g.log.WithField("tier", tierName).Info("buy skipped: tier in cooldown")
		return fmt.Errorf("%w: tier %s bought within the last %s", ErrDuplicateGuardTripped, tierName, g.cfg.Cooldown)
	}
	return nil
}

// BoughtAnyToday reports a buy in any tier today. Unlike the per-tier checks
// it returns the query error instead of applying the fail-open policy.
func (g *DuplicateGuard) BoughtAnyToday(ctx context.Context) (bool, error) {
	trades, err := g.ledger.QueryBuyTradesSince(ctx, g.StartOfDay(), 1)
	if err != nil {
		return false, fmt.Errorf("query today's buys: %w", err)
	}
	return len(trades) > 0, nil
}

func (g *DuplicateGuard) query(ctx context.Context, check, tierName string, since time.Time, match func(model.Trade) bool) bool {
	trades, err := g.ledger.QueryTradesByTierSince(ctx, tierName, since)
	if err == nil {
		return anyMatch(trades, tierName, match)
	}

	log := g.log.WithFields(logrus.Fields{"check": check, "tier": tierName})
	log.WithError(err).Warn("guard query failed, trying fallback query")

	fbSince := g.now().Add(-g.cfg.FallbackLookback)
	if fbSince.Before(since) {
		fbSince = since
	}
	trades, fbErr := g.ledger.QueryBuyTradesSince(ctx, fbSince, g.cfg.FallbackLimit)
	if fbErr == nil {
		return anyMatch(trades, tierName, match)
	}

	if g.cfg.FailOpen {
		log.WithError(fbErr).Warn("guard fallback query failed, failing open: treating as not a duplicate")
		return false
	}
	log.WithError(fbErr).Warn("guard fallback query failed, failing closed: treating as a duplicate")
	return true
}

func anyMatch(trades []model.Trade, tierName string, match func(model.Trade) bool) bool {
	for _, t := range trades {
		if t.Direction == model.DirectionBuy && t.Tier.Name == tierName && match(t) {
			return true
		}
	}
	return false
}
