// Package trader runs the trading cycle and the admin actions on top of the
// collector, strategy, guard and executor packages. Every entry point
// returns a report, also when nothing was done.
package trader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"TierTrader/internal/audit"
	"TierTrader/internal/config"
	"TierTrader/internal/guard"
	"TierTrader/internal/lease"
	"TierTrader/internal/ledger"
	"TierTrader/internal/logger"
	"TierTrader/internal/metrics"
	"TierTrader/internal/model"
	"TierTrader/internal/retry"
	"TierTrader/internal/strategy"
)

// Upper bound on open trades read per cycle.
const openTradeLimit = 100

type PriceCollector interface {
	Collect(ctx context.Context) (*model.ConsolidatedPrice, error)
}

type SignalProvider interface {
	Signals(ctx context.Context, price float64) model.Signals
}

type Guard interface {
	Check(ctx context.Context, tierName string) error
	BoughtAnyToday(ctx context.Context) (bool, error)
}

type OrderExecutor interface {
	ExecuteBuy(ctx context.Context, d model.BuyDecision) (*model.Fill, error)
	ExecuteSell(ctx context.Context, d model.SellDecision) (*model.Fill, error)
}

type BalanceSource interface {
	Balances(ctx context.Context) (*model.Balances, error)
}

// Deps are the collaborators of a Trader. Publisher and Metrics are optional.
type Deps struct {
	Collector PriceCollector
	Signals   SignalProvider
	Engine    *strategy.Engine
	Guard     Guard
	Executor  OrderExecutor
	Exchange  BalanceSource
	Store     ledger.Store
	Lease     lease.Lease
	Publisher audit.Publisher
	Metrics   *metrics.Recorder
}

// Settings are the timing knobs of a Trader.
type Settings struct {
	Retry     config.Retry
	SellPause time.Duration
	Location  *time.Location
}

type Trader struct {
	deps  Deps
	cfg   Settings
	log   *logrus.Entry
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

func New(deps Deps, cfg Settings) *Trader {
	if deps.Publisher == nil {
		deps.Publisher = audit.NoopPublisher{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	deps.Guard = countingGuard{Guard: deps.Guard, metrics: deps.Metrics}
	return &Trader{
		deps:  deps,
		cfg:   cfg,
		log:   logger.WithComponent("trader"),
		now:   time.Now,
		sleep: sleepCtx,
		newID: uuid.NewString,
	}
}

// RunCycle is one scheduled or manual cycle: consolidate the price,
// classify the tier, sell every trade past its target, then decide and
// maybe execute one buy.
func (t *Trader) RunCycle(ctx context.Context) *model.CycleReport {
	rep, log := t.begin("cycle")
	release, err := t.deps.Lease.Acquire(ctx)
	if err != nil {
		return t.finish(ctx, log, t.fail(rep, leaseReason(err)))
	}
	defer t.release(log, release)

	cp, ok := t.collect(ctx, log, rep)
	if !ok {
		return t.finish(ctx, log, rep)
	}

	type evaluation struct {
		tier  model.Tier
		open  []model.Trade
		sells []model.SellDecision
	}
	ev, err := retry.Do(ctx, t.cfg.Retry.EvaluateAttempts, t.cfg.Retry.EvaluateDelay, func(ctx context.Context) (*evaluation, error) {
		sig := t.deps.Signals.Signals(ctx, cp.Price)
		tier := t.deps.Engine.Classify(cp.Drawdown(), sig)
		open, err := t.deps.Store.QueryOpenBuyTrades(ctx, openTradeLimit)
		if err != nil {
			return nil, fmt.Errorf("query open trades: %w", err)
		}
		return &evaluation{tier: tier, open: open, sells: strategy.EvaluateSells(open, cp.Price)}, nil
	})
	if err != nil {
		return t.finish(ctx, log, t.fail(rep, fmt.Sprintf("strategy evaluation failed: %v", err)))
	}
	rep.Tier = &ev.tier
	rep.OpenTrades = len(ev.open)
	t.deps.Metrics.SetOpenTrades(len(ev.open))
	log.WithFields(logrus.Fields{
		"tier":       ev.tier.Name,
		"capital":    ev.tier.CapitalPct,
		"take":       ev.tier.TakeProfitPct,
		"confidence": ev.tier.Confidence.Overall,
		"open":       len(ev.open),
		"sells":      len(ev.sells),
	}).Info("cycle evaluated")

	rep.Sells, rep.SellsExecuted = t.executeSells(ctx, log, ev.sells, cp.Drawdown())

	bal, err := retry.Do(ctx, t.cfg.Retry.EvaluateAttempts, t.cfg.Retry.EvaluateDelay, t.deps.Exchange.Balances)
	if err != nil {
		return t.finish(ctx, log, t.fail(rep, fmt.Sprintf("balance unavailable, buy skipped: %v", err)))
	}
	rep.Balance = bal.EUR

	d := t.deps.Engine.DecideBuy(ctx, t.deps.Guard, ev.tier, cp.Price, bal.EUR)
	rep.Buy = &d
	if !d.Allowed {
		log.WithField("reason", d.Reason).Info("no buy this cycle")
	} else {
		rep.BuyOutcome = t.executeBuy(ctx, log, d)
		rep.BuyExecuted = rep.BuyOutcome.Success
	}

	rep.Success = !ordersFailed(rep)
	rep.Reason = summarize(rep)
	return t.finish(ctx, log, rep)
}

// ForceSellAll sells every open trade at market, one after the other.
func (t *Trader) ForceSellAll(ctx context.Context) *model.CycleReport {
	rep, log := t.begin("force-sell")
	release, err := t.deps.Lease.Acquire(ctx)
	if err != nil {
		return t.finish(ctx, log, t.fail(rep, leaseReason(err)))
	}
	defer t.release(log, release)

	cp, ok := t.collect(ctx, log, rep)
	if !ok {
		return t.finish(ctx, log, rep)
	}

	open, err := t.deps.Store.QueryOpenBuyTrades(ctx, openTradeLimit)
	if err != nil {
		return t.finish(ctx, log, t.fail(rep, fmt.Sprintf("query open trades: %v", err)))
	}
	rep.OpenTrades = len(open)
	if len(open) == 0 {
		rep.Success = true
		rep.Reason = "no open trades to sell"
		return t.finish(ctx, log, rep)
	}

	log.WithField("count", len(open)).Warn("forced sell of all open trades")
	rep.Sells, rep.SellsExecuted = t.executeSells(ctx, log, strategy.ForcedSells(open, cp.Price), cp.Drawdown())
	rep.Success = !ordersFailed(rep)
	rep.Reason = fmt.Sprintf("%d/%d forced sell(s) executed", rep.SellsExecuted, len(rep.Sells))
	return t.finish(ctx, log, rep)
}

// ForceBuy buys a small fixed amount in the light tier. It is refused when
// any buy has already been made today.
func (t *Trader) ForceBuy(ctx context.Context) *model.CycleReport {
	rep, log := t.begin("force-buy")
	release, err := t.deps.Lease.Acquire(ctx)
	if err != nil {
		return t.finish(ctx, log, t.fail(rep, leaseReason(err)))
	}
	defer t.release(log, release)

	bought, err := t.deps.Guard.BoughtAnyToday(ctx)
	if err != nil {
		return t.finish(ctx, log, t.fail(rep, fmt.Sprintf("cannot verify today's buys: %v", err)))
	}
	if bought {
		log.Info("forced buy refused: a buy was already executed today")
		return t.finish(ctx, log, t.fail(rep, "a buy was already executed today"))
	}

	cp, ok := t.collect(ctx, log, rep)
	if !ok {
		return t.finish(ctx, log, rep)
	}
	bal, err := t.deps.Exchange.Balances(ctx)
	if err != nil {
		return t.finish(ctx, log, t.fail(rep, fmt.Sprintf("balance unavailable: %v", err)))
	}
	rep.Balance = bal.EUR

	sig := t.deps.Signals.Signals(ctx, cp.Price)
	d := t.deps.Engine.DecideForcedBuy(sig, cp.Drawdown(), cp.Price, bal.EUR)
	rep.Buy = &d
	rep.Tier = &d.Tier
	if !d.Allowed {
		return t.finish(ctx, log, t.fail(rep, d.Reason))
	}

	rep.BuyOutcome = t.executeBuy(ctx, log, d)
	rep.BuyExecuted = rep.BuyOutcome.Success
	rep.Success = rep.BuyExecuted
	rep.Reason = summarize(rep)
	return t.finish(ctx, log, rep)
}

// Status is a read-only view. Price and balance failures are reported in
// the result; only ledger failures are returned as errors.
func (t *Trader) Status(ctx context.Context) (*model.StatusReport, error) {
	st := &model.StatusReport{GeneratedAt: t.now()}

	if cp, err := t.deps.Collector.Collect(ctx); err != nil {
		st.PriceError = err.Error()
	} else {
		st.Price = cp
	}
	if bal, err := t.deps.Exchange.Balances(ctx); err != nil {
		st.BalanceError = err.Error()
	} else {
		st.Balances = bal
	}

	open, err := t.deps.Store.QueryOpenBuyTrades(ctx, openTradeLimit)
	if err != nil {
		return nil, fmt.Errorf("query open trades: %w", err)
	}
	st.OpenTrades = len(open)

	today, err := t.deps.Store.QueryBuyTradesSince(ctx, t.startOfDay(t.now()), -1)
	if err != nil {
		return nil, fmt.Errorf("query today's buys: %w", err)
	}
	st.BuysToday = len(today)
	st.BuysPerTier = perTier(today)

	if st.SourceStats, err = t.deps.Store.SourceStats(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

// DailyReport summarises the calendar day that contains day.
func (t *Trader) DailyReport(ctx context.Context, day time.Time) (*model.DailyReport, error) {
	start := t.startOfDay(day)
	end := start.AddDate(0, 0, 1)

	trades, err := t.deps.Store.QueryTradesSince(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}

	rep := &model.DailyReport{Date: start.Format("2006-01-02"), BuysPerTier: map[string]int{}}
	var buys []model.Trade
	for _, tr := range trades {
		in := false
		if !tr.EntryAt.Before(start) && tr.EntryAt.Before(end) {
			in = true
			rep.Buys++
			rep.InvestedTotal += tr.Invested
			buys = append(buys, tr)
		}
		if tr.Closed && !tr.ExitAt.Before(start) && tr.ExitAt.Before(end) {
			in = true
			rep.Sells++
			rep.RealizedTotal += tr.ExitAmount - tr.Invested
		}
		if in {
			rep.Trades = append(rep.Trades, tr)
		}
	}
	rep.BuysPerTier = perTier(buys)

	if rep.SourceStats, err = t.deps.Store.SourceStats(ctx); err != nil {
		return nil, err
	}
	return rep, nil
}

// SourceStats returns the persisted per-source telemetry.
func (t *Trader) SourceStats(ctx context.Context) ([]model.SourceStat, error) {
	return t.deps.Store.SourceStats(ctx)
}

// Snapshot persists the current system state. Missing price or balance
// data is recorded as zero.
func (t *Trader) Snapshot(ctx context.Context) (*model.Snapshot, error) {
	snap := model.Snapshot{Timestamp: t.now()}
	var errs []error

	if cp, err := t.deps.Collector.Collect(ctx); err != nil {
		errs = append(errs, fmt.Errorf("price: %w", err))
	} else {
		snap.Price = cp.Price
		snap.DrawdownPct = cp.Drawdown()
		snap.SourcesUsed = cp.SourcesUsed
	}
	if bal, err := t.deps.Exchange.Balances(ctx); err != nil {
		errs = append(errs, fmt.Errorf("balances: %w", err))
	} else {
		snap.EUR, snap.BTC = bal.EUR, bal.BTC
	}
	if open, err := t.deps.Store.QueryOpenBuyTrades(ctx, openTradeLimit); err != nil {
		errs = append(errs, fmt.Errorf("open trades: %w", err))
	} else {
		snap.OpenTrades = len(open)
	}
	if len(errs) > 0 {
		t.log.WithError(errors.Join(errs...)).Warn("snapshot incomplete")
	}

	if err := t.deps.Store.RecordSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("record snapshot: %w", err)
	}
	return &snap, nil
}

// PruneSnapshots deletes snapshots older than retention. Trades are kept.
func (t *Trader) PruneSnapshots(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := t.deps.Store.PruneSnapshots(ctx, t.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	t.log.WithField("deleted", n).Info("snapshots pruned")
	return n, nil
}

func (t *Trader) begin(kind string) (*model.CycleReport, *logrus.Entry) {
	rep := &model.CycleReport{
		ExecutionID: t.newID(),
		Action:      model.ActionNone,
		StartedAt:   t.now(),
	}
	log := t.log.WithFields(logrus.Fields{"execution_id": rep.ExecutionID, "run": kind})
	log.Info("run started")
	return rep, log
}

func (t *Trader) fail(rep *model.CycleReport, reason string) *model.CycleReport {
	rep.Success = false
	rep.Reason = reason
	return rep
}

func (t *Trader) finish(ctx context.Context, log *logrus.Entry, rep *model.CycleReport) *model.CycleReport {
	rep.FinishedAt = t.now()
	rep.Action = action(rep)
	elapsed := rep.FinishedAt.Sub(rep.StartedAt)
	t.deps.Metrics.CycleFinished(rep.Action, elapsed)

	entry := log.WithFields(logrus.Fields{"action": rep.Action, "success": rep.Success, "elapsed": elapsed})
	if rep.Success {
		entry.Info(rep.Reason)
	} else {
		entry.Warn(rep.Reason)
	}

	ev := audit.Event{Type: audit.EventCycle, ExecutionID: rep.ExecutionID, Price: rep.Price, Reason: rep.Reason, At: rep.FinishedAt}
	if err := t.deps.Publisher.Publish(ctx, ev); err != nil {
		log.WithError(err).Debug("cycle event not published")
	}
	return rep
}

func (t *Trader) release(log *logrus.Entry, release lease.Release) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := release(ctx); err != nil {
		log.WithError(err).Warn("lease release failed, it will expire")
	}
}

// collect consolidates the price with retries and records telemetry. On
// failure rep is marked failed and ok is false.
func (t *Trader) collect(ctx context.Context, log *logrus.Entry, rep *model.CycleReport) (*model.ConsolidatedPrice, bool) {
	cp, err := retry.Do(ctx, t.cfg.Retry.CollectAttempts, t.cfg.Retry.CollectDelay, t.deps.Collector.Collect)
	if err != nil {
		t.fail(rep, fmt.Sprintf("price collection failed: %v", err))
		return nil, false
	}

	rep.Price = cp.Price
	rep.DrawdownPct = cp.Drawdown()
	rep.SourcesUsed = cp.SourcesUsed
	rep.Fallback = cp.Fallback
	t.deps.Metrics.ObservePrice(cp)
	if err := t.deps.Store.RecordSourceStats(ctx, cp.Samples); err != nil {
		log.WithError(err).Warn("source stats not recorded")
	}
	return cp, true
}

// executeSells runs each decision on its own with a pause in between. A
// failed sell does not stop the others.
func (t *Trader) executeSells(ctx context.Context, log *logrus.Entry, sells []model.SellDecision, drawdown float64) ([]model.OrderOutcome, int) {
	var (
		out      []model.OrderOutcome
		executed int
	)
	for i, s := range sells {
		if i > 0 && t.cfg.SellPause > 0 {
			if err := t.sleep(ctx, t.cfg.SellPause); err != nil {
				log.WithError(err).Warn("sells interrupted")
				break
			}
		}
		s.DrawdownPct = drawdown

		var fill *model.Fill
		_, err := retry.Do(ctx, t.cfg.Retry.OrderAttempts, t.cfg.Retry.OrderDelay, func(ctx context.Context) (*model.Fill, error) {
			f, err := t.deps.Executor.ExecuteSell(ctx, s)
			fill = f
			return f, err
		})
		o := model.OrderOutcome{Side: model.SideSell, TradeID: s.Trade.ID, Reason: s.Reason, Fill: fill}
		if err != nil {
			o.Error = err.Error()
			log.WithError(err).WithField("trade_id", s.Trade.ID).Error("sell failed")
		} else {
			o.Success = true
			executed++
		}
		out = append(out, o)
	}
	return out, executed
}

func (t *Trader) executeBuy(ctx context.Context, log *logrus.Entry, d model.BuyDecision) *model.OrderOutcome {
	// a fill returned with an error is an unrecorded order; keep it for the report
	var fill *model.Fill
	_, err := retry.Do(ctx, t.cfg.Retry.OrderAttempts, t.cfg.Retry.OrderDelay, func(ctx context.Context) (*model.Fill, error) {
		f, err := t.deps.Executor.ExecuteBuy(ctx, d)
		fill = f
		return f, err
	})
	o := &model.OrderOutcome{Side: model.SideBuy, Reason: d.Reason, Fill: fill}
	if fill != nil {
		o.TradeID = fill.TradeID
	}
	switch {
	case errors.Is(err, guard.ErrDuplicateGuardTripped):
		o.Skipped = true
		o.Error = err.Error()
		log.WithField("tier", d.Tier.Name).Info("buy skipped at final duplicate check")
	case err != nil:
		o.Error = err.Error()
		log.WithError(err).WithField("tier", d.Tier.Name).Error("buy failed")
	default:
		o.Success = true
	}
	return o
}

func (t *Trader) startOfDay(at time.Time) time.Time {
	n := at.In(t.cfg.Location)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, t.cfg.Location)
}

func action(rep *model.CycleReport) string {
	switch {
	case rep.SellsExecuted > 0 && rep.BuyExecuted:
		return model.ActionBoth
	case rep.BuyExecuted:
		return model.ActionBuy
	case rep.SellsExecuted > 0:
		return model.ActionSells
	default:
		return model.ActionNone
	}
}

// ordersFailed ignores buys skipped by the final duplicate check.
func ordersFailed(rep *model.CycleReport) bool {
	for _, s := range rep.Sells {
		if !s.Success {
			return true
		}
	}
	o := rep.BuyOutcome
	return o != nil && !o.Success && !o.Skipped
}

func summarize(rep *model.CycleReport) string {
	var parts []string
	if n := len(rep.Sells); n > 0 {
		parts = append(parts, fmt.Sprintf("%d/%d sell(s) executed", rep.SellsExecuted, n))
	}
	switch {
	case rep.BuyOutcome != nil && rep.BuyOutcome.Success:
		parts = append(parts, fmt.Sprintf("buy executed in tier %s", rep.Buy.Tier.Name))
	case rep.BuyOutcome != nil && rep.BuyOutcome.Skipped:
		parts = append(parts, "buy skipped: "+rep.BuyOutcome.Error)
	case rep.BuyOutcome != nil:
		parts = append(parts, "buy failed: "+rep.BuyOutcome.Error)
	case rep.Buy != nil:
		parts = append(parts, "no buy: "+rep.Buy.Reason)
	}
	if len(parts) == 0 {
		return "no action"
	}
	return strings.Join(parts, "; ")
}

func perTier(trades []model.Trade) map[string]int {
	out := map[string]int{}
	for _, tr := range trades {
		if tr.Direction == model.DirectionBuy {
			out[tr.Tier.Name]++
		}
	}
	return out
}

func leaseReason(err error) string {
	if errors.Is(err, lease.ErrHeld) {
		return "skipped: another run holds the cycle lease"
	}
	return fmt.Sprintf("cycle lease unavailable: %v", err)
}

// countingGuard counts duplicate trips for metrics.
type countingGuard struct {
	Guard
	metrics *metrics.Recorder
}

func (g countingGuard) Check(ctx context.Context, tierName string) error {
	err := g.Guard.Check(ctx, tierName)
	if errors.Is(err, guard.ErrDuplicateGuardTripped) {
		g.metrics.GuardTripped()
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
