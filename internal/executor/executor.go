// Package executor drives one exchange order through the quote lifecycle
// and records the result in the ledger.
//
// A buy or sell moves through
//
//	CREATING_QUOTE -> QUOTE_CREATED -> EXECUTING -> POLLING -> COMPLETED | FAILED
//
// Nothing is written to the ledger unless the quote reaches COMPLETED. Once
// the execute request has been sent every error is marked permanent, so an
// outer retry never places a second order for the same decision.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"TierTrader/internal/audit"
	"TierTrader/internal/config"
	"TierTrader/internal/exchange"
	"TierTrader/internal/guard"
	"TierTrader/internal/ledger"
	"TierTrader/internal/logger"
	"TierTrader/internal/model"
	"TierTrader/internal/retry"
)

// State of an order inside the executor.
type State string

const (
	StateCreatingQuote State = "CREATING_QUOTE"
	StateQuoteCreated  State = "QUOTE_CREATED"
	StateExecuting     State = "EXECUTING"
	StatePolling       State = "POLLING"
	StateCompleted     State = "COMPLETED"
	StateFailed        State = "FAILED"
)

var (
	ErrQuoteCreationFailed   = errors.New("quote creation failed")
	ErrQuoteExecutionFailed  = errors.New("quote execution failed")
	ErrQuoteTerminalFailure  = errors.New("quote reached a terminal failure state")
	ErrQuoteTimeout          = errors.New("quote did not complete in time")
	ErrReceiptCreationFailed = errors.New("receipt creation failed")
	ErrInvalidOrder          = errors.New("invalid order")
)

// OrderError reports the state an order was in when it failed.
type OrderError struct {
	Side    model.Side
	State   State
	QuoteID string
	Err     error
}

func (e *OrderError) Error() string {
	if e.QuoteID == "" {
		return fmt.Sprintf("%s order failed in %s: %v", e.Side, e.State, e.Err)
	}
	return fmt.Sprintf("%s order %s failed in %s: %v", e.Side, e.QuoteID, e.State, e.Err)
}

func (e *OrderError) Unwrap() error { return e.Err }

// DailyChecker is rechecked right before a buy quote is executed.
type DailyChecker interface {
	AlreadyBoughtToday(ctx context.Context, tierName string) bool
}

// Observer receives order metrics. *metrics.Recorder implements it.
type Observer interface {
	OrderFinished(side model.Side, state string, d time.Duration)
	ReconciliationGap(side model.Side)
	Receipt(err error)
	GuardTripped()
}

// Alerter is told about fills the ledger could not record.
type Alerter interface {
	Alert(ctx context.Context, text string)
}

// Deps are the collaborators of an Executor. Publisher, Metrics and Alerter
// are optional.
type Deps struct {
	Exchange  exchange.Client
	Ledger    ledger.TradeLedger
	Guard     DailyChecker
	Publisher audit.Publisher
	Metrics   Observer
	Alerter   Alerter
}

type Executor struct {
	deps  Deps
	cfg   config.Executor
	log   *logrus.Entry
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(deps Deps, cfg config.Executor) *Executor {
	if deps.Publisher == nil {
		deps.Publisher = audit.NoopPublisher{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopObserver{}
	}
	if deps.Alerter == nil {
		deps.Alerter = nopAlerter{}
	}
	return &Executor{
		deps:  deps,
		cfg:   cfg,
		log:   logger.WithComponent("executor"),
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// ExecuteBuy converts d.Amount EUR into BTC and inserts exactly one buy
// trade when the quote completes.
func (e *Executor) ExecuteBuy(ctx context.Context, d model.BuyDecision) (*model.Fill, error) {
	if !d.Allowed || d.Amount <= 0 {
		return nil, retry.Permanent(&OrderError{
			Side: model.SideBuy, State: StateCreatingQuote,
			Err: fmt.Errorf("%w: buy not allowed or amount %.2f", ErrInvalidOrder, d.Amount),
		})
	}

	start := e.now()
	log := e.log.WithFields(logrus.Fields{"side": model.SideBuy, "tier": d.Tier.Name, "amount": d.Amount})

	q, err := e.createQuote(ctx, log, model.QuoteRequest{Side: model.SideBuy, Amount: d.Amount})
	if err != nil {
		e.deps.Metrics.OrderFinished(model.SideBuy, string(StateFailed), e.now().Sub(start))
		return nil, err
	}
	log = log.WithField("quote_id", q.ID)

	if e.deps.Guard != nil && e.deps.Guard.AlreadyBoughtToday(ctx, d.Tier.Name) {
		log.Warn("tier bought by a concurrent order, quote abandoned")
		e.deps.Metrics.GuardTripped()
		e.publish(ctx, log, audit.Event{
			Type: audit.EventRefused, QuoteID: q.ID, Side: model.SideBuy, Tier: d.Tier.Name,
			Amount: d.Amount, Reason: "tier already bought today", At: e.now(),
		})
		e.deps.Metrics.OrderFinished(model.SideBuy, string(StateFailed), e.now().Sub(start))
		return nil, retry.Permanent(&OrderError{
			Side: model.SideBuy, State: StateQuoteCreated, QuoteID: q.ID,
			Err: fmt.Errorf("%w: tier %s already bought today", guard.ErrDuplicateGuardTripped, d.Tier.Name),
		})
	}

	ctx, err = e.commit(ctx, model.SideBuy, q.ID)
	if err != nil {
		e.deps.Metrics.OrderFinished(model.SideBuy, string(StateFailed), e.now().Sub(start))
		return nil, err
	}
	done, err := e.executeAndPoll(ctx, log, model.SideBuy, q.ID)
	if err != nil {
		e.deps.Metrics.OrderFinished(model.SideBuy, string(StateFailed), e.now().Sub(start))
		return nil, err
	}

	qty := done.TargetAmount
	if qty <= 0 {
		e.gap(ctx, log, model.SideBuy, q.ID, "completed buy reports no BTC quantity")
		e.deps.Metrics.OrderFinished(model.SideBuy, string(StateCompleted), e.now().Sub(start))
		return nil, retry.Permanent(&OrderError{
			Side: model.SideBuy, State: StateCompleted, QuoteID: q.ID,
			Err: fmt.Errorf("%w: completed quote has no target amount", ledger.ErrLedgerWrite),
		})
	}

	filledAt := e.now()
	entry := d.Amount / qty
	target := d.TakeProfitPrice
	if target <= 0 {
		target = entry * (1 + d.Tier.TakeProfitPct/100)
	}
	trade := model.Trade{
		ID:              fmt.Sprintf("BUY_%s_%d", q.ID, filledAt.UnixMilli()),
		Direction:       model.DirectionBuy,
		QuoteID:         q.ID,
		Quantity:        qty,
		EntryPrice:      entry,
		Invested:        d.Amount,
		TakeProfitPrice: target,
		TakeProfitPct:   d.Tier.TakeProfitPct,
		Tier:            d.Tier,
		EntryAt:         filledAt,
	}
	fill := &model.Fill{
		Side:     model.SideBuy,
		QuoteID:  q.ID,
		TradeID:  trade.ID,
		Quantity: qty,
		Price:    entry,
		Amount:   d.Amount,
	}
	log = log.WithField("trade_id", trade.ID)

	if err := e.deps.Ledger.InsertTrade(ctx, trade); err != nil {
		e.gap(ctx, log, model.SideBuy, q.ID, fmt.Sprintf("bought %.8f BTC for %.2f EUR but the trade was not recorded: %v", qty, d.Amount, err))
		e.deps.Metrics.OrderFinished(model.SideBuy, string(StateCompleted), e.now().Sub(start))
		return fill, retry.Permanent(&OrderError{Side: model.SideBuy, State: StateCompleted, QuoteID: q.ID, Err: err})
	}

	fill.ReceiptID = e.receipt(ctx, log, model.Receipt{
		CorrelationID: q.ID,
		TradeID:       trade.ID,
		Description:   fmt.Sprintf("STRATEGY BUY BTC:%.8f, EUR:%.2f, Drawdown%%:%.2f", qty, entry, d.DrawdownPct),
		Amount:        exchange.FormatEUR(d.Amount),
		Currency:      "EUR",
	})

	e.publish(ctx, log, audit.Event{
		Type: audit.EventBuy, TradeID: trade.ID, QuoteID: q.ID, Side: model.SideBuy,
		Tier: d.Tier.Name, Quantity: qty, Price: entry, Amount: d.Amount, Reason: d.Reason, At: filledAt,
	})
	e.deps.Metrics.OrderFinished(model.SideBuy, string(StateCompleted), e.now().Sub(start))
	log.WithFields(logrus.Fields{"quantity": qty, "price": entry}).Info("buy completed")
	return fill, nil
}

// ExecuteSell converts the trade's whole quantity back to EUR and closes
// exactly that trade when the quote completes.
func (e *Executor) ExecuteSell(ctx context.Context, d model.SellDecision) (*model.Fill, error) {
	t := d.Trade
	if t.ID == "" || t.Closed || t.Quantity <= 0 {
		return nil, retry.Permanent(&OrderError{
			Side: model.SideSell, State: StateCreatingQuote,
			Err: fmt.Errorf("%w: trade %q is not an open position", ErrInvalidOrder, t.ID),
		})
	}

	start := e.now()
	log := e.log.WithFields(logrus.Fields{"side": model.SideSell, "trade_id": t.ID, "quantity": t.Quantity, "kind": d.Kind})

	q, err := e.createQuote(ctx, log, model.QuoteRequest{Side: model.SideSell, Amount: t.Quantity})
	if err != nil {
		e.deps.Metrics.OrderFinished(model.SideSell, string(StateFailed), e.now().Sub(start))
		return nil, err
	}
	log = log.WithField("quote_id", q.ID)

	ctx, err = e.commit(ctx, model.SideSell, q.ID)
	if err != nil {
		e.deps.Metrics.OrderFinished(model.SideSell, string(StateFailed), e.now().Sub(start))
		return nil, err
	}
	done, err := e.executeAndPoll(ctx, log, model.SideSell, q.ID)
	if err != nil {
		e.deps.Metrics.OrderFinished(model.SideSell, string(StateFailed), e.now().Sub(start))
		return nil, err
	}

	price := done.ExchangeRate
	if price <= 0 && done.TargetAmount > 0 {
		price = done.TargetAmount / t.Quantity
	}
	if price <= 0 {
		price = d.TargetPrice
	}
	amount := t.Quantity * price
	profit := t.ProfitPct(price)
	closedAt := e.now()

	fill := &model.Fill{
		Side:      model.SideSell,
		QuoteID:   q.ID,
		TradeID:   t.ID,
		Quantity:  t.Quantity,
		Price:     price,
		Amount:    amount,
		ProfitPct: profit,
	}

	exit := model.TradeExit{Price: price, Amount: amount, At: closedAt, Kind: d.Kind, QuoteID: q.ID}
	if err := e.deps.Ledger.UpdateTrade(ctx, t.ID, exit); err != nil {
		e.gap(ctx, log, model.SideSell, q.ID, fmt.Sprintf("sold %.8f BTC of trade %s but the trade was not closed: %v", t.Quantity, t.ID, err))
		e.deps.Metrics.OrderFinished(model.SideSell, string(StateCompleted), e.now().Sub(start))
		return fill, retry.Permanent(&OrderError{Side: model.SideSell, State: StateCompleted, QuoteID: q.ID, Err: err})
	}

	fill.ReceiptID = e.receipt(ctx, log, model.Receipt{
		CorrelationID: q.ID,
		TradeID:       t.ID,
		Description: fmt.Sprintf("STRATEGY SELL BTC:%.8f, EUR:%.2f, Drawdown%%:%.2f, PnL%%:%.2f",
			t.Quantity, price, d.DrawdownPct, profit),
		Amount:   exchange.FormatBTC(t.Quantity),
		Currency: "BTC",
	})

	e.publish(ctx, log, audit.Event{
		Type: audit.EventSell, TradeID: t.ID, QuoteID: q.ID, Side: model.SideSell, Tier: t.Tier.Name,
		Quantity: t.Quantity, Price: price, Amount: amount, ProfitPct: profit, Reason: d.Reason, At: closedAt,
	})
	e.deps.Metrics.OrderFinished(model.SideSell, string(StateCompleted), e.now().Sub(start))
	log.WithFields(logrus.Fields{"price": price, "amount": amount, "profit_pct": profit}).Info("sell completed")
	return fill, nil
}

// createQuote is the only step a retry may safely repeat.
func (e *Executor) createQuote(ctx context.Context, log *logrus.Entry, req model.QuoteRequest) (*model.Quote, error) {
	log.WithField("state", StateCreatingQuote).Debug("creating quote")
	q, err := e.deps.Exchange.CreateQuote(ctx, req)
	if err == nil && (q == nil || q.ID == "") {
		err = errors.New("exchange returned a quote without id")
	}
	if err != nil {
		log.WithError(err).Error("quote creation failed")
		return nil, &OrderError{Side: req.Side, State: StateCreatingQuote, Err: fmt.Errorf("%w: %w", ErrQuoteCreationFailed, err)}
	}
	log.WithFields(logrus.Fields{"state": StateQuoteCreated, "quote_id": q.ID}).Info("quote created")
	return q, nil
}

// commit abandons the quote if the caller has already gone away. Otherwise
// it returns a context that outlives the caller: once a quote is sent for
// execution, polling and the ledger write must finish, bounded by
// PollTimeout and RequestTimeout only.
func (e *Executor) commit(ctx context.Context, side model.Side, id string) (context.Context, error) {
	if err := ctx.Err(); err != nil {
		return ctx, retry.Permanent(&OrderError{Side: side, State: StateQuoteCreated, QuoteID: id, Err: err})
	}
	return context.WithoutCancel(ctx), nil
}

// executeAndPoll runs after commit. Any outcome other than a completed or
// terminally failed quote leaves the exchange side unknown and is reported
// as a reconciliation gap.
func (e *Executor) executeAndPoll(ctx context.Context, log *logrus.Entry, side model.Side, id string) (*model.Quote, error) {
	log.WithField("state", StateExecuting).Info("executing quote")
	if err := e.deps.Exchange.ExecuteQuote(ctx, id); err != nil {
		log.WithError(err).Error("quote execution failed")
		return nil, retry.Permanent(&OrderError{Side: side, State: StateExecuting, QuoteID: id, Err: fmt.Errorf("%w: %w", ErrQuoteExecutionFailed, err)})
	}

	q, err := e.poll(ctx, log, id)
	if err != nil {
		log.WithError(err).WithField("state", StateFailed).Error("quote did not complete")
		if !errors.Is(err, ErrQuoteTerminalFailure) {
			e.gap(ctx, log, side, id, fmt.Sprintf("quote executed but its final state is unknown: %v", err))
		}
		return nil, retry.Permanent(&OrderError{Side: side, State: StatePolling, QuoteID: id, Err: err})
	}
	log.WithField("state", StateCompleted).Info("quote completed")
	return q, nil
}

// poll reads the quote every PollInterval until it completes, fails or
// PollTimeout elapses. Read errors are logged and polling continues.
func (e *Executor) poll(ctx context.Context, log *logrus.Entry, id string) (*model.Quote, error) {
	deadline := e.now().Add(e.cfg.PollTimeout)
	for attempt := 1; ; attempt++ {
		if err := e.sleep(ctx, e.cfg.PollInterval); err != nil {
			return nil, err
		}

		reqCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
		q, err := e.deps.Exchange.GetQuote(reqCtx, id)
		cancel()

		switch {
		case err != nil:
			log.WithError(err).WithField("attempt", attempt).Warn("quote status unavailable")
		case q.State == model.QuoteCompleted:
			return q, nil
		case q.State.Failed():
			return nil, fmt.Errorf("%w: %s", ErrQuoteTerminalFailure, q.State)
		default:
			log.WithFields(logrus.Fields{"state": StatePolling, "quote_state": q.State, "attempt": attempt}).Debug("quote pending")
		}

		if !e.now().Before(deadline) {
			return nil, fmt.Errorf("%w after %s", ErrQuoteTimeout, e.cfg.PollTimeout)
		}
	}
}

func (e *Executor) receipt(ctx context.Context, log *logrus.Entry, r model.Receipt) string {
	r.Description = exchange.TruncateDescription(r.Description)
	id, err := e.deps.Exchange.CreateInvoice(ctx, r)
	e.deps.Metrics.Receipt(err)
	if err != nil {
		log.WithError(fmt.Errorf("%w: %w", ErrReceiptCreationFailed, err)).Warn("receipt not created, order stands")
		return ""
	}
	log.WithField("receipt_id", id).Debug("receipt created")
	return id
}

// gap reports a fill the ledger does not reflect. It needs a human.
func (e *Executor) gap(ctx context.Context, log *logrus.Entry, side model.Side, quoteID, detail string) {
	log.WithField("reconciliation", true).Error(detail)
	e.deps.Metrics.ReconciliationGap(side)
	e.deps.Alerter.Alert(ctx, fmt.Sprintf("RECONCILIATION REQUIRED (%s, quote %s): %s", side, quoteID, detail))
	e.publish(ctx, log, audit.Event{Type: audit.EventGap, QuoteID: quoteID, Side: side, Reason: detail, At: e.now()})
}

func (e *Executor) publish(ctx context.Context, log *logrus.Entry, ev audit.Event) {
	if err := e.deps.Publisher.Publish(ctx, ev); err != nil {
		log.WithError(err).Warn("audit event not published")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type nopObserver struct{}

func (nopObserver) OrderFinished(model.Side, string, time.Duration) {}
func (nopObserver) ReconciliationGap(model.Side)                    {}
func (nopObserver) Receipt(error)                                   {}
func (nopObserver) GuardTripped()                                   {}

type nopAlerter struct{}

func (nopAlerter) Alert(context.Context, string) {}
