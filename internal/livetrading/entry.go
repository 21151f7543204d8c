package livetrading

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/amirphl/breakout-trader/internal/exchange"
	"github.com/amirphl/breakout-trader/internal/journal"
	"github.com/amirphl/breakout-trader/internal/market"
	"github.com/amirphl/breakout-trader/internal/metrics"
	"github.com/amirphl/breakout-trader/internal/notifier"
	"github.com/amirphl/breakout-trader/internal/order"
	"github.com/amirphl/breakout-trader/internal/position"
	"github.com/amirphl/breakout-trader/internal/scheduler"
	"github.com/amirphl/breakout-trader/internal/state"
	"github.com/amirphl/breakout-trader/internal/utils"
)

// Outcome of one symbol's entry evaluation.
type Outcome int

const (
	OutcomeNoSignal  Outcome = iota // price inside the levels
	OutcomeHolding                  // cached position already open
	OutcomeSkipped                  // gate, sizing or targets prevented an order
	OutcomeDuplicate                // reconcile found a position the cache did not know
	OutcomeEntered
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoSignal:
		return "no_signal"
	case OutcomeHolding:
		return "holding"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeEntered:
		return "entered"
	default:
		return "failed"
	}
}

// EntryConfig holds the sizing parameters.
type EntryConfig struct {
	Leverage      int
	MinOrderValue float64
	BalanceBuffer float64 // fraction of free balance used when it is below the allocation
	AllowShort    bool
	Quote         string
}

// Decide applies the breakout rule. LONG is checked first.
func Decide(price float64, t state.Targets, allowShort bool) market.Side {
	if price > t.Long {
		return market.Long
	}
	if allowShort && price < t.Short {
		return market.Short
	}
	return market.Flat
}

// SizeOrder returns the margin to commit. When free balance is below the
// allocation it is scaled to free*buffer; a result under minOrder is
// ErrInsufficientBalance.
func SizeOrder(capitalPerSymbol, freeBalance, minOrder, buffer float64) (float64, error) {
	cost := capitalPerSymbol
	if freeBalance < cost {
		cost = freeBalance * buffer
	}
	if cost < minOrder || cost <= 0 {
		return 0, errors.Wrapf(exchange.ErrInsufficientBalance, "order cost %.2f below minimum %.2f", cost, minOrder)
	}
	return cost, nil
}

// EntryEngine opens at most one position per symbol per cycle.
type EntryEngine struct {
	gw       exchange.Gateway
	rec      *position.Reconciler
	st       *state.State
	ledger   journal.Ledger
	notifier notifier.Notifier
	cfg      EntryConfig
	log      *logrus.Entry
}

func NewEntryEngine(gw exchange.Gateway, rec *position.Reconciler, st *state.State, ledger journal.Ledger, n notifier.Notifier, cfg EntryConfig) *EntryEngine {
	if cfg.BalanceBuffer <= 0 {
		cfg.BalanceBuffer = 0.99
	}
	if cfg.Leverage < 1 {
		cfg.Leverage = 1
	}
	return &EntryEngine{gw: gw, rec: rec, st: st, ledger: ledger, notifier: n, cfg: cfg, log: utils.Component("entry")}
}

// Evaluate runs one entry check for every symbol. A failing symbol never
// stops the others.
func (e *EntryEngine) Evaluate(ctx context.Context, slot scheduler.Slot) map[string]Outcome {
	out := make(map[string]Outcome)
	if !e.st.TradingAllowed() {
		return out
	}
	for _, sym := range e.st.Symbols() {
		if ctx.Err() != nil {
			break
		}
		outcome, err := e.evaluateSymbol(ctx, sym, slot)
		out[sym] = outcome
		if err != nil {
			e.log.WithFields(logrus.Fields{"symbol": sym, "op": "entry", "slot": slot, "class": exchange.ClassName(err)}).
				WithError(err).Warn("entry attempt failed")
		}
	}
	return out
}

func (e *EntryEngine) skip(reason string) (Outcome, error) {
	metrics.EntrySkips.WithLabelValues(reason).Inc()
	return OutcomeSkipped, nil
}

func (e *EntryEngine) evaluateSymbol(ctx context.Context, sym string, slot scheduler.Slot) (Outcome, error) {
	log := e.log.WithFields(logrus.Fields{"symbol": sym, "slot": slot})

	if e.st.Position(sym) != market.Flat {
		return OutcomeHolding, nil
	}
	if e.st.EnteredIn(sym, slot) {
		return e.skip("already_entered")
	}
	targets, ok := e.st.Targets(sym)
	if !ok || !targets.FreshFor(slot) {
		return e.skip("stale_targets")
	}

	price, err := e.gw.FetchTicker(ctx, sym)
	if err != nil {
		return OutcomeFailed, err
	}
	side := Decide(price, targets, e.cfg.AllowShort)
	if side == market.Flat {
		return OutcomeNoSignal, nil
	}
	return e.enter(ctx, sym, slot, side, price, log)
}

// enter holds the execution lock from the authoritative reconcile until the
// cache reflects the order, so a liquidation cannot interleave.
func (e *EntryEngine) enter(ctx context.Context, sym string, slot scheduler.Slot, side market.Side, price float64, log *logrus.Entry) (Outcome, error) {
	unlock := e.st.LockExecution()
	defer unlock()

	held, err := e.rec.ReconcileSymbol(ctx, sym)
	if err != nil {
		return OutcomeFailed, err
	}
	if held.Open() {
		e.st.MarkEntered(sym, slot)
		log.WithField("held", held.Side).Info("venue already holds a position, entry skipped")
		return OutcomeDuplicate, nil
	}
	// the control task may have paused while we were fetching
	if !e.st.TradingAllowed() {
		return e.skip("paused")
	}

	balances, err := e.gw.FetchBalance(ctx)
	if err != nil {
		return OutcomeFailed, err
	}
	capital := e.st.CapitalPerSymbol()
	free := balances[e.cfg.Quote].Free
	cost, err := SizeOrder(capital, free, e.cfg.MinOrderValue, e.cfg.BalanceBuffer)
	if err != nil {
		log.WithFields(logrus.Fields{"capital": capital, "free": free}).Warn(err.Error())
		return e.skip("insufficient_balance")
	}
	if cost < capital {
		log.WithFields(logrus.Fields{"capital": capital, "free": free, "cost": cost}).Warn("free balance below allocation, order scaled down")
	}

	qty, err := e.gw.RoundQuantity(ctx, sym, cost*float64(e.cfg.Leverage)/price)
	if err != nil {
		return OutcomeFailed, err
	}
	if qty <= 0 {
		return e.skip("quantity_below_step")
	}

	req := order.Request{
		Symbol:        sym,
		Side:          order.Buy,
		Quantity:      qty,
		ClientOrderID: order.ClientOrderID(string(slot), sym, "entry"),
	}
	action := journal.ActionBuyLong
	if side == market.Short {
		req.Side = order.Sell
		action = journal.ActionSellShort
	}

	// a pause issued while sizing must still win
	if !e.st.TradingAllowed() {
		return e.skip("paused")
	}
	ack, err := e.gw.SubmitMarketOrder(ctx, req)
	if err != nil {
		metrics.OrderFailures.WithLabelValues("entry", exchange.ClassName(err)).Inc()
		return OutcomeFailed, err
	}
	metrics.Orders.WithLabelValues("entry", string(side)).Inc()

	e.st.SetPosition(sym, side)
	e.st.MarkEntered(sym, slot)

	fill := price
	if ack.AvgPrice > 0 {
		fill = ack.AvgPrice
	}
	log.WithFields(logrus.Fields{"side": side, "qty": qty, "price": fill, "order": ack.OrderID}).Info("position opened")

	if err := e.ledger.Append(ctx, journal.Trade{
		Time:   time.Now().UTC(),
		Action: action,
		Symbol: sym,
		Price:  fill,
		Amount: qty,
	}); err != nil {
		log.WithError(err).Error("ledger append failed")
	}

	icon := "⚡"
	if side == market.Short {
		icon = "📉"
	}
	msg := fmt.Sprintf("%s <b>[%s entry]</b> %s @ <code>%s</code>", icon, side, sym, formatPrice(fill))
	if err := e.notifier.Send(ctx, msg); err != nil {
		log.WithError(err).Warn("entry notification failed")
	}
	return OutcomeEntered, nil
}
