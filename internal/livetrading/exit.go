package livetrading

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
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

// Liquidation triggers, used as the metrics label.
const (
	TriggerCycleEnd = "cycle_end"
	TriggerRestart  = "restart"
	TriggerCommand  = "command"
)

// ExitReport summarises one liquidation pass.
type ExitReport struct {
	Slot    scheduler.Slot
	Reason  string
	Skipped bool // slot already liquidated
	// Retry marks a follow-up pass for a slot whose first pass left positions open.
	Retry  bool
	Closed []string
	Failed map[string]error
	// Residual lists symbols still open after the confirming reconcile.
	Residual []string

	confirmed bool
}

// Settled reports whether the pass left the venue confirmed flat.
func (r ExitReport) Settled() bool {
	return r.confirmed && len(r.Failed) == 0 && len(r.Residual) == 0
}

// ExitExecutor closes every open position with reduce-only market orders.
type ExitExecutor struct {
	gw       exchange.Gateway
	rec      *position.Reconciler
	st       *state.State
	ledger   journal.Ledger
	notifier notifier.Notifier
	log      *logrus.Entry

	// guarded by the state's execution lock
	unsettled scheduler.Slot
	attempt   int
}

func NewExitExecutor(gw exchange.Gateway, rec *position.Reconciler, st *state.State, ledger journal.Ledger, n notifier.Notifier) *ExitExecutor {
	return &ExitExecutor{gw: gw, rec: rec, st: st, ledger: ledger, notifier: n, log: utils.Component("exit")}
}

// CloseSlot runs the end-of-cycle pass at most once per slot. When the
// opening reconcile fails nothing was sent to the venue, so the claim is
// released and a later call retries. A pass that leaves positions open keeps
// the claim and is repeated on later calls until the venue is flat.
func (x *ExitExecutor) CloseSlot(ctx context.Context, slot scheduler.Slot, reason, trigger string) (ExitReport, error) {
	unlock := x.st.LockExecution()
	defer unlock()

	previous := x.st.LastClosedSlot()
	retry := false
	if x.st.ClaimSlot(slot) {
		x.attempt = 0
	} else {
		if x.unsettled != slot {
			return ExitReport{Slot: slot, Reason: reason, Skipped: true}, nil
		}
		retry = true
		x.attempt++
	}

	suffix := "exit"
	if x.attempt > 0 {
		suffix = "exit-" + strconv.Itoa(x.attempt)
	}
	rep, err := x.liquidate(ctx, slot, reason, trigger, func(sym string) string {
		return order.ClientOrderID(string(slot), sym, suffix)
	})
	rep.Retry = retry

	switch {
	case err != nil && !retry:
		x.st.ReleaseSlot(slot, previous)
		return rep, err
	case rep.Settled():
		x.unsettled = ""
	default:
		x.unsettled = slot
	}
	// repeated failures of a retry are logged, not re-announced
	if len(rep.Closed) > 0 || (len(rep.Failed) > 0 && !retry) {
		x.announce(ctx, rep)
	}
	return rep, err
}

// LiquidateNow runs a pass immediately, regardless of slot claims.
func (x *ExitExecutor) LiquidateNow(ctx context.Context, reason string) (ExitReport, error) {
	unlock := x.st.LockExecution()
	defer unlock()

	rep, err := x.liquidate(ctx, x.st.CycleSlot(), reason, TriggerCommand, func(string) string {
		return uuid.NewString()
	})
	if err == nil && (len(rep.Closed) > 0 || len(rep.Failed) > 0) {
		x.announce(ctx, rep)
	}
	return rep, err
}

// Liquidate lets the control handler trigger LiquidateNow.
func (x *ExitExecutor) Liquidate(ctx context.Context, reason string) error {
	_, err := x.LiquidateNow(ctx, reason)
	return err
}

func (x *ExitExecutor) announce(ctx context.Context, rep ExitReport) {
	if err := x.notifier.Send(ctx, rep.Message()); err != nil {
		x.log.WithField("slot", rep.Slot).WithError(err).Warn("liquidation notification failed")
	}
}

// liquidate closes whatever the venue reports open. The caller holds the
// execution lock. An error means the opening reconcile failed and no order
// was sent.
func (x *ExitExecutor) liquidate(ctx context.Context, slot scheduler.Slot, reason, trigger string, clientID func(string) string) (ExitReport, error) {
	rep := ExitReport{Slot: slot, Reason: reason, Failed: make(map[string]error)}
	log := x.log.WithFields(logrus.Fields{"slot": slot, "reason": reason, "trigger": trigger})

	book, err := x.rec.Reconcile(ctx)
	if err != nil {
		return rep, errors.Wrap(err, "liquidation aborted, positions unknown")
	}
	metrics.LiquidationPasses.WithLabelValues(trigger).Inc()

	for _, sym := range x.st.Symbols() {
		h := book[sym]
		if !h.Open() {
			continue
		}
		req := order.Request{
			Symbol:        sym,
			Side:          order.Sell,
			Quantity:      h.Size,
			ReduceOnly:    true,
			ClientOrderID: clientID(sym),
		}
		if h.Side == market.Short {
			req.Side = order.Buy
		}

		ack, err := x.gw.SubmitMarketOrder(ctx, req)
		if err != nil {
			metrics.OrderFailures.WithLabelValues("exit", exchange.ClassName(err)).Inc()
			log.WithFields(logrus.Fields{"symbol": sym, "op": "exit", "class": exchange.ClassName(err)}).
				WithError(err).Error("close order failed")
			rep.Failed[sym] = err
			continue
		}
		metrics.Orders.WithLabelValues("exit", string(h.Side)).Inc()
		x.st.SetPosition(sym, market.Flat)
		rep.Closed = append(rep.Closed, sym)
		log.WithFields(logrus.Fields{"symbol": sym, "side": h.Side, "qty": h.Size, "price": ack.AvgPrice}).Info("position closed")

		if err := x.ledger.Append(ctx, journal.Trade{
			Time:   time.Now().UTC(),
			Action: journal.ActionExit,
			Symbol: sym,
			Price:  ack.AvgPrice,
			Amount: h.Size,
			Note:   reason,
		}); err != nil {
			log.WithField("symbol", sym).WithError(err).Error("ledger append failed")
		}
	}

	after, err := x.rec.Reconcile(ctx)
	if err != nil {
		log.WithError(err).Warn("post-liquidation reconcile failed")
	} else {
		rep.confirmed = true
		for _, h := range after.Open() {
			rep.Residual = append(rep.Residual, h.Symbol)
		}
		if len(rep.Residual) > 0 {
			log.WithField("symbols", strings.Join(rep.Residual, ",")).Warn("positions still open after liquidation")
		}
	}
	return rep, nil
}

// Message renders the operator summary.
func (r ExitReport) Message() string {
	var b strings.Builder
	b.WriteString("👋 <b>[liquidation]</b> ")
	b.WriteString(r.Reason)
	b.WriteString("\nclosed: ")
	if len(r.Closed) == 0 {
		b.WriteString("none")
	} else {
		b.WriteString(strings.Join(r.Closed, ", "))
	}
	for sym, err := range r.Failed {
		fmt.Fprintf(&b, "\n⚠️ %s failed: %s", sym, err)
	}
	return b.String()
}

// formatPrice keeps two decimals for prices above one and full precision below.
func formatPrice(p float64) string {
	if p >= 1 {
		return strconv.FormatFloat(p, 'f', 2, 64)
	}
	return strconv.FormatFloat(p, 'f', -1, 64)
}
