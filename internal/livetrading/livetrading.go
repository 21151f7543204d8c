// Package livetrading runs the breakout cycle: target refresh at each cycle
// start, entry checks every tick, and liquidation inside the lockout window
// before each boundary.
package livetrading

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/amirphl/breakout-trader/internal/exchange"
	"github.com/amirphl/breakout-trader/internal/metrics"
	"github.com/amirphl/breakout-trader/internal/notifier"
	"github.com/amirphl/breakout-trader/internal/position"
	"github.com/amirphl/breakout-trader/internal/scheduler"
	"github.com/amirphl/breakout-trader/internal/state"
	"github.com/amirphl/breakout-trader/internal/strategy"
	"github.com/amirphl/breakout-trader/internal/utils"
)

// Config carries the loop timing and universe settings.
type Config struct {
	Leverage     int
	Quote        string
	TickInterval time.Duration
	// LockoutIdle caps a single sleep inside the lockout window.
	LockoutIdle  time.Duration
	ErrorBackoff time.Duration
	Location     *time.Location
}

// Background is a task joined with the main loop, usually the control handler.
type Background interface {
	Run(ctx context.Context)
}

type Runner struct {
	cfg      Config
	gw       exchange.Gateway
	st       *state.State
	sched    *scheduler.Scheduler
	calc     *strategy.Calculator
	rec      *position.Reconciler
	entry    *EntryEngine
	exit     *ExitExecutor
	notifier notifier.Notifier
	tasks    []Background

	now func() time.Time
	log *logrus.Entry
}

func NewRunner(
	cfg Config,
	gw exchange.Gateway,
	st *state.State,
	sched *scheduler.Scheduler,
	calc *strategy.Calculator,
	rec *position.Reconciler,
	entry *EntryEngine,
	exit *ExitExecutor,
	n notifier.Notifier,
	tasks ...Background,
) *Runner {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.LockoutIdle <= 0 {
		cfg.LockoutIdle = 30 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 10 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Runner{
		cfg:      cfg,
		gw:       gw,
		st:       st,
		sched:    sched,
		calc:     calc,
		rec:      rec,
		entry:    entry,
		exit:     exit,
		notifier: n,
		tasks:    tasks,
		now:      func() time.Time { return time.Now().UTC() },
		log:      utils.Component("runner"),
	}
}

// Run blocks until ctx is cancelled and every background task has returned.
func (r *Runner) Run(ctx context.Context) error {
	r.startup(ctx)

	var wg sync.WaitGroup
	for _, t := range r.tasks {
		wg.Add(1)
		go func(t Background) {
			defer wg.Done()
			t.Run(ctx)
		}(t)
	}

	r.loop(ctx)
	wg.Wait()
	r.log.Info("runner stopped")
	return nil
}

func (r *Runner) startup(ctx context.Context) {
	for _, sym := range r.st.Symbols() {
		if err := r.gw.SetLeverage(ctx, sym, r.cfg.Leverage); err != nil {
			r.log.WithFields(logrus.Fields{"symbol": sym, "op": "set_leverage", "leverage": r.cfg.Leverage}).
				WithError(err).Warn("leverage not applied")
		}
	}
	if _, err := r.rec.Reconcile(ctx); err != nil {
		r.log.WithError(err).Warn("startup reconcile failed")
	}

	now := r.now()
	next := r.sched.NextBoundary(now).In(r.cfg.Location)
	r.send(ctx, fmt.Sprintf("🤖 <b>[started]</b> %s, next cycle at <code>%s</code>",
		r.gw.Name(), next.Format("2006-01-02 15:04 MST")))
	r.log.WithFields(logrus.Fields{"venue": r.gw.Name(), "next_boundary": next}).Info("runner started")

	if r.sched.IsInLockout(now) {
		slot := r.sched.CurrentSlot(now)
		r.log.WithField("slot", slot).Info("started inside lockout window")
		if _, err := r.closeSlot(ctx, slot, "restart inside lockout", TriggerRestart); err != nil {
			r.log.WithError(err).Warn("restart liquidation deferred to the main loop")
		}
	}
}

func (r *Runner) loop(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		timer.Reset(r.safeStep(ctx))
	}
}

// safeStep runs one iteration and returns how long to wait before the next.
// Errors and panics are logged and answered with the error backoff.
func (r *Runner) safeStep(ctx context.Context) (wait time.Duration) {
	defer func() {
		if p := recover(); p != nil {
			metrics.LoopErrors.Inc()
			r.log.WithField("panic", p).WithField("stack", string(debug.Stack())).Error("main loop panic")
			wait = r.cfg.ErrorBackoff
		}
	}()
	wait, err := r.step(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		metrics.LoopErrors.Inc()
		r.log.WithError(err).Errorf("main loop error, backing off %s", r.cfg.ErrorBackoff)
		return r.cfg.ErrorBackoff
	}
	return wait
}

func (r *Runner) step(ctx context.Context) (time.Duration, error) {
	now := r.now()
	metrics.SetTradingActive(r.st.TradingAllowed())

	if r.sched.IsInLockout(now) {
		slot := r.sched.CurrentSlot(now)
		if _, err := r.closeSlot(ctx, slot, "cycle end", TriggerCycleEnd); err != nil {
			return 0, err
		}
		remaining := r.sched.NextBoundary(now).Sub(now)
		if remaining > r.cfg.LockoutIdle {
			remaining = r.cfg.LockoutIdle
		}
		return remaining, nil
	}

	slot := r.sched.CurrentSlot(now)
	if r.st.CycleSlot() != slot {
		r.beginCycle(ctx, slot)
	} else if n := r.calc.RefreshStale(ctx, slot); n > 0 {
		r.log.WithFields(logrus.Fields{"slot": slot, "recovered": n}).Info("missing levels recovered")
	}
	r.entry.Evaluate(ctx, slot)
	return r.cfg.TickInterval, nil
}

// closeSlot runs the slot's liquidation and announces the rest period once.
// Later calls in the same lockout only retry positions left open.
func (r *Runner) closeSlot(ctx context.Context, slot scheduler.Slot, reason, trigger string) (ExitReport, error) {
	rep, err := r.exit.CloseSlot(ctx, slot, reason, trigger)
	if err != nil {
		return rep, errors.Wrapf(err, "close slot %s", slot)
	}
	if !rep.Skipped && !rep.Retry {
		next := r.sched.NextBoundary(r.now()).In(r.cfg.Location)
		r.send(ctx, fmt.Sprintf("💤 <b>[resting]</b> until next candle at <code>%s</code>", next.Format("15:04 MST")))
	}
	return rep, nil
}

// beginCycle re-reads capital so deposits are picked up, then refreshes levels.
func (r *Runner) beginCycle(ctx context.Context, slot scheduler.Slot) {
	log := r.log.WithField("slot", slot)

	capital := 0.0
	if balances, err := r.gw.FetchBalance(ctx); err != nil {
		log.WithError(err).Warn("balance unavailable at cycle start, keeping previous allocation")
	} else if n := len(r.st.Symbols()); n > 0 {
		capital = balances[r.cfg.Quote].Free / float64(n)
	}

	if !r.st.StartCycle(slot, capital) {
		return
	}
	metrics.CapitalPerSymbol.Set(r.st.CapitalPerSymbol())
	log.WithField("capital_per_symbol", r.st.CapitalPerSymbol()).Info("cycle started")

	fresh := r.calc.Refresh(ctx, slot)
	if fresh < len(r.st.Symbols()) {
		log.WithField("fresh", fresh).Warn("some symbols have no levels this cycle")
	}
	if _, err := r.rec.Reconcile(ctx); err != nil {
		log.WithError(err).Warn("cycle start reconcile failed")
	}
}

func (r *Runner) send(ctx context.Context, msg string) {
	if err := r.notifier.Send(ctx, msg); err != nil {
		r.log.WithError(err).Warn("notification failed")
	}
}
