// Package strategy computes volatility-breakout levels.
package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/amirphl/breakout-trader/internal/exchange"
	"github.com/amirphl/breakout-trader/internal/market"
	"github.com/amirphl/breakout-trader/internal/notifier"
	"github.com/amirphl/breakout-trader/internal/scheduler"
	"github.com/amirphl/breakout-trader/internal/state"
	"github.com/amirphl/breakout-trader/internal/utils"
)

// ComputeTargets derives the levels for the cycle opened by cur from the range
// of prev: long = open + range*k, short = open - range*k.
func ComputeTargets(prev, cur market.Candle, k float64) (state.Targets, error) {
	if k <= 0 || k >= 1 {
		return state.Targets{}, errors.Errorf("breakout fraction %.4f outside (0,1)", k)
	}
	if cur.Open <= 0 {
		return state.Targets{}, errors.Errorf("non-positive cycle open %.8f", cur.Open)
	}
	rng := prev.High - prev.Low
	if rng < 0 {
		return state.Targets{}, errors.Errorf("previous cycle high %.8f below low %.8f", prev.High, prev.Low)
	}
	return state.Targets{
		Long:  cur.Open + rng*k,
		Short: cur.Open - rng*k,
		Open:  cur.Open,
		Range: rng,
	}, nil
}

// Calculator refreshes every symbol's levels at cycle start and retries the
// ones that failed.
type Calculator struct {
	gw        exchange.Gateway
	st        *state.State
	notifier  notifier.Notifier
	timeframe string
	k         float64
	quote     string
	log       *logrus.Entry
}

func NewCalculator(gw exchange.Gateway, st *state.State, n notifier.Notifier, timeframe string, k float64, quote string) *Calculator {
	return &Calculator{
		gw:        gw,
		st:        st,
		notifier:  n,
		timeframe: timeframe,
		k:         k,
		quote:     quote,
		log:       utils.Component("targets"),
	}
}

// Refresh computes levels for slot symbol by symbol. A symbol that fails keeps
// its previous levels flagged stale; the others are unaffected. It returns the
// number of symbols refreshed.
func (c *Calculator) Refresh(ctx context.Context, slot scheduler.Slot) int {
	var lines []string
	fresh := 0

	for _, sym := range c.st.Symbols() {
		t, err := c.refreshSymbol(ctx, sym, slot)
		if err != nil {
			c.st.MarkTargetStale(sym)
			c.log.WithFields(logrus.Fields{"symbol": sym, "op": "refresh_targets", "slot": slot}).
				WithError(err).Warn("target refresh failed, previous levels marked stale")
			lines = append(lines, fmt.Sprintf("- <b>%s</b>: unavailable", market.BaseAsset(sym, c.quote)))
			continue
		}
		c.st.SetTargets(sym, t)
		fresh++
		c.log.WithFields(logrus.Fields{"symbol": sym, "slot": slot, "long": t.Long, "short": t.Short, "open": t.Open}).
			Info("targets set")
		lines = append(lines, fmt.Sprintf("- <b>%s</b>: L <code>%.2f</code> / S <code>%.2f</code>",
			market.BaseAsset(sym, c.quote), t.Long, t.Short))
	}

	msg := "🎯 <b>[new cycle]</b> " + string(slot) + "\n" + strings.Join(lines, "\n")
	if err := c.notifier.Send(ctx, msg); err != nil {
		c.log.WithError(err).Warn("targets notification failed")
	}
	return fresh
}

// RefreshStale retries the symbols whose levels are not fresh for slot, so a
// fetch that failed at cycle start is picked up on a later tick. It returns
// the number of symbols recovered.
func (c *Calculator) RefreshStale(ctx context.Context, slot scheduler.Slot) int {
	recovered := 0
	for _, sym := range c.st.Symbols() {
		if ctx.Err() != nil {
			break
		}
		if t, ok := c.st.Targets(sym); ok && t.FreshFor(slot) {
			continue
		}
		t, err := c.refreshSymbol(ctx, sym, slot)
		if err != nil {
			c.log.WithFields(logrus.Fields{"symbol": sym, "op": "refresh_targets", "slot": slot}).
				WithError(err).Debug("levels still unavailable")
			continue
		}
		c.st.SetTargets(sym, t)
		recovered++
		c.log.WithFields(logrus.Fields{"symbol": sym, "slot": slot, "long": t.Long, "short": t.Short, "open": t.Open}).
			Info("targets recovered")
		msg := fmt.Sprintf("🎯 <b>[levels]</b> %s <b>%s</b>: L <code>%.2f</code> / S <code>%.2f</code>",
			slot, market.BaseAsset(sym, c.quote), t.Long, t.Short)
		if err := c.notifier.Send(ctx, msg); err != nil {
			c.log.WithError(err).Warn("targets notification failed")
		}
	}
	return recovered
}

func (c *Calculator) refreshSymbol(ctx context.Context, symbol string, slot scheduler.Slot) (state.Targets, error) {
	candles, err := c.gw.FetchCandles(ctx, symbol, c.timeframe, 2)
	if err != nil {
		return state.Targets{}, err
	}
	if len(candles) < 2 {
		return state.Targets{}, errors.Errorf("need 2 candles, got %d", len(candles))
	}
	prev, cur := candles[len(candles)-2], candles[len(candles)-1]

	start, err := scheduler.SlotStart(slot)
	if err != nil {
		return state.Targets{}, err
	}
	if !cur.Timestamp.Equal(start) {
		return state.Targets{}, errors.Errorf("latest candle opened %s, cycle started %s",
			cur.Timestamp.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	t, err := ComputeTargets(prev, cur, c.k)
	if err != nil {
		return state.Targets{}, err
	}
	t.Slot = slot
	t.UpdatedAt = time.Now().UTC()
	return t, nil
}
