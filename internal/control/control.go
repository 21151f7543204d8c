// Package control turns operator chat messages into state changes: status
// reports, pause, resume and emergency liquidation.
package control

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amirphl/breakout-trader/internal/metrics"
	"github.com/amirphl/breakout-trader/internal/notifier"
	"github.com/amirphl/breakout-trader/internal/state"
	"github.com/amirphl/breakout-trader/internal/utils"
)

// CommandSource yields commands with ids above cursor, oldest first. Delivery
// is at-least-once.
type CommandSource interface {
	Poll(ctx context.Context, cursor int64) ([]notifier.Command, error)
}

// Liquidator closes every open position immediately.
type Liquidator interface {
	Liquidate(ctx context.Context, reason string) error
}

type Kind int

const (
	KindStatus Kind = iota + 1
	KindPause
	KindResume
	KindLiquidate
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindPause:
		return "pause"
	case KindResume:
		return "resume"
	case KindLiquidate:
		return "liquidate"
	}
	return "unknown"
}

var aliases = map[string]Kind{
	"info":      KindStatus,
	"status":    KindStatus,
	"stop":      KindPause,
	"pause":     KindPause,
	"start":     KindResume,
	"resume":    KindResume,
	"sell":      KindLiquidate,
	"liquidate": KindLiquidate,
}

// ParseCommand accepts "/info", "info", "/info@somebot" in any case. Anything
// else, including extra words, is not a command.
func ParseCommand(text string) (Kind, bool) {
	fields := strings.Fields(text)
	if len(fields) != 1 {
		return 0, false
	}
	word := strings.ToLower(fields[0])
	if rest, ok := strings.CutPrefix(word, "/"); ok {
		word, _, _ = strings.Cut(rest, "@")
	}
	k, ok := aliases[word]
	return k, ok
}

// Handler polls a command source and applies commands to the shared state.
type Handler struct {
	src      CommandSource
	st       *state.State
	liq      Liquidator
	reporter *Reporter
	notifier notifier.Notifier
	// allowed is the only sender id obeyed; empty accepts every sender.
	allowed  string
	interval time.Duration
	log      *logrus.Entry
}

func NewHandler(src CommandSource, st *state.State, liq Liquidator, reporter *Reporter, n notifier.Notifier, allowedSender string, interval time.Duration) *Handler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Handler{
		src:      src,
		st:       st,
		liq:      liq,
		reporter: reporter,
		notifier: n,
		allowed:  allowedSender,
		interval: interval,
		log:      utils.Component("control"),
	}
}

// Run polls until ctx is cancelled. Poll failures are logged and retried on
// the next interval.
func (h *Handler) Run(ctx context.Context) {
	h.log.Info("control handler started")
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			h.log.Info("control handler stopped")
			return
		case <-timer.C:
		}
		if err := h.PollOnce(ctx); err != nil && ctx.Err() == nil {
			h.log.WithField("op", "poll_commands").WithError(err).Warn("command poll failed")
		}
		timer.Reset(h.interval)
	}
}

// PollOnce fetches and applies one batch. The cursor moves past every id seen,
// including ignored messages.
func (h *Handler) PollOnce(ctx context.Context) error {
	cmds, err := h.src.Poll(ctx, h.st.CommandCursor())
	if err != nil {
		return err
	}
	slices.SortStableFunc(cmds, func(a, b notifier.Command) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})

	for _, c := range cmds {
		if !h.st.AdvanceCursor(c.ID) {
			continue
		}
		if h.allowed != "" && c.SenderID != h.allowed {
			h.log.WithFields(logrus.Fields{"id": c.ID, "sender": c.SenderID}).Debug("command from unknown sender dropped")
			continue
		}
		kind, ok := ParseCommand(c.Text)
		if !ok {
			continue
		}
		h.apply(ctx, kind)
	}
	return nil
}

func (h *Handler) apply(ctx context.Context, kind Kind) {
	log := h.log.WithField("command", kind.String())
	log.Info("command received")
	metrics.Commands.WithLabelValues(kind.String()).Inc()

	switch kind {
	case KindStatus:
		msg, err := h.reporter.Report(ctx)
		if err != nil {
			log.WithError(err).Error("status report failed")
			return
		}
		h.send(ctx, msg)

	case KindPause:
		h.st.Pause()
		h.send(ctx, "⛔ <b>[paused]</b> new entries stopped")

	case KindResume:
		h.st.Resume()
		h.send(ctx, "✅ <b>[resumed]</b> trading active")

	case KindLiquidate:
		h.st.PauseUntilNextCycle()
		h.send(ctx, "🚨 <b>[emergency liquidation]</b> closing all positions, entries locked until next cycle")
		if err := h.liq.Liquidate(ctx, "operator command"); err != nil {
			log.WithError(err).Error("emergency liquidation failed")
			h.send(ctx, "⚠️ liquidation could not read positions, retry the command")
		}
	}
	metrics.SetTradingActive(h.st.TradingAllowed())
}

func (h *Handler) send(ctx context.Context, msg string) {
	if err := h.notifier.Send(ctx, msg); err != nil {
		h.log.WithError(err).Warn("notification failed")
	}
}
