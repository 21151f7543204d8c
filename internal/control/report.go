package control

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/amirphl/breakout-trader/internal/exchange"
	"github.com/amirphl/breakout-trader/internal/market"
	"github.com/amirphl/breakout-trader/internal/state"
)

// Reporter builds the read-only status report.
type Reporter struct {
	gw    exchange.Gateway
	st    *state.State
	quote string
}

func NewReporter(gw exchange.Gateway, st *state.State, quote string) *Reporter {
	return &Reporter{gw: gw, st: st, quote: quote}
}

// StatusLabel names the entry gate: the until-next-cycle lock wins over the
// active flag.
func StatusLabel(s state.Snapshot) string {
	switch {
	case s.PausedUntilNextCycle:
		return "🔒 locked until next cycle"
	case s.Active:
		return "🟢 active"
	default:
		return "🔴 stopped"
	}
}

func (r *Reporter) Report(ctx context.Context) (string, error) {
	balances, err := r.gw.FetchBalance(ctx)
	if err != nil {
		return "", errors.Wrap(err, "status balance")
	}
	positions, err := r.gw.FetchPositions(ctx)
	if err != nil {
		return "", errors.Wrap(err, "status positions")
	}

	snap := r.st.Snapshot()
	universe := make(map[string]bool)
	for _, sym := range r.st.Symbols() {
		universe[sym] = true
	}

	var lines strings.Builder
	totalPnL := 0.0
	for _, p := range positions {
		if !universe[p.Symbol] || math.Abs(p.Size) == 0 || p.Side == market.Flat {
			continue
		}
		totalPnL += p.UnrealizedPnL
		icon := "🟢"
		if p.UnrealizedPnL < 0 {
			icon = "🔴"
		}
		fmt.Fprintf(&lines, "%s <b>%s</b> %s: <code>%s</code>\n",
			icon, market.BaseAsset(p.Symbol, r.quote), p.Side, signedUSD(p.UnrealizedPnL))
	}

	bal := balances[r.quote]
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>[status]</b> %s\n", snap.CycleSlot)
	fmt.Fprintf(&b, "status: %s\n", StatusLabel(snap))
	fmt.Fprintf(&b, "💰 <b>equity: <code>%s</code></b>\n", usd(bal.Total+totalPnL))
	fmt.Fprintf(&b, "💵 free: <code>%s</code>\n", usd(bal.Free))
	b.WriteString(strings.Repeat("-", 20) + "\n")
	if lines.Len() == 0 {
		b.WriteString("💤 no open positions\n")
	} else {
		b.WriteString(lines.String())
	}
	fmt.Fprintf(&b, "💼 cycle allocation: <code>%s</code>", usd(snap.CapitalPerSymbol))
	return b.String(), nil
}

// usd renders 1234.5 as "$1,234.50".
func usd(v float64) string {
	s := decimal.NewFromFloat(math.Abs(v)).StringFixed(2)
	whole, frac, _ := strings.Cut(s, ".")
	var grouped strings.Builder
	for i, d := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(d)
	}
	sign := ""
	if v < 0 {
		sign = "-"
	}
	return sign + "$" + grouped.String() + "." + frac
}

func signedUSD(v float64) string {
	if v >= 0 {
		return "+" + usd(v)
	}
	return usd(v)
}
