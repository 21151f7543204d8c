// Package position reconciles the cached position view against the venue.
package position

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amirphl/breakout-trader/internal/exchange"
	"github.com/amirphl/breakout-trader/internal/market"
	"github.com/amirphl/breakout-trader/internal/metrics"
	"github.com/amirphl/breakout-trader/internal/state"
	"github.com/amirphl/breakout-trader/internal/utils"
)

// Holding is the reconciled position of one symbol. Side is Flat when the
// venue reports nothing or only dust.
type Holding struct {
	Symbol        string
	Side          market.Side
	Size          float64
	EntryPrice    float64
	UnrealizedPnL float64
}

func (h Holding) Open() bool {
	return h.Side != market.Flat
}

// Book maps every symbol of the universe to its holding.
type Book map[string]Holding

// Sides projects the book onto the state's position cache.
func (b Book) Sides() map[string]market.Side {
	out := make(map[string]market.Side, len(b))
	for sym, h := range b {
		out[sym] = h.Side
	}
	return out
}

// Open returns the holdings that are not flat.
func (b Book) Open() []Holding {
	var out []Holding
	for _, h := range b {
		if h.Open() {
			out = append(out, h)
		}
	}
	return out
}

// Reconciler always reads from the venue, never from memory.
type Reconciler struct {
	gw   exchange.Gateway
	st   *state.State
	dust float64
	log  *logrus.Entry
}

func NewReconciler(gw exchange.Gateway, st *state.State, dustEpsilon float64) *Reconciler {
	return &Reconciler{gw: gw, st: st, dust: dustEpsilon, log: utils.Component("reconciler")}
}

// Reconcile fetches positions and replaces the cached view. On error the cache
// is left untouched and the caller must treat positions as unknown.
func (r *Reconciler) Reconcile(ctx context.Context) (Book, error) {
	book, err := r.fetch(ctx)
	if err != nil {
		r.log.WithField("op", "reconcile").WithError(err).Warn("reconcile failed, cached positions left as is")
		return nil, err
	}
	r.st.ApplyPositions(book.Sides(), time.Now().UTC())
	metrics.OpenPositions.Set(float64(len(book.Open())))
	return book, nil
}

// ReconcileSymbol refreshes a single symbol's cached position.
func (r *Reconciler) ReconcileSymbol(ctx context.Context, symbol string) (Holding, error) {
	book, err := r.fetch(ctx)
	if err != nil {
		r.log.WithFields(logrus.Fields{"symbol": symbol, "op": "reconcile"}).WithError(err).Warn("reconcile failed")
		return Holding{}, err
	}
	h := book[symbol]
	r.st.SetPosition(symbol, h.Side)
	return h, nil
}

func (r *Reconciler) fetch(ctx context.Context) (Book, error) {
	positions, err := r.gw.FetchPositions(ctx)
	if err != nil {
		return nil, err
	}

	symbols := r.st.Symbols()
	book := make(Book, len(symbols))
	for _, sym := range symbols {
		book[sym] = Holding{Symbol: sym}
	}

	for _, p := range positions {
		if _, ok := book[p.Symbol]; !ok {
			continue
		}
		if math.Abs(p.Size) < r.dust || p.Side == market.Flat {
			continue
		}
		book[p.Symbol] = Holding{
			Symbol:        p.Symbol,
			Side:          p.Side,
			Size:          math.Abs(p.Size),
			EntryPrice:    p.EntryPrice,
			UnrealizedPnL: p.UnrealizedPnL,
		}
	}
	return book, nil
}
