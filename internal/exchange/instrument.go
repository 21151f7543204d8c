package exchange

import (
	"context"
	"time"

	"github.com/amirphl/breakout-trader/internal/market"
	"github.com/amirphl/breakout-trader/internal/metrics"
	"github.com/amirphl/breakout-trader/internal/order"
)

// Instrumented bounds every call with a timeout, classifies failures into
// GatewayError and counts them.
type Instrumented struct {
	next    Gateway
	timeout time.Duration
}

// Instrument wraps g. A non-positive timeout leaves calls bounded only by the
// caller's context.
func Instrument(g Gateway, timeout time.Duration) *Instrumented {
	return &Instrumented{next: g, timeout: timeout}
}

func (i *Instrumented) Name() string { return i.next.Name() }

func (i *Instrumented) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if i.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, i.timeout)
}

func (i *Instrumented) fail(op, symbol string, err error) error {
	if err == nil {
		return nil
	}
	wrapped := wrap(op, symbol, err)
	metrics.GatewayErrors.WithLabelValues(op, ClassName(wrapped)).Inc()
	return wrapped
}

func (i *Instrumented) FetchTicker(ctx context.Context, symbol string) (float64, error) {
	ctx, cancel := i.bound(ctx)
	defer cancel()
	price, err := i.next.FetchTicker(ctx, symbol)
	return price, i.fail("fetch_ticker", symbol, err)
}

func (i *Instrumented) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]market.Candle, error) {
	ctx, cancel := i.bound(ctx)
	defer cancel()
	candles, err := i.next.FetchCandles(ctx, symbol, timeframe, limit)
	return candles, i.fail("fetch_candles", symbol, err)
}

func (i *Instrumented) FetchPositions(ctx context.Context) ([]market.Position, error) {
	ctx, cancel := i.bound(ctx)
	defer cancel()
	positions, err := i.next.FetchPositions(ctx)
	return positions, i.fail("fetch_positions", "", err)
}

func (i *Instrumented) FetchBalance(ctx context.Context) (map[string]market.Balance, error) {
	ctx, cancel := i.bound(ctx)
	defer cancel()
	balances, err := i.next.FetchBalance(ctx)
	return balances, i.fail("fetch_balance", "", err)
}

func (i *Instrumented) SubmitMarketOrder(ctx context.Context, req order.Request) (order.Ack, error) {
	ctx, cancel := i.bound(ctx)
	defer cancel()
	ack, err := i.next.SubmitMarketOrder(ctx, req)
	return ack, i.fail("submit_order", req.Symbol, err)
}

func (i *Instrumented) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	ctx, cancel := i.bound(ctx)
	defer cancel()
	return i.fail("set_leverage", symbol, i.next.SetLeverage(ctx, symbol, leverage))
}

func (i *Instrumented) RoundQuantity(ctx context.Context, symbol string, qty float64) (float64, error) {
	ctx, cancel := i.bound(ctx)
	defer cancel()
	q, err := i.next.RoundQuantity(ctx, symbol, qty)
	return q, i.fail("round_quantity", symbol, err)
}
