// Package exchangetest provides a scriptable in-memory gateway for tests.
package exchangetest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/amirphl/breakout-trader/internal/market"
	"github.com/amirphl/breakout-trader/internal/order"
)

// Operation names accepted by FailOn.
const (
	OpTicker    = "fetch_ticker"
	OpCandles   = "fetch_candles"
	OpPositions = "fetch_positions"
	OpBalance   = "fetch_balance"
	OpSubmit    = "submit_order"
	OpLeverage  = "set_leverage"
	OpRound     = "round_quantity"
)

// Fake implements exchange.Gateway. Orders are recorded and, unless
// KeepPositions is set, applied to the position book.
type Fake struct {
	mu sync.Mutex

	prices    map[string]float64
	candles   map[string][]market.Candle
	positions map[string]market.Position
	balances  map[string]market.Balance
	leverage  map[string]int
	errs      map[string]error
	calls     map[string]int
	orders    []order.Request

	Step          float64
	KeepPositions bool
}

func NewFake() *Fake {
	return &Fake{
		prices:    make(map[string]float64),
		candles:   make(map[string][]market.Candle),
		positions: make(map[string]market.Position),
		balances:  make(map[string]market.Balance),
		leverage:  make(map[string]int),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
		Step:      0.001,
	}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) SetPrice(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

func (f *Fake) SetCandles(symbol string, candles ...market.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candles[symbol] = candles
}

func (f *Fake) SetPosition(symbol string, side market.Side, size float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[symbol] = market.Position{Symbol: symbol, Side: side, Size: size}
}

func (f *Fake) SetPositionPnL(symbol string, pnl float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.positions[symbol]
	p.UnrealizedPnL = pnl
	f.positions[symbol] = p
}

func (f *Fake) ClearPosition(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.positions, symbol)
}

func (f *Fake) SetBalance(asset string, free, total float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[asset] = market.Balance{Asset: asset, Free: free, Total: total}
}

// FailOn makes op fail with err. Pass a nil err to clear. An op may be
// narrowed to one symbol as "op:SYMBOL".
func (f *Fake) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

func (f *Fake) Orders() []order.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]order.Request(nil), f.orders...)
}

func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Fake) Leverage(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leverage[symbol]
}

// enter records a call and returns the scripted error. Caller holds mu.
func (f *Fake) enter(ctx context.Context, op, symbol string) error {
	f.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := f.errs[op+":"+symbol]; ok && symbol != "" {
		return err
	}
	return f.errs[op]
}

func (f *Fake) FetchTicker(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, OpTicker, symbol); err != nil {
		return 0, err
	}
	p, ok := f.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return p, nil
}

func (f *Fake) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]market.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, OpCandles, symbol); err != nil {
		return nil, err
	}
	c := f.candles[symbol]
	if len(c) > limit {
		c = c[len(c)-limit:]
	}
	return append([]market.Candle(nil), c...), nil
}

func (f *Fake) FetchPositions(ctx context.Context) ([]market.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, OpPositions, ""); err != nil {
		return nil, err
	}
	out := make([]market.Position, 0, len(f.positions))
	for _, p := range f.positions {
		out = append(out, p)
	}
	return out, nil
}

func (f *Fake) FetchBalance(ctx context.Context) (map[string]market.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, OpBalance, ""); err != nil {
		return nil, err
	}
	out := make(map[string]market.Balance, len(f.balances))
	for k, v := range f.balances {
		out[k] = v
	}
	return out, nil
}

func (f *Fake) SubmitMarketOrder(ctx context.Context, req order.Request) (order.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, OpSubmit, req.Symbol); err != nil {
		return order.Ack{}, err
	}
	f.orders = append(f.orders, req)

	if !f.KeepPositions {
		pos, held := f.positions[req.Symbol]
		switch {
		case req.ReduceOnly && held:
			pos.Size -= req.Quantity
			if pos.Size <= 1e-12 {
				delete(f.positions, req.Symbol)
			} else {
				f.positions[req.Symbol] = pos
			}
		case !req.ReduceOnly:
			side := market.Long
			if req.Side == order.Sell {
				side = market.Short
			}
			f.positions[req.Symbol] = market.Position{Symbol: req.Symbol, Side: side, Size: req.Quantity}
		}
	}

	return order.Ack{
		OrderID:       fmt.Sprintf("fake-%d", len(f.orders)),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        "FILLED",
		FilledQty:     req.Quantity,
		AvgPrice:      f.prices[req.Symbol],
		Timestamp:     time.Now().UTC(),
	}, nil
}

func (f *Fake) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, OpLeverage, symbol); err != nil {
		return err
	}
	f.leverage[symbol] = leverage
	return nil
}

func (f *Fake) RoundQuantity(ctx context.Context, symbol string, qty float64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, OpRound, symbol); err != nil {
		return 0, err
	}
	if f.Step <= 0 {
		return qty, nil
	}
	return math.Floor(qty/f.Step+1e-9) * f.Step, nil
}
