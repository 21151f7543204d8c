package exchange

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/amirphl/breakout-trader/internal/market"
	"github.com/amirphl/breakout-trader/internal/order"
	"github.com/amirphl/breakout-trader/internal/utils"
)

// PaperExchange proxies market data to a real venue and fills market orders
// in memory at the last traded price. Margin accounting is linear: opening
// locks notional/leverage of the quote balance, closing releases it with PnL.
type PaperExchange struct {
	market Gateway
	quote  string

	mu        sync.Mutex
	free      float64
	leverage  map[string]int
	positions map[string]*market.Position
}

func NewPaperExchange(realExchange Gateway, quote string, startingBalance float64) *PaperExchange {
	return &PaperExchange{
		market:    realExchange,
		quote:     quote,
		free:      startingBalance,
		leverage:  make(map[string]int),
		positions: make(map[string]*market.Position),
	}
}

func (p *PaperExchange) Name() string {
	return "paper-" + p.market.Name()
}

// ===== PROXY FUNCTIONS =====

func (p *PaperExchange) FetchTicker(ctx context.Context, symbol string) (float64, error) {
	return p.market.FetchTicker(ctx, symbol)
}

func (p *PaperExchange) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]market.Candle, error) {
	return p.market.FetchCandles(ctx, symbol, timeframe, limit)
}

func (p *PaperExchange) RoundQuantity(ctx context.Context, symbol string, qty float64) (float64, error) {
	return p.market.RoundQuantity(ctx, symbol, qty)
}

// ===== SIMULATED FUNCTIONS =====

func (p *PaperExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage < 1 {
		return fmt.Errorf("%w: leverage %d", ErrOrderRejected, leverage)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leverage[symbol] = leverage
	return nil
}

// FetchPositions marks open positions to the current ticker. A ticker failure
// leaves that position's PnL at its last value.
func (p *PaperExchange) FetchPositions(ctx context.Context) ([]market.Position, error) {
	p.mu.Lock()
	open := make([]market.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		open = append(open, *pos)
	}
	p.mu.Unlock()

	for i := range open {
		price, err := p.market.FetchTicker(ctx, open[i].Symbol)
		if err != nil {
			continue
		}
		open[i].UnrealizedPnL = pnl(open[i], price)
		open[i].Notional = open[i].Size * price
	}
	return open, nil
}

func (p *PaperExchange) FetchBalance(ctx context.Context) (map[string]market.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	locked := 0.0
	for _, pos := range p.positions {
		locked += margin(*pos)
	}
	return map[string]market.Balance{
		p.quote: {Asset: p.quote, Free: p.free, Total: p.free + locked},
	}, nil
}

func (p *PaperExchange) SubmitMarketOrder(ctx context.Context, req order.Request) (order.Ack, error) {
	if req.Quantity <= 0 {
		return order.Ack{}, fmt.Errorf("%w: non-positive quantity %.8f", ErrOrderRejected, req.Quantity)
	}
	price, err := p.market.FetchTicker(ctx, req.Symbol)
	if err != nil {
		return order.Ack{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pos, held := p.positions[req.Symbol]
	if req.ReduceOnly {
		if !held || (pos.Side == market.Long) == (req.Side == order.Buy) {
			return order.Ack{}, fmt.Errorf("%w: reduce-only %s with nothing to reduce on %s", ErrOrderRejected, req.Side, req.Symbol)
		}
		p.reduce(pos, math.Min(req.Quantity, pos.Size), price)
	} else {
		if held {
			return order.Ack{}, fmt.Errorf("%w: position already open on %s", ErrOrderRejected, req.Symbol)
		}
		lev := max(p.leverage[req.Symbol], 1)
		side := market.Long
		if req.Side == order.Sell {
			side = market.Short
		}
		opened := market.Position{Symbol: req.Symbol, Side: side, Size: req.Quantity, EntryPrice: price, Leverage: lev}
		need := margin(opened)
		if need > p.free {
			return order.Ack{}, fmt.Errorf("%w: need %.2f %s, have %.2f", ErrInsufficientBalance, need, p.quote, p.free)
		}
		p.free -= need
		p.positions[req.Symbol] = &opened
	}

	id := uuid.NewString()
	utils.Component("exchange").WithFields(logrus.Fields{
		"venue":  p.Name(),
		"symbol": req.Symbol,
		"side":   req.Side,
		"qty":    req.Quantity,
		"price":  price,
	}).Info("paper order filled")

	return order.Ack{
		OrderID:       id,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        "FILLED",
		FilledQty:     req.Quantity,
		AvgPrice:      price,
		Timestamp:     time.Now().UTC(),
	}, nil
}

func (p *PaperExchange) reduce(pos *market.Position, qty, price float64) {
	part := *pos
	part.Size = qty
	p.free += margin(part) + pnl(part, price)
	pos.Size -= qty
	if pos.Size <= 0 {
		delete(p.positions, pos.Symbol)
	}
}

func margin(pos market.Position) float64 {
	return pos.Size * pos.EntryPrice / float64(max(pos.Leverage, 1))
}

func pnl(pos market.Position, price float64) float64 {
	diff := price - pos.EntryPrice
	if pos.Side == market.Short {
		diff = -diff
	}
	return diff * pos.Size
}
