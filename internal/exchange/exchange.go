// Package exchange
package exchange

import (
	"context"

	"github.com/amirphl/breakout-trader/internal/market"
	"github.com/amirphl/breakout-trader/internal/order"
)

// Gateway is the capability contract the trading core needs from a venue.
// Every call is bounded by the caller's context.
type Gateway interface {
	Name() string
	FetchTicker(ctx context.Context, symbol string) (float64, error)
	// FetchCandles returns the most recent limit candles, oldest first. The last
	// element is the candle that is still forming.
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]market.Candle, error)
	FetchPositions(ctx context.Context) ([]market.Position, error)
	FetchBalance(ctx context.Context) (map[string]market.Balance, error)
	SubmitMarketOrder(ctx context.Context, req order.Request) (order.Ack, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	// RoundQuantity floors qty to the symbol's lot step.
	RoundQuantity(ctx context.Context, symbol string, qty float64) (float64, error)
}
