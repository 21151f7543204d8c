package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	wallex "github.com/wallexchange/wallex-go"

	"github.com/amirphl/breakout-trader/internal/market"
	"github.com/amirphl/breakout-trader/internal/order"
	"github.com/amirphl/breakout-trader/internal/tfutils"
	"github.com/amirphl/breakout-trader/internal/utils"
)

// WallexExchange is a spot venue. Holdings of the configured symbols' base
// assets are reported as LONG positions; opening a SHORT is rejected and
// leverage is fixed at 1.
type WallexExchange struct {
	client  *wallex.Client
	symbols []string
	quote   string
	places  int32
	stream  *TradeStream
}

func NewWallexExchange(apiKey string, symbols []string, quote string) *WallexExchange {
	return &WallexExchange{
		client:  wallex.New(wallex.ClientOptions{APIKey: apiKey}),
		symbols: symbols,
		quote:   quote,
		places:  6,
	}
}

func (w *WallexExchange) Name() string {
	return "wallex"
}

// retry runs fn up to attempts times with a fixed delay, giving up early when
// ctx is done. The wallex client has no context support of its own.
func retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		utils.Component("exchange").WithError(err).Debugf("wallex attempt %d/%d failed", i, attempts)
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// NormalizeSymbol converts "BTC-USDT" or "btc/usdt" to "BTCUSDT".
func NormalizeSymbol(symbol string) string {
	s := strings.ReplaceAll(symbol, "-", "")
	return strings.ToUpper(strings.ReplaceAll(s, "/", ""))
}

// resolution maps a timeframe onto wallex's candle resolution (minutes, or 1D).
func resolution(timeframe string) (string, error) {
	d, err := tfutils.ParseTimeframe(timeframe)
	if err != nil {
		return "", err
	}
	if d == 24*time.Hour {
		return "1D", nil
	}
	return fmt.Sprintf("%d", int(d.Minutes())), nil
}

// WithStream makes FetchTicker prefer the streamed last trade over a REST call.
func (w *WallexExchange) WithStream(s *TradeStream) *WallexExchange {
	w.stream = s
	return w
}

func (w *WallexExchange) FetchTicker(ctx context.Context, symbol string) (float64, error) {
	if w.stream != nil {
		if p, ok := w.stream.LastPrice(symbol); ok {
			return p, nil
		}
	}
	var trades []*wallex.MarketTrade
	err := retry(ctx, 3, 300*time.Millisecond, func() error {
		var err error
		trades, err = w.client.MarketTrades(NormalizeSymbol(symbol))
		return err
	})
	if err != nil {
		return 0, err
	}
	if len(trades) == 0 {
		return 0, fmt.Errorf("no trades found for symbol: %s", symbol)
	}
	return float64Ptr(&trades[0].Price), nil
}

func (w *WallexExchange) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]market.Candle, error) {
	res, err := resolution(timeframe)
	if err != nil {
		return nil, err
	}
	d := tfutils.GetTimeframeDuration(timeframe)
	end := time.Now().UTC()
	start := end.Truncate(d).Add(-d * time.Duration(limit-1))

	var raw []*wallex.Candle
	err = retry(ctx, 3, 300*time.Millisecond, func() error {
		var err error
		raw, err = w.client.Candles(NormalizeSymbol(symbol), res, start, end)
		return err
	})
	if err != nil {
		return nil, err
	}

	candles := make([]market.Candle, 0, len(raw))
	for _, wc := range raw {
		c := market.Candle{
			Timestamp: wc.Timestamp.UTC(),
			Open:      float64Ptr(&wc.Open),
			High:      float64Ptr(&wc.High),
			Low:       float64Ptr(&wc.Low),
			Close:     float64Ptr(&wc.Close),
			Volume:    float64Ptr(&wc.Volume),
			Symbol:    symbol,
			Timeframe: timeframe,
		}
		if err := c.Validate(); err != nil {
			continue
		}
		candles = append(candles, c)
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

func (w *WallexExchange) balances(ctx context.Context) (map[string]*wallex.Balance, error) {
	var out map[string]*wallex.Balance
	err := retry(ctx, 3, 300*time.Millisecond, func() error {
		var err error
		out, err = w.client.Balances()
		return err
	})
	return out, err
}

// FetchPositions reports base-asset holdings of the configured symbols.
func (w *WallexExchange) FetchPositions(ctx context.Context) ([]market.Position, error) {
	raw, err := w.balances(ctx)
	if err != nil {
		return nil, err
	}
	return spotPositions(raw, w.symbols, w.quote), nil
}

// spotPositions sizes each holding by its free balance only. Locked units
// sit behind open orders and cannot be sold by a market order.
func spotPositions(raw map[string]*wallex.Balance, symbols []string, quote string) []market.Position {
	var out []market.Position
	for _, sym := range symbols {
		wb, ok := raw[market.BaseAsset(sym, quote)]
		if !ok || wb == nil {
			continue
		}
		size := float64Ptr(&wb.Value)
		if size <= 0 {
			continue
		}
		out = append(out, market.Position{
			Symbol:   sym,
			Side:     market.Long,
			Size:     size,
			Leverage: 1,
		})
	}
	return out
}

func (w *WallexExchange) FetchBalance(ctx context.Context) (map[string]market.Balance, error) {
	raw, err := w.balances(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]market.Balance, len(raw))
	for asset, wb := range raw {
		free := float64Ptr(&wb.Value)
		out[asset] = market.Balance{
			Asset: asset,
			Free:  free,
			Total: free + float64Ptr(&wb.Locked),
		}
	}
	return out, nil
}

// SubmitMarketOrder buys to open or sells to close. A sell that is not
// reduce-only would open a short and is rejected.
func (w *WallexExchange) SubmitMarketOrder(ctx context.Context, req order.Request) (order.Ack, error) {
	if req.Side == order.Sell && !req.ReduceOnly {
		return order.Ack{}, fmt.Errorf("%w: %s does not support short positions", ErrOrderRejected, w.Name())
	}
	if req.Quantity <= 0 {
		return order.Ack{}, fmt.Errorf("%w: non-positive quantity %.8f", ErrOrderRejected, req.Quantity)
	}
	if err := ctx.Err(); err != nil {
		return order.Ack{}, err
	}

	params := &wallex.OrderParams{
		Symbol:   NormalizeSymbol(req.Symbol),
		Type:     "MARKET",
		Side:     string(req.Side),
		Price:    wallex.Number("0"),
		Quantity: wallex.Number(FormatQuantity(req.Quantity)),
	}
	resp, err := w.client.PlaceOrder(params)
	if err != nil {
		return order.Ack{}, err
	}

	return order.Ack{
		OrderID:       resp.ClientOrderID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        strings.ToUpper(resp.Status),
		FilledQty:     float64Ptr(resp.ExecutedQty),
		AvgPrice:      float64Ptr(resp.ExecutedPrice),
		Timestamp:     resp.CreatedAt.UTC(),
	}, nil
}

func (w *WallexExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage != 1 {
		return fmt.Errorf("%w: %s is a spot venue, leverage %d unsupported", ErrOrderRejected, w.Name(), leverage)
	}
	return nil
}

func (w *WallexExchange) RoundQuantity(ctx context.Context, symbol string, qty float64) (float64, error) {
	return FloorToPlaces(qty, w.places), nil
}

// Helper to safely dereference *wallex.Number
func float64Ptr(n *wallex.Number) float64 {
	if n == nil {
		return 0
	}
	return parseFloat(string(*n))
}
