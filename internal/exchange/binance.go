package exchange

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/amirphl/breakout-trader/internal/market"
	"github.com/amirphl/breakout-trader/internal/order"
	"github.com/amirphl/breakout-trader/internal/utils"
)

// BinanceFutures trades USDT-margined perpetuals in one-way position mode.
type BinanceFutures struct {
	client *futures.Client

	mu    sync.Mutex
	steps map[string]decimal.Decimal
}

func NewBinanceFutures(apiKey, apiSecret string, testnet bool) *BinanceFutures {
	if testnet {
		futures.UseTestnet = true
	}
	return &BinanceFutures{
		client: binance.NewFuturesClient(apiKey, apiSecret),
		steps:  make(map[string]decimal.Decimal),
	}
}

func (b *BinanceFutures) Name() string {
	return "binance-futures"
}

func (b *BinanceFutures) FetchTicker(ctx context.Context, symbol string) (float64, error) {
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no price returned for %s", symbol)
	}
	price := parseFloat(prices[0].Price)
	if price <= 0 {
		return 0, fmt.Errorf("invalid price %q for %s", prices[0].Price, symbol)
	}
	return price, nil
}

func (b *BinanceFutures) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]market.Candle, error) {
	klines, err := b.client.NewKlinesService().Symbol(symbol).Interval(timeframe).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}

	candles := make([]market.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, market.Candle{
			Timestamp: time.UnixMilli(k.OpenTime).UTC(),
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
			Symbol:    symbol,
			Timeframe: timeframe,
		})
	}
	return candles, nil
}

// FetchPositions reports every non-zero position on the account. In one-way
// mode the sign of positionAmt carries the side.
func (b *BinanceFutures) FetchPositions(ctx context.Context) ([]market.Position, error) {
	risks, err := b.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, err
	}

	var out []market.Position
	for _, r := range risks {
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := market.Long
		if amt < 0 {
			side = market.Short
		}
		out = append(out, market.Position{
			Symbol:        r.Symbol,
			Side:          side,
			Size:          math.Abs(amt),
			EntryPrice:    parseFloat(r.EntryPrice),
			UnrealizedPnL: parseFloat(r.UnRealizedProfit),
			Leverage:      int(parseFloat(r.Leverage)),
			Notional:      math.Abs(parseFloat(r.Notional)),
		})
	}
	return out, nil
}

func (b *BinanceFutures) FetchBalance(ctx context.Context) (map[string]market.Balance, error) {
	balances, err := b.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]market.Balance, len(balances))
	for _, bal := range balances {
		out[bal.Asset] = market.Balance{
			Asset: bal.Asset,
			Free:  parseFloat(bal.AvailableBalance),
			Total: parseFloat(bal.Balance),
		}
	}
	return out, nil
}

func (b *BinanceFutures) SubmitMarketOrder(ctx context.Context, req order.Request) (order.Ack, error) {
	if req.Quantity <= 0 {
		return order.Ack{}, fmt.Errorf("%w: non-positive quantity %.8f", ErrOrderRejected, req.Quantity)
	}

	side := futures.SideTypeBuy
	if req.Side == order.Sell {
		side = futures.SideTypeSell
	}

	svc := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(FormatQuantity(req.Quantity)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return order.Ack{}, err
	}

	utils.Component("exchange").WithFields(logrus.Fields{
		"venue":  b.Name(),
		"symbol": req.Symbol,
		"side":   req.Side,
		"order":  res.OrderID,
		"status": res.Status,
	}).Debug("market order acknowledged")

	return order.Ack{
		OrderID:       fmt.Sprintf("%d", res.OrderID),
		ClientOrderID: res.ClientOrderID,
		Symbol:        res.Symbol,
		Side:          order.Side(strings.ToUpper(string(res.Side))),
		Status:        string(res.Status),
		FilledQty:     parseFloat(res.ExecutedQuantity),
		AvgPrice:      parseFloat(res.AvgPrice),
		Timestamp:     time.UnixMilli(res.UpdateTime).UTC(),
	}, nil
}

func (b *BinanceFutures) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := b.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	return err
}

func (b *BinanceFutures) RoundQuantity(ctx context.Context, symbol string, qty float64) (float64, error) {
	step, err := b.stepSize(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return FloorToStep(qty, step), nil
}

// stepSize reads the LOT_SIZE filter once per process.
func (b *BinanceFutures) stepSize(ctx context.Context, symbol string) (decimal.Decimal, error) {
	b.mu.Lock()
	step, ok := b.steps[symbol]
	b.mu.Unlock()
	if ok {
		return step, nil
	}

	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range info.Symbols {
		for _, f := range s.Filters {
			if f["filterType"] != "LOT_SIZE" {
				continue
			}
			raw, _ := f["stepSize"].(string)
			if d, err := decimal.NewFromString(raw); err == nil {
				b.steps[s.Symbol] = d
			}
		}
	}

	step, ok = b.steps[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no LOT_SIZE filter for %s", ErrOrderRejected, symbol)
	}
	return step, nil
}
