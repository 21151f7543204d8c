// Package market
package market

import (
	"fmt"
	"strings"
	"time"
)

// Side is the direction of a held position. The zero value means flat.
type Side string

const (
	Flat  Side = ""
	Long  Side = "LONG"
	Short Side = "SHORT"
)

func (s Side) String() string {
	if s == Flat {
		return "NONE"
	}
	return string(s)
}

// Candle is one OHLCV bar. Timestamp is the bar's open time in UTC.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Symbol    string
	Timeframe string
}

// Validate checks the candle's price relationships.
func (c Candle) Validate() error {
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return fmt.Errorf("candle %s %s: non-positive price", c.Symbol, c.Timestamp.Format(time.RFC3339))
	}
	if c.High < c.Low {
		return fmt.Errorf("candle %s %s: high %.8f below low %.8f", c.Symbol, c.Timestamp.Format(time.RFC3339), c.High, c.Low)
	}
	return nil
}

// Position is the venue's view of a held position.
type Position struct {
	Symbol        string
	Side          Side
	Size          float64 // absolute contracts/base units
	EntryPrice    float64
	UnrealizedPnL float64
	Leverage      int
	Notional      float64
}

// Balance represents an asset balance from an exchange
type Balance struct {
	Asset string  `json:"asset"`
	Free  float64 `json:"free"`  // available for new orders
	Total float64 `json:"total"` // wallet balance including locked/margin
}

// BaseAsset strips the quote suffix from a venue symbol ("BTCUSDT" -> "BTC").
func BaseAsset(symbol, quote string) string {
	s := strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
	q := strings.ToUpper(quote)
	if q != "" && strings.HasSuffix(s, q) && len(s) > len(q) {
		return s[:len(s)-len(q)]
	}
	return s
}
