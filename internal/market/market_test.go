package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBaseAsset(t *testing.T) {
	assert.Equal(t, "BTC", BaseAsset("BTCUSDT", "USDT"))
	assert.Equal(t, "ETH", BaseAsset("eth/usdt", "USDT"))
	assert.Equal(t, "USDT", BaseAsset("USDT", "USDT"))
	assert.Equal(t, "BTCTMN", BaseAsset("BTCTMN", "USDT"))
}

func TestCandleValidate(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.NoError(t, Candle{Timestamp: ts, Open: 1, High: 2, Low: 1, Close: 1.5}.Validate())
	assert.Error(t, Candle{Timestamp: ts, Open: 1, High: 1, Low: 2, Close: 1.5}.Validate())
	assert.Error(t, Candle{Timestamp: ts, Open: 0, High: 1, Low: 1, Close: 1}.Validate())
}

func TestSideString(t *testing.T) {
	assert.Equal(t, "NONE", Flat.String())
	assert.Equal(t, "LONG", Long.String())
}
