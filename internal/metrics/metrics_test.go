package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetTradingActive(t *testing.T) {
	SetTradingActive(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(TradingActive))
	SetTradingActive(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(TradingActive))
}

func TestOrdersCounter(t *testing.T) {
	before := testutil.ToFloat64(Orders.WithLabelValues("entry", "LONG"))
	Orders.WithLabelValues("entry", "LONG").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(Orders.WithLabelValues("entry", "LONG")))
}
