package livetrading

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/breakout-trader/internal/exchange"
	"github.com/amirphl/breakout-trader/internal/exchange/exchangetest"
	"github.com/amirphl/breakout-trader/internal/journal"
	"github.com/amirphl/breakout-trader/internal/market"
	"github.com/amirphl/breakout-trader/internal/order"
)

func TestCloseSlot_RunsOncePerSlot(t *testing.T) {
	h := newHarness("BTCUSDT", "ETHUSDT")
	h.gw.SetPosition("BTCUSDT", market.Long, 0.5)
	h.gw.SetPosition("ETHUSDT", market.Short, 2)
	h.gw.SetPrice("BTCUSDT", 110)
	h.st.SetPosition("BTCUSDT", market.Long)
	h.st.SetPosition("ETHUSDT", market.Short)

	rep, err := h.exit.CloseSlot(context.Background(), testSlot, "cycle end", TriggerCycleEnd)
	require.NoError(t, err)
	assert.False(t, rep.Skipped)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, rep.Closed)
	assert.Empty(t, rep.Residual)

	orders := h.gw.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, order.Request{
		Symbol:        "BTCUSDT",
		Side:          order.Sell,
		Quantity:      0.5,
		ReduceOnly:    true,
		ClientOrderID: order.ClientOrderID(string(testSlot), "BTCUSDT", "exit"),
	}, orders[0])
	assert.Equal(t, order.Buy, orders[1].Side)
	assert.Equal(t, 2.0, orders[1].Quantity)
	assert.True(t, orders[1].ReduceOnly)

	assert.Equal(t, market.Flat, h.st.Position("BTCUSDT"))
	assert.Equal(t, market.Flat, h.st.Position("ETHUSDT"))

	trades := h.ledger.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, journal.ActionExit, trades[0].Action)
	assert.Equal(t, 110.0, trades[0].Price)
	assert.Equal(t, "cycle end", trades[0].Note)
	assert.Zero(t, trades[1].Price)

	require.Len(t, h.notes.Messages(), 1)
	assert.Contains(t, h.notes.Messages()[0], "BTCUSDT, ETHUSDT")

	// a second invocation for the same slot places nothing
	h.gw.SetPosition("BTCUSDT", market.Long, 1)
	rep, err = h.exit.CloseSlot(context.Background(), testSlot, "cycle end", TriggerCycleEnd)
	require.NoError(t, err)
	assert.True(t, rep.Skipped)
	assert.Len(t, h.gw.Orders(), 2)
}

func TestCloseSlot_ReconcileFailureReleasesClaim(t *testing.T) {
	h := newHarness("BTCUSDT")
	h.gw.SetPosition("BTCUSDT", market.Long, 1)
	h.gw.FailOn(exchangetest.OpPositions, errors.New("502"))

	_, err := h.exit.CloseSlot(context.Background(), testSlot, "cycle end", TriggerCycleEnd)
	require.Error(t, err)
	assert.Empty(t, h.st.LastClosedSlot())
	assert.Empty(t, h.gw.Orders())

	h.gw.FailOn(exchangetest.OpPositions, nil)
	rep, err := h.exit.CloseSlot(context.Background(), testSlot, "cycle end", TriggerCycleEnd)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT"}, rep.Closed)
	assert.Equal(t, testSlot, h.st.LastClosedSlot())
}

func TestCloseSlot_OrderFailureIsolated(t *testing.T) {
	h := newHarness("BTCUSDT", "ETHUSDT")
	h.gw.SetPosition("BTCUSDT", market.Long, 1)
	h.gw.SetPosition("ETHUSDT", market.Long, 3)
	h.gw.FailOn(exchangetest.OpSubmit+":BTCUSDT", exchange.ErrOrderRejected)

	rep, err := h.exit.CloseSlot(context.Background(), testSlot, "cycle end", TriggerCycleEnd)
	require.NoError(t, err)
	assert.Equal(t, []string{"ETHUSDT"}, rep.Closed)
	assert.ErrorIs(t, rep.Failed["BTCUSDT"], exchange.ErrOrderRejected)
	assert.Equal(t, []string{"BTCUSDT"}, rep.Residual)
	assert.Equal(t, market.Long, h.st.Position("BTCUSDT"))
	assert.Contains(t, h.notes.Messages()[0], "BTCUSDT failed")
}

func TestCloseSlot_RetriesPositionsLeftOpen(t *testing.T) {
	h := newHarness("BTCUSDT", "ETHUSDT")
	h.gw.SetPosition("BTCUSDT", market.Long, 1)
	h.gw.SetPosition("ETHUSDT", market.Short, 3)
	h.gw.FailOn(exchangetest.OpSubmit+":BTCUSDT", exchange.ErrTransient)
	ctx := context.Background()

	rep, err := h.exit.CloseSlot(ctx, testSlot, "cycle end", TriggerCycleEnd)
	require.NoError(t, err)
	assert.False(t, rep.Skipped)
	assert.False(t, rep.Retry)
	assert.False(t, rep.Settled())
	assert.Equal(t, []string{"ETHUSDT"}, rep.Closed)

	h.gw.FailOn(exchangetest.OpSubmit+":BTCUSDT", nil)
	rep, err = h.exit.CloseSlot(ctx, testSlot, "cycle end", TriggerCycleEnd)
	require.NoError(t, err)
	assert.True(t, rep.Retry)
	assert.True(t, rep.Settled())
	assert.Equal(t, []string{"BTCUSDT"}, rep.Closed)

	orders := h.gw.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, "ETHUSDT", orders[0].Symbol)
	assert.Equal(t, order.ClientOrderID(string(testSlot), "BTCUSDT", "exit-1"), orders[1].ClientOrderID)
	assert.True(t, orders[1].ReduceOnly)
	assert.Equal(t, market.Flat, h.st.Position("BTCUSDT"))

	rep, err = h.exit.CloseSlot(ctx, testSlot, "cycle end", TriggerCycleEnd)
	require.NoError(t, err)
	assert.True(t, rep.Skipped)
	assert.Len(t, h.gw.Orders(), 2)
}

func TestCloseSlot_RetryReconcileFailureKeepsClaim(t *testing.T) {
	h := newHarness("BTCUSDT")
	h.gw.SetPosition("BTCUSDT", market.Long, 1)
	h.gw.FailOn(exchangetest.OpSubmit, exchange.ErrTransient)
	ctx := context.Background()

	_, err := h.exit.CloseSlot(ctx, testSlot, "cycle end", TriggerCycleEnd)
	require.NoError(t, err)

	h.gw.FailOn(exchangetest.OpPositions, exchange.ErrTransient)
	_, err = h.exit.CloseSlot(ctx, testSlot, "cycle end", TriggerCycleEnd)
	require.Error(t, err)
	assert.Equal(t, testSlot, h.st.LastClosedSlot())

	h.gw.FailOn(exchangetest.OpPositions, nil)
	h.gw.FailOn(exchangetest.OpSubmit, nil)
	rep, err := h.exit.CloseSlot(ctx, testSlot, "cycle end", TriggerCycleEnd)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT"}, rep.Closed)
	require.Len(t, h.gw.Orders(), 1)
	assert.Equal(t, order.ClientOrderID(string(testSlot), "BTCUSDT", "exit-2"), h.gw.Orders()[0].ClientOrderID)
}

func TestCloseSlot_NothingOpenIsSilent(t *testing.T) {
	h := newHarness("BTCUSDT")
	h.gw.SetPosition("BTCUSDT", market.Long, 0.000001)

	rep, err := h.exit.CloseSlot(context.Background(), testSlot, "cycle end", TriggerCycleEnd)
	require.NoError(t, err)
	assert.Empty(t, rep.Closed)
	assert.Empty(t, h.gw.Orders())
	assert.Empty(t, h.notes.Messages())
	assert.Empty(t, h.ledger.Trades())
}

func TestLiquidateNow_IgnoresSlotClaim(t *testing.T) {
	h := newHarness("BTCUSDT")
	h.st.StartCycle(testSlot, 100)
	require.True(t, h.st.ClaimSlot(testSlot))
	h.gw.SetPosition("BTCUSDT", market.Short, 4)

	require.NoError(t, h.exit.Liquidate(context.Background(), "operator"))
	orders := h.gw.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, order.Buy, orders[0].Side)
	assert.NotEqual(t, order.ClientOrderID(string(testSlot), "BTCUSDT", "exit"), orders[0].ClientOrderID)

	// flat venue means a repeat is a no-op
	require.NoError(t, h.exit.Liquidate(context.Background(), "operator"))
	assert.Len(t, h.gw.Orders(), 1)
}
