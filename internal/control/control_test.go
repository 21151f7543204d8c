package control

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/breakout-trader/internal/exchange/exchangetest"
	"github.com/amirphl/breakout-trader/internal/market"
	"github.com/amirphl/breakout-trader/internal/notifier"
	"github.com/amirphl/breakout-trader/internal/state"
)

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) Send(ctx context.Context, msg string) error {
	return m.Called(ctx, msg).Error(0)
}

type mockLiquidator struct{ mock.Mock }

func (m *mockLiquidator) Liquidate(ctx context.Context, reason string) error {
	return m.Called(ctx, reason).Error(0)
}

type mockSource struct{ mock.Mock }

func (m *mockSource) Poll(ctx context.Context, cursor int64) ([]notifier.Command, error) {
	args := m.Called(ctx, cursor)
	cmds, _ := args.Get(0).([]notifier.Command)
	return cmds, args.Error(1)
}

const chat = "4242"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text string
		want Kind
		ok   bool
	}{
		{"/info", KindStatus, true},
		{"info", KindStatus, true},
		{"  STATUS ", KindStatus, true},
		{"/info@BreakoutBot", KindStatus, true},
		{"/stop", KindPause, true},
		{"pause", KindPause, true},
		{"/start", KindResume, true},
		{"Resume", KindResume, true},
		{"/sell", KindLiquidate, true},
		{"liquidate", KindLiquidate, true},
		{"sell everything", 0, false},
		{"/buy", 0, false},
		{"", 0, false},
		{"info@bot", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := ParseCommand(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func newHandler(src CommandSource, st *state.State, liq Liquidator, n notifier.Notifier) *Handler {
	gw := exchangetest.NewFake()
	return NewHandler(src, st, liq, NewReporter(gw, st, "USDT"), n, chat, 0)
}

func TestPollOnce_PauseResumeAndCursor(t *testing.T) {
	st := state.New([]string{"BTCUSDT"})
	src := &mockSource{}
	src.On("Poll", mock.Anything, int64(0)).Return([]notifier.Command{
		{ID: 11, SenderID: chat, Text: "/stop"},
		{ID: 12, SenderID: "999", Text: "/start"},
		{ID: 13, SenderID: chat, Text: "hello"},
	}, nil).Once()

	n := &mockNotifier{}
	n.On("Send", mock.Anything, mock.MatchedBy(func(s string) bool {
		return assert.Contains(t, s, "[paused]")
	})).Return(nil).Once()

	h := newHandler(src, st, &mockLiquidator{}, n)
	require.NoError(t, h.PollOnce(context.Background()))

	assert.False(t, st.TradingAllowed())
	assert.Equal(t, int64(13), st.CommandCursor())
	src.AssertExpectations(t)
	n.AssertExpectations(t)
}

func TestPollOnce_DuplicateDeliveryAppliedOnce(t *testing.T) {
	st := state.New([]string{"BTCUSDT"})
	st.PauseUntilNextCycle()

	src := &mockSource{}
	src.On("Poll", mock.Anything, mock.Anything).Return([]notifier.Command{
		{ID: 5, SenderID: chat, Text: "/sell"},
	}, nil)

	liq := &mockLiquidator{}
	liq.On("Liquidate", mock.Anything, "operator command").Return(nil).Once()
	n := &mockNotifier{}
	n.On("Send", mock.Anything, mock.Anything).Return(nil)

	h := newHandler(src, st, liq, n)
	require.NoError(t, h.PollOnce(context.Background()))
	require.NoError(t, h.PollOnce(context.Background()))

	assert.True(t, st.Snapshot().PausedUntilNextCycle)
	liq.AssertExpectations(t)
}

func TestPollOnce_LiquidatePausesBeforeLiquidating(t *testing.T) {
	st := state.New([]string{"BTCUSDT"})
	src := &mockSource{}
	src.On("Poll", mock.Anything, mock.Anything).Return([]notifier.Command{
		{ID: 1, SenderID: chat, Text: "sell"},
	}, nil).Once()

	liq := &mockLiquidator{}
	liq.On("Liquidate", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		assert.False(t, st.TradingAllowed())
	}).Return(errors.New("positions unknown")).Once()

	n := &mockNotifier{}
	n.On("Send", mock.Anything, mock.Anything).Return(nil)

	h := newHandler(src, st, liq, n)
	require.NoError(t, h.PollOnce(context.Background()))
	liq.AssertExpectations(t)
	n.AssertNumberOfCalls(t, "Send", 2)
}

func TestPollOnce_ResumeClearsBothFlags(t *testing.T) {
	st := state.New([]string{"BTCUSDT"})
	st.Pause()
	st.PauseUntilNextCycle()

	q := NewQueue(4)
	_, err := q.Submit(chat, "/start")
	require.NoError(t, err)

	n := &mockNotifier{}
	n.On("Send", mock.Anything, mock.Anything).Return(nil)

	h := newHandler(q, st, &mockLiquidator{}, n)
	require.NoError(t, h.PollOnce(context.Background()))
	assert.True(t, st.TradingAllowed())

	// reapplying is a no-op
	_, err = q.Submit(chat, "/start")
	require.NoError(t, err)
	require.NoError(t, h.PollOnce(context.Background()))
	assert.True(t, st.TradingAllowed())
	assert.Equal(t, int64(2), st.CommandCursor())
}

func TestPollOnce_SourceError(t *testing.T) {
	st := state.New([]string{"BTCUSDT"})
	src := &mockSource{}
	src.On("Poll", mock.Anything, int64(0)).Return(nil, errors.New("timeout"))

	h := newHandler(src, st, &mockLiquidator{}, &mockNotifier{})
	assert.Error(t, h.PollOnce(context.Background()))
	assert.Zero(t, st.CommandCursor())
}

func TestReport(t *testing.T) {
	gw := exchangetest.NewFake()
	gw.SetBalance("USDT", 800, 1200)
	gw.SetPosition("BTCUSDT", market.Long, 0.1)
	gw.SetPositionPnL("BTCUSDT", 34.5)
	gw.SetPosition("ETHUSDT", market.Short, 2)
	gw.SetPositionPnL("ETHUSDT", -4.5)
	gw.SetPosition("DOGEUSDT", market.Long, 100)
	gw.SetPositionPnL("DOGEUSDT", 1000)

	st := state.New([]string{"BTCUSDT", "ETHUSDT"})
	st.StartCycle("2026-10-19T12", 600)
	before := st.Snapshot()

	msg, err := NewReporter(gw, st, "USDT").Report(context.Background())
	require.NoError(t, err)

	assert.Contains(t, msg, "equity: <code>$1,230.00</code>")
	assert.Contains(t, msg, "free: <code>$800.00</code>")
	assert.Contains(t, msg, "🟢 <b>BTC</b> LONG: <code>+$34.50</code>")
	assert.Contains(t, msg, "🔴 <b>ETH</b> SHORT: <code>-$4.50</code>")
	assert.NotContains(t, msg, "DOGE")
	assert.Contains(t, msg, "cycle allocation: <code>$600.00</code>")
	assert.Contains(t, msg, "🟢 active")
	assert.Equal(t, before, st.Snapshot())
}

func TestReport_GatewayFailure(t *testing.T) {
	gw := exchangetest.NewFake()
	gw.FailOn(exchangetest.OpBalance, errors.New("503"))
	_, err := NewReporter(gw, state.New([]string{"BTCUSDT"}), "USDT").Report(context.Background())
	assert.Error(t, err)
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "🟢 active", StatusLabel(state.Snapshot{Active: true}))
	assert.Equal(t, "🔴 stopped", StatusLabel(state.Snapshot{}))
	assert.Equal(t, "🔒 locked until next cycle", StatusLabel(state.Snapshot{Active: true, PausedUntilNextCycle: true}))
}

func TestUSD(t *testing.T) {
	assert.Equal(t, "$0.00", usd(0))
	assert.Equal(t, "$999.99", usd(999.99))
	assert.Equal(t, "$1,000.00", usd(1000))
	assert.Equal(t, "$12,345,678.90", usd(12345678.9))
	assert.Equal(t, "-$1,500.25", usd(-1500.25))
}

func TestQueue(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.Push(notifier.Command{ID: 100, Text: "a"}))
	id, err := q.Submit("op", "b")
	require.NoError(t, err)
	assert.Equal(t, int64(101), id)
	_, err = q.Submit("op", "c")
	assert.ErrorIs(t, err, ErrQueueFull)

	cmds, err := q.Poll(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, "b", cmds[0].Text)
	assert.Zero(t, q.Len())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = q.Poll(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
