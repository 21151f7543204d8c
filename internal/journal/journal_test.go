package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var ts = time.Date(2026, 10, 19, 12, 0, 5, 0, time.UTC)

func TestCSVLedger_HeaderOnceAndAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trade_history.csv")

	l, err := OpenCSV(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(context.Background(), Trade{Time: ts, Action: ActionBuyLong, Symbol: "BTCUSDT", Price: 108, Amount: 0.5}))
	require.NoError(t, l.Close())

	// a second process instance appends instead of truncating
	l, err = OpenCSV(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(context.Background(), Trade{Time: ts, Action: ActionExit, Symbol: "BTCUSDT", Amount: 0.5, Note: "cycle end"}))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Time,Action,Symbol,Price,Amount,Value,Note", lines[0])
	assert.Equal(t, "2026-10-19 12:00:05,BUY_LONG,BTCUSDT,108,0.5,54.00,", lines[1])
	assert.Equal(t, "2026-10-19 12:00:05,EXIT,BTCUSDT,0,0.5,0.00,cycle end", lines[2])
}

func TestSQLLedger_SQLite(t *testing.T) {
	ctx := context.Background()
	l, err := OpenSQL(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Append(ctx, Trade{Time: ts, Action: ActionSellShort, Symbol: "ETHUSDT", Price: 2000, Amount: 0.1}))
	require.NoError(t, l.Append(ctx, Trade{Time: ts.Add(time.Hour), Action: ActionExit, Symbol: "ETHUSDT", Amount: 0.1, Note: "command"}))

	trades, err := l.Trades(ctx, "ETHUSDT")
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, ActionSellShort, trades[0].Action)
	assert.InDelta(t, 2000, trades[0].Price, 1e-9)
	assert.Equal(t, "command", trades[1].Note)
}

func TestOpenSQL_UnknownDriver(t *testing.T) {
	_, err := OpenSQL(context.Background(), "mysql", "")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "a = $1 AND b = $2", rebind("postgres", "a = ? AND b = ?"))
	assert.Equal(t, "a = ?", rebind("sqlite", "a = ?"))
}

type mockLedger struct{ mock.Mock }

func (m *mockLedger) Append(ctx context.Context, t Trade) error {
	return m.Called(ctx, t).Error(0)
}

func (m *mockLedger) Close() error {
	return m.Called().Error(0)
}

func TestMulti_AppendsToAll(t *testing.T) {
	a, b := &mockLedger{}, &mockLedger{}
	boom := errors.New("disk full")
	tr := Trade{Time: ts, Action: ActionExit, Symbol: "BTCUSDT"}

	a.On("Append", mock.Anything, tr).Return(boom)
	b.On("Append", mock.Anything, tr).Return(nil)

	err := Multi{a, b}.Append(context.Background(), tr)
	assert.ErrorIs(t, err, boom)
	a.AssertExpectations(t)
	b.AssertExpectations(t)
}
