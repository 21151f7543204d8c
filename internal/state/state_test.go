package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/breakout-trader/internal/market"
	"github.com/amirphl/breakout-trader/internal/scheduler"
)

var universe = []string{"BTCUSDT", "ETHUSDT"}

func TestNew_PositionsCoverUniverse(t *testing.T) {
	s := New(universe)
	snap := s.Snapshot()

	require.Len(t, snap.Positions, 2)
	assert.Equal(t, market.Flat, snap.Positions["BTCUSDT"])
	assert.True(t, s.TradingAllowed())
}

func TestApplyPositions_KeepsUniverseKeys(t *testing.T) {
	s := New(universe)
	s.SetPosition("BTCUSDT", market.Long)

	s.ApplyPositions(map[string]market.Side{
		"ETHUSDT": market.Short,
		"XRPUSDT": market.Long,
	}, time.Now())

	snap := s.Snapshot()
	assert.Len(t, snap.Positions, 2)
	assert.Equal(t, market.Flat, snap.Positions["BTCUSDT"])
	assert.Equal(t, market.Short, snap.Positions["ETHUSDT"])
	_, ok := snap.Positions["XRPUSDT"]
	assert.False(t, ok)
}

func TestPauseResume(t *testing.T) {
	s := New(universe)

	assert.True(t, s.Pause())
	assert.False(t, s.Pause(), "second pause is a no-op")
	assert.False(t, s.TradingAllowed())

	assert.True(t, s.Resume())
	assert.False(t, s.Resume(), "second resume is a no-op")
	assert.True(t, s.TradingAllowed())
}

func TestPauseUntilNextCycle(t *testing.T) {
	s := New(universe)
	require.True(t, s.StartCycle("2026-10-19T00", 100))

	s.PauseUntilNextCycle()
	assert.False(t, s.TradingAllowed())

	assert.False(t, s.StartCycle("2026-10-19T00", 100), "same slot does not restart the cycle")
	assert.False(t, s.TradingAllowed())

	assert.True(t, s.StartCycle("2026-10-19T12", 50))
	assert.True(t, s.TradingAllowed())
	assert.Equal(t, 50.0, s.CapitalPerSymbol())
}

func TestResumeClearsTemporaryLock(t *testing.T) {
	s := New(universe)
	s.PauseUntilNextCycle()
	assert.True(t, s.Resume())
	assert.True(t, s.TradingAllowed())
}

func TestStartCycle_KeepsCapitalWhenUnknown(t *testing.T) {
	s := New(universe)
	s.StartCycle("2026-10-19T00", 100)
	s.StartCycle("2026-10-19T12", 0)
	assert.Equal(t, 100.0, s.CapitalPerSymbol())
}

func TestTargets_StaleFlag(t *testing.T) {
	s := New(universe)
	slot := scheduler.Slot("2026-10-19T00")

	s.SetTargets("BTCUSDT", Targets{Long: 107.5, Short: 102.5, Slot: slot})
	tg, ok := s.Targets("BTCUSDT")
	require.True(t, ok)
	assert.True(t, tg.FreshFor(slot))

	s.MarkTargetStale("BTCUSDT")
	tg, _ = s.Targets("BTCUSDT")
	assert.False(t, tg.FreshFor(slot))
	assert.Equal(t, 107.5, tg.Long, "stale levels keep their previous value")

	assert.False(t, tg.FreshFor("2026-10-19T12"))
}

func TestEnteredIn_ResetsPerCycle(t *testing.T) {
	s := New(universe)
	s.StartCycle("2026-10-19T00", 10)
	s.MarkEntered("BTCUSDT", "2026-10-19T00")
	assert.True(t, s.EnteredIn("BTCUSDT", "2026-10-19T00"))

	s.StartCycle("2026-10-19T12", 10)
	assert.False(t, s.EnteredIn("BTCUSDT", "2026-10-19T12"))
}

func TestAdvanceCursor_Monotonic(t *testing.T) {
	s := New(universe)
	assert.True(t, s.AdvanceCursor(5))
	assert.False(t, s.AdvanceCursor(5))
	assert.False(t, s.AdvanceCursor(3))
	assert.True(t, s.AdvanceCursor(6))
	assert.Equal(t, int64(6), s.CommandCursor())
}

func TestClaimSlot(t *testing.T) {
	s := New(universe)
	assert.False(t, s.ClaimSlot(""))
	assert.True(t, s.ClaimSlot("2026-10-19T00"))
	assert.False(t, s.ClaimSlot("2026-10-19T00"))

	s.ReleaseSlot("2026-10-19T00", "")
	assert.Equal(t, scheduler.Slot(""), s.LastClosedSlot())
	assert.True(t, s.ClaimSlot("2026-10-19T00"))
}

func TestClaimSlot_Concurrent(t *testing.T) {
	s := New(universe)
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.ClaimSlot("2026-10-19T12") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestLockExecution_Exclusive(t *testing.T) {
	s := New(universe)
	unlock := s.LockExecution()

	acquired := make(chan struct{})
	go func() {
		defer close(acquired)
		s.LockExecution()()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder entered while the lock was held")
	case <-time.After(20 * time.Millisecond):
	}
	// other state stays readable while orders are in flight
	assert.True(t, s.TradingAllowed())

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock was not released")
	}
}
