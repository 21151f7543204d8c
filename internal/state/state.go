// Package state holds the single mutable record shared by the trading loop and
// the control channel poller. All access goes through methods guarded by one
// mutex; callers never see the underlying maps.
package state

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/amirphl/breakout-trader/internal/market"
	"github.com/amirphl/breakout-trader/internal/scheduler"
)

// Targets are the breakout levels of one symbol for one cycle.
type Targets struct {
	Long      float64
	Short     float64
	Open      float64
	Range     float64
	Slot      scheduler.Slot
	Stale     bool
	UpdatedAt time.Time
}

// FreshFor reports whether the levels were computed for slot and not flagged stale.
func (t Targets) FreshFor(slot scheduler.Slot) bool {
	return !t.Stale && t.Slot == slot && t.Slot != ""
}

// State is created once per process.
type State struct {
	mu sync.RWMutex
	// exec serialises order placement between entries and liquidations.
	exec sync.Mutex

	symbols              []string
	active               bool
	pausedUntilNextCycle bool
	capitalPerSymbol     float64
	positions            map[string]market.Side
	reconciledAt         time.Time
	targets              map[string]Targets
	commandCursor        int64
	lastClosedSlot       scheduler.Slot
	cycleSlot            scheduler.Slot
	enteredIn            map[string]scheduler.Slot
}

// New builds the state for a fixed symbol universe. Trading starts active.
func New(symbols []string) *State {
	s := &State{
		symbols:   slices.Clone(symbols),
		active:    true,
		positions: make(map[string]market.Side, len(symbols)),
		targets:   make(map[string]Targets, len(symbols)),
		enteredIn: make(map[string]scheduler.Slot, len(symbols)),
	}
	for _, sym := range symbols {
		s.positions[sym] = market.Flat
	}
	return s
}

// LockExecution blocks until no other entry or liquidation is placing orders
// and returns the matching unlock.
func (s *State) LockExecution() (unlock func()) {
	s.exec.Lock()
	return s.exec.Unlock
}

func (s *State) Symbols() []string {
	return slices.Clone(s.symbols)
}

// TradingAllowed is the entry gate: active and not locked until the next cycle.
func (s *State) TradingAllowed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active && !s.pausedUntilNextCycle
}

// Pause clears the active flag. Returns false when already paused.
func (s *State) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.active
	s.active = false
	return changed
}

// Resume sets active and lifts the until-next-cycle lock. Returns false when
// nothing changed.
func (s *State) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := !s.active || s.pausedUntilNextCycle
	s.active = true
	s.pausedUntilNextCycle = false
	return changed
}

// PauseUntilNextCycle locks entries until StartCycle runs for a new slot.
func (s *State) PauseUntilNextCycle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pausedUntilNextCycle = true
}

// StartCycle moves the state into a new cycle: the temporary lock is lifted,
// per-cycle entry marks reset, and the capital allocation replaced when
// capital is positive. Calling it again for the current slot does nothing and
// returns false.
func (s *State) StartCycle(slot scheduler.Slot, capitalPerSymbol float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycleSlot == slot {
		return false
	}
	s.cycleSlot = slot
	s.pausedUntilNextCycle = false
	clear(s.enteredIn)
	if capitalPerSymbol > 0 {
		s.capitalPerSymbol = capitalPerSymbol
	}
	return true
}

func (s *State) CycleSlot() scheduler.Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cycleSlot
}

func (s *State) CapitalPerSymbol() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capitalPerSymbol
}

// SetTargets stores fresh levels for a symbol in the universe.
func (s *State) SetTargets(symbol string, t Targets) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inUniverse(symbol) {
		return
	}
	t.Stale = false
	s.targets[symbol] = t
}

// MarkTargetStale keeps the previous levels but flags them as not computed for
// the current cycle.
func (s *State) MarkTargetStale(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inUniverse(symbol) {
		return
	}
	t := s.targets[symbol]
	t.Stale = true
	s.targets[symbol] = t
}

func (s *State) Targets(symbol string) (Targets, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.targets[symbol]
	return t, ok
}

// ApplyPositions replaces the cached positions with a reconciled view. Symbols
// absent from sides become flat; symbols outside the universe are ignored.
func (s *State) ApplyPositions(sides map[string]market.Side, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range s.symbols {
		s.positions[sym] = sides[sym]
	}
	s.reconciledAt = at
}

func (s *State) SetPosition(symbol string, side market.Side) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inUniverse(symbol) {
		s.positions[symbol] = side
	}
}

func (s *State) Position(symbol string) market.Side {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positions[symbol]
}

// MarkEntered records that symbol opened a position during slot.
func (s *State) MarkEntered(symbol string, slot scheduler.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enteredIn[symbol] = slot
}

func (s *State) EnteredIn(symbol string, slot scheduler.Slot) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slot != "" && s.enteredIn[symbol] == slot
}

func (s *State) CommandCursor() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commandCursor
}

// AdvanceCursor moves the cursor forward to id. Ids at or below the cursor are
// duplicates and return false.
func (s *State) AdvanceCursor(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id <= s.commandCursor {
		return false
	}
	s.commandCursor = id
	return true
}

// ClaimSlot marks slot as liquidated. Only the first claim for a slot succeeds.
func (s *State) ClaimSlot(slot scheduler.Slot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot == "" || s.lastClosedSlot == slot {
		return false
	}
	s.lastClosedSlot = slot
	return true
}

// ReleaseSlot undoes a claim whose pass never reached the venue.
func (s *State) ReleaseSlot(slot scheduler.Slot, previous scheduler.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastClosedSlot == slot {
		s.lastClosedSlot = previous
	}
}

func (s *State) LastClosedSlot() scheduler.Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastClosedSlot
}

// Snapshot is a point-in-time copy for reports and the HTTP status endpoint.
type Snapshot struct {
	Active               bool                   `json:"active"`
	PausedUntilNextCycle bool                   `json:"paused_until_next_cycle"`
	CapitalPerSymbol     float64                `json:"capital_per_symbol"`
	Positions            map[string]market.Side `json:"positions"`
	Targets              map[string]Targets     `json:"targets"`
	CommandCursor        int64                  `json:"command_cursor"`
	LastClosedSlot       scheduler.Slot         `json:"last_closed_slot"`
	CycleSlot            scheduler.Slot         `json:"cycle_slot"`
	ReconciledAt         time.Time              `json:"reconciled_at"`
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Active:               s.active,
		PausedUntilNextCycle: s.pausedUntilNextCycle,
		CapitalPerSymbol:     s.capitalPerSymbol,
		Positions:            maps.Clone(s.positions),
		Targets:              maps.Clone(s.targets),
		CommandCursor:        s.commandCursor,
		LastClosedSlot:       s.lastClosedSlot,
		CycleSlot:            s.cycleSlot,
		ReconciledAt:         s.reconciledAt,
	}
}

func (s *State) inUniverse(symbol string) bool {
	_, ok := s.positions[symbol]
	return ok
}
