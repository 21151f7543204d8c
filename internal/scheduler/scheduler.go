// Package scheduler computes trading cycle boundaries, the liquidation lockout
// window that precedes each boundary, and the slot id naming a cycle.
package scheduler

import (
	"time"

	"github.com/pkg/errors"
)

const day = 24 * time.Hour

// ErrInvalidSchedule is returned by New for a period or lockout that cannot
// form a daily cycle.
var ErrInvalidSchedule = errors.New("invalid schedule")

// Slot identifies a cycle by the UTC date and hour of its start, e.g.
// "2026-10-19T12". The empty slot means none.
type Slot string

const slotLayout = "2006-01-02T15"

// Scheduler is immutable and safe for concurrent use.
type Scheduler struct {
	period  time.Duration
	lockout time.Duration
}

// New validates that period divides a day and that lockout fits inside it.
func New(period, lockout time.Duration) (*Scheduler, error) {
	if period <= 0 || day%period != 0 {
		return nil, errors.Wrapf(ErrInvalidSchedule, "cycle period %s must evenly divide 24h", period)
	}
	if period%time.Hour != 0 {
		return nil, errors.Wrapf(ErrInvalidSchedule, "cycle period %s must be a whole number of hours", period)
	}
	if lockout <= 0 || lockout >= period {
		return nil, errors.Wrapf(ErrInvalidSchedule, "lockout %s must be positive and shorter than the cycle period %s", lockout, period)
	}
	return &Scheduler{period: period, lockout: lockout}, nil
}

func (s *Scheduler) Period() time.Duration  { return s.period }
func (s *Scheduler) Lockout() time.Duration { return s.lockout }

// CycleStart returns the start of the cycle containing now.
func (s *Scheduler) CycleStart(now time.Time) time.Time {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	n := now.Sub(midnight) / s.period
	return midnight.Add(n * s.period)
}

// NextBoundary returns the first cycle boundary strictly after now.
func (s *Scheduler) NextBoundary(now time.Time) time.Time {
	return s.CycleStart(now).Add(s.period)
}

// LockoutStart returns when the lockout before the next boundary begins.
func (s *Scheduler) LockoutStart(now time.Time) time.Time {
	return s.NextBoundary(now).Add(-s.lockout)
}

// IsInLockout reports whether now falls in [NextBoundary-lockout, NextBoundary).
func (s *Scheduler) IsInLockout(now time.Time) bool {
	return !now.Before(s.LockoutStart(now))
}

// CurrentSlot names the cycle containing now.
func (s *Scheduler) CurrentSlot(now time.Time) Slot {
	return Slot(s.CycleStart(now).Format(slotLayout))
}

// SlotStart parses a slot back into its cycle start.
func SlotStart(slot Slot) (time.Time, error) {
	return time.ParseInLocation(slotLayout, string(slot), time.UTC)
}
