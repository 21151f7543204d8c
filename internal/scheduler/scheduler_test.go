package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func newTwelveHour(t *testing.T) *Scheduler {
	s, err := New(12*time.Hour, 10*time.Minute)
	require.NoError(t, err)
	return s
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		period  time.Duration
		lockout time.Duration
		wantErr bool
	}{
		{"12h ok", 12 * time.Hour, 10 * time.Minute, false},
		{"1d ok", 24 * time.Hour, time.Hour, false},
		{"7h does not divide a day", 7 * time.Hour, time.Minute, true},
		{"sub-hour period", 30 * time.Minute, time.Minute, true},
		{"zero lockout", 12 * time.Hour, 0, true},
		{"lockout as long as period", 12 * time.Hour, 12 * time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.period, tt.lockout)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSchedule)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNextBoundary(t *testing.T) {
	s := newTwelveHour(t)

	assert.Equal(t, at("2026-10-19T12:00:00Z"), s.NextBoundary(at("2026-10-19T03:15:00Z")))
	assert.Equal(t, at("2026-10-20T00:00:00Z"), s.NextBoundary(at("2026-10-19T12:00:00Z")))
	assert.Equal(t, at("2026-10-20T00:00:00Z"), s.NextBoundary(at("2026-10-19T23:59:59Z")))
	// boundary itself belongs to the new cycle
	assert.Equal(t, at("2026-10-19T12:00:00Z"), s.NextBoundary(at("2026-10-19T00:00:00Z")))
}

func TestNextBoundary_NonUTCInput(t *testing.T) {
	s := newTwelveHour(t)
	seoul := time.FixedZone("KST", 9*3600)

	now := time.Date(2026, 10, 19, 20, 55, 0, 0, seoul) // 11:55 UTC
	assert.Equal(t, at("2026-10-19T12:00:00Z"), s.NextBoundary(now))
	assert.True(t, s.IsInLockout(now))
}

func TestIsInLockout(t *testing.T) {
	s := newTwelveHour(t)

	assert.False(t, s.IsInLockout(at("2026-10-19T11:49:59Z")))
	assert.True(t, s.IsInLockout(at("2026-10-19T11:50:00Z")))
	assert.True(t, s.IsInLockout(at("2026-10-19T11:59:59Z")))
	assert.False(t, s.IsInLockout(at("2026-10-19T12:00:00Z")))
	assert.True(t, s.IsInLockout(at("2026-10-19T23:55:00Z")))
}

func TestCurrentSlot(t *testing.T) {
	s := newTwelveHour(t)

	assert.Equal(t, Slot("2026-10-19T00"), s.CurrentSlot(at("2026-10-19T11:55:00Z")))
	assert.Equal(t, Slot("2026-10-19T12"), s.CurrentSlot(at("2026-10-19T12:00:00Z")))
	assert.Equal(t, Slot("2026-10-19T12"), s.CurrentSlot(at("2026-10-19T23:59:00Z")))

	start, err := SlotStart(s.CurrentSlot(at("2026-10-19T13:00:00Z")))
	require.NoError(t, err)
	assert.Equal(t, at("2026-10-19T12:00:00Z"), start)
}
