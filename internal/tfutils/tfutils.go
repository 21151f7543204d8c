package tfutils

import (
	"errors"
	"fmt"
	"time"
)

var errUnsupported = errors.New("unsupported timeframe")

// ParseTimeframe parses timeframe string (e.g., "5m", "12h") to time.Duration
func ParseTimeframe(timeframe string) (time.Duration, error) {
	d := GetTimeframeDuration(timeframe)
	if d == 0 {
		return 0, fmt.Errorf("%w: %q", errUnsupported, timeframe)
	}
	return d, nil
}

// GetTimeframeDuration returns the duration for a given timeframe
func GetTimeframeDuration(timeframe string) time.Duration {
	switch timeframe {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "2h":
		return 2 * time.Hour
	case "4h":
		return 4 * time.Hour
	case "6h":
		return 6 * time.Hour
	case "8h":
		return 8 * time.Hour
	case "12h":
		return 12 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return 0
	}
}

// GetSupportedTimeframes returns all supported timeframes
func GetSupportedTimeframes() []string {
	return []string{"1m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "8h", "12h", "1d"}
}

// IsValidTimeframe checks if a timeframe is supported
func IsValidTimeframe(timeframe string) bool {
	return GetTimeframeDuration(timeframe) > 0
}

// AlignsToDay reports whether cycles of this timeframe start at UTC midnight
// every day, i.e. the duration divides 24h.
func AlignsToDay(timeframe string) bool {
	d := GetTimeframeDuration(timeframe)
	return d > 0 && (24*time.Hour)%d == 0
}
