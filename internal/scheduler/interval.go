package scheduler

import (
	"strconv"
	"strings"
	"time"
)

// SupportedIntervals lists the candle intervals strategy workers accept.
var SupportedIntervals = []string{"1m", "3m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "12h", "1d"}

// ParseIntervalDuration parses "15m", "1h", "4h", "1d" into time.Duration.
// Returns (0, false) on invalid input.
func ParseIntervalDuration(interval string) (time.Duration, bool) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return 0, false
	}
	unit := interval[len(interval)-1]
	numStr := strings.TrimSpace(interval[:len(interval)-1])
	if numStr == "" {
		return 0, false
	}
	n, err := strconv.Atoi(numStr)
	if err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// IsSupportedInterval reports whether interval is one the exchange serves.
func IsSupportedInterval(interval string) bool {
	interval = strings.ToLower(strings.TrimSpace(interval))
	for _, s := range SupportedIntervals {
		if s == interval {
			return true
		}
	}
	return false
}
