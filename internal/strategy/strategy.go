// Package strategy holds the closed set of decision functions a runner can
// execute. A strategy sees the candle buffer and the current position state
// and returns either nil (no action) or a decision with its rationale and an
// indicator snapshot for the audit trail.
package strategy

import (
	"time"

	"vela/internal/ledger"
	"vela/internal/market"
)

// PositionState is the runner's view of its own open position, passed to the
// decision function each tick.
type PositionState struct {
	Open       bool
	Side       string
	EntryPrice float64
	OpenedAt   time.Time
}

// Decision is a strategy's requested action. ExitReason is only meaningful
// for close actions.
type Decision struct {
	Action     ledger.Action
	Rationale  string
	Snapshot   map[string]float64
	ExitReason ledger.ExitReason
}

type Strategy interface {
	Name() string

	// MinBars is the number of buffered candles required before the
	// strategy produces decisions (the warming threshold).
	MinBars() int

	Decide(candles []market.Candle, pos PositionState) *Decision
}

func closes(candles []market.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// timeStop returns a close decision when the position exceeded maxHold.
func timeStop(pos PositionState, maxHold time.Duration) *Decision {
	if !pos.Open || maxHold <= 0 || time.Since(pos.OpenedAt) < maxHold {
		return nil
	}
	action := ledger.ActionCloseLong
	if pos.Side == "short" {
		action = ledger.ActionCloseShort
	}
	return &Decision{
		Action:     action,
		Rationale:  "max holding time reached",
		ExitReason: ledger.ExitTimeStop,
	}
}
