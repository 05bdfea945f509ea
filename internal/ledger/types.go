package ledger

import "time"

// Action is a strategy's decision about a position.
type Action string

const (
	ActionOpenLong   Action = "open_long"
	ActionOpenShort  Action = "open_short"
	ActionCloseLong  Action = "close_long"
	ActionCloseShort Action = "close_short"
)

// IsOpen reports whether the action opens a new position.
func (a Action) IsOpen() bool {
	return a == ActionOpenLong || a == ActionOpenShort
}

// Side returns the position side the action refers to.
func (a Action) Side() string {
	switch a {
	case ActionOpenLong, ActionCloseLong:
		return "long"
	case ActionOpenShort, ActionCloseShort:
		return "short"
	}
	return ""
}

type SignalStatus string

const (
	SignalPending  SignalStatus = "pending"
	SignalExecuted SignalStatus = "executed"
	SignalFailed   SignalStatus = "failed"
)

// Signal records a strategy decision independent of order outcome.
// Status transitions exactly once, pending -> executed|failed.
type Signal struct {
	ID        string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Symbol    string             `json:"symbol"`
	Action    Action             `json:"action"`
	Price     float64            `json:"price"` // reference price at decision time
	Size      float64            `json:"size"`
	Rationale string             `json:"rationale"`
	Snapshot  map[string]float64 `json:"snapshot,omitempty"` // indicator values at decision time
	Status    SignalStatus       `json:"status"`
	OrderID   string             `json:"order_id,omitempty"`
	Error     string             `json:"error,omitempty"`
	IsLive    bool               `json:"is_live"`
}

// Position is an open market exposure. EntryPrice and Size are immutable after
// creation; UnrealizedPnL is a derived cache recomputed on every refresh.
type Position struct {
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"` // "long" or "short"
	EntryPrice    float64   `json:"entry_price"`
	Size          float64   `json:"size"`
	StopLoss      float64   `json:"stop_loss"`
	TakeProfit    float64   `json:"take_profit"`
	StopOrderID   string    `json:"stop_order_id,omitempty"`
	TakeOrderID   string    `json:"take_order_id,omitempty"`
	OpenedAt      time.Time `json:"opened_at"`
	MarkPrice     float64   `json:"mark_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	IsLive        bool      `json:"is_live"`

	// Unprotected marks a position whose primary order filled but at least one
	// protective order failed. Requires operator attention, never auto-fixed.
	Unprotected     bool   `json:"unprotected,omitempty"`
	ProtectionError string `json:"protection_error,omitempty"`
}

type ExitReason string

const (
	ExitTakeProfit ExitReason = "take_profit"
	ExitStopLoss   ExitReason = "stop_loss"
	ExitManual     ExitReason = "manual"
	ExitTimeStop   ExitReason = "time_stop"
)

// Trade is the realized record created exactly once when a Position closes.
// Immutable thereafter.
type Trade struct {
	Symbol      string     `json:"symbol"`
	Side        string     `json:"side"`
	EntryPrice  float64    `json:"entry_price"`
	ExitPrice   float64    `json:"exit_price"`
	Size        float64    `json:"size"`
	RealizedPnL float64    `json:"realized_pnl"`
	Fee         float64    `json:"fee"`
	ExitReason  ExitReason `json:"exit_reason"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    time.Time  `json:"closed_at"`
	IsLive      bool       `json:"is_live"`
}

type InstanceStatus string

const (
	InstanceRunning InstanceStatus = "running"
	InstanceStopped InstanceStatus = "stopped"
)

// Instance describes one running strategy worker. One per symbol at a time.
type Instance struct {
	Symbol        string         `json:"symbol"`
	Mode          string         `json:"mode"`
	Interval      string         `json:"interval"`
	IsLive        bool           `json:"is_live"`
	StartedAt     time.Time      `json:"started_at"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
	Status        InstanceStatus `json:"status"`
	StopReason    string         `json:"stop_reason,omitempty"`
}

// Stats are derived strictly from trades/positions of one is_live partition.
type Stats struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	WinRate       float64 `json:"win_rate"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}
