package model

import (
	"gorm.io/datatypes"
)

// ActiveStrategyModel is the durable record of a running strategy worker.
// One row per symbol; the row exists for exactly as long as the worker is
// supposed to be running, so restart recovery is a plain table scan.
type ActiveStrategyModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	Symbol        string         `gorm:"column:symbol;uniqueIndex"`
	Mode          string         `gorm:"column:mode"`
	Interval      string         `gorm:"column:interval"`
	IsLive        bool           `gorm:"column:is_live"`
	ParamsJSON    datatypes.JSON `gorm:"column:params_json;type:TEXT"`
	StartedAtUnix int64          `gorm:"column:started_at"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (ActiveStrategyModel) TableName() string { return "active_strategies" }

// StrategyHistoryModel archives a stopped strategy worker.
type StrategyHistoryModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	Symbol        string         `gorm:"column:symbol;index"`
	Mode          string         `gorm:"column:mode"`
	Interval      string         `gorm:"column:interval"`
	IsLive        bool           `gorm:"column:is_live"`
	ParamsJSON    datatypes.JSON `gorm:"column:params_json;type:TEXT"`
	StartedAtUnix int64          `gorm:"column:started_at"`
	StoppedAtUnix int64          `gorm:"column:stopped_at"`
	StopReason    string         `gorm:"column:stop_reason"`
	FinalPnL      float64        `gorm:"column:final_pnl"`
	TradeCount    int64          `gorm:"column:trade_count"`
}

func (StrategyHistoryModel) TableName() string { return "strategy_history" }

// SignalModel persists every strategy decision, including ones whose orders
// were rejected. SignalID is the ledger's UUID.
type SignalModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	SignalID      string         `gorm:"column:signal_id;uniqueIndex"`
	TimestampMs   int64          `gorm:"column:timestamp_ms;index"`
	Symbol        string         `gorm:"column:symbol;index"`
	Action        string         `gorm:"column:action"`
	Price         float64        `gorm:"column:price"`
	Size          float64        `gorm:"column:size"`
	Rationale     string         `gorm:"column:rationale"`
	SnapshotJSON  datatypes.JSON `gorm:"column:snapshot_json;type:TEXT"`
	Status        string         `gorm:"column:status"`
	OrderID       string         `gorm:"column:order_id"`
	Error         string         `gorm:"column:error"`
	IsLive        bool           `gorm:"column:is_live"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (SignalModel) TableName() string { return "signals" }

// TradeModel is the immutable realized-trade record.
type TradeModel struct {
	ID           int64   `gorm:"column:id;primaryKey"`
	Symbol       string  `gorm:"column:symbol;index"`
	Side         string  `gorm:"column:side"`
	EntryPrice   float64 `gorm:"column:entry_price"`
	ExitPrice    float64 `gorm:"column:exit_price"`
	Size         float64 `gorm:"column:size"`
	RealizedPnL  float64 `gorm:"column:realized_pnl"`
	Fee          float64 `gorm:"column:fee"`
	ExitReason   string  `gorm:"column:exit_reason"`
	OpenedAtUnix int64   `gorm:"column:opened_at"`
	ClosedAtUnix int64   `gorm:"column:closed_at;index"`
	IsLive       bool    `gorm:"column:is_live"`
}

func (TradeModel) TableName() string { return "trades" }
