package store

import (
	"context"

	"vela/internal/store/model"
)

// UnitOfWork defines a transaction scope.
type UnitOfWork interface {
	// Commit commits the transaction.
	Commit() error
	// Rollback rolls back the transaction.
	Rollback() error

	// Strategies returns the active-strategy repository within this transaction.
	Strategies() StrategyRepository
	// Signals returns the signal repository within this transaction.
	Signals() SignalRepository
	// Trades returns the trade repository within this transaction.
	Trades() TradeRepository
}

// Store is the entry point for database access.
type Store interface {
	// Begin starts a new UnitOfWork (transaction).
	Begin(ctx context.Context) (UnitOfWork, error)
	// Close closes the store connection.
	Close() error
}

// StrategyRepository handles active-strategy persistence and archival.
type StrategyRepository interface {
	Save(ctx context.Context, strategy *model.ActiveStrategyModel) error
	FindBySymbol(ctx context.Context, symbol string) (*model.ActiveStrategyModel, error)
	ListActive(ctx context.Context) ([]model.ActiveStrategyModel, error)
	// Archive removes the active row for symbol and inserts a history row.
	// Must be called inside a transaction so stop is all-or-nothing.
	Archive(ctx context.Context, symbol, stopReason string, stoppedAtUnix int64) error
	ListHistory(ctx context.Context, limit int) ([]model.StrategyHistoryModel, error)
}

// SignalRepository handles signal persistence.
type SignalRepository interface {
	Append(ctx context.Context, sig *model.SignalModel) error
	UpdateStatus(ctx context.Context, signalID, status, orderID, errMsg string) error
	ListRecent(ctx context.Context, isLive bool, limit int) ([]model.SignalModel, error)
}

// TradeRepository handles realized-trade persistence.
type TradeRepository interface {
	Append(ctx context.Context, trade *model.TradeModel) error
	ListRecent(ctx context.Context, isLive bool, limit int) ([]model.TradeModel, error)
	ListAll(ctx context.Context, isLive bool) ([]model.TradeModel, error)
}
