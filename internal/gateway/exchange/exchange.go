// Package exchange defines a common abstraction for trading venues.
// This allows the execution core to work with different backends (Binance
// futures, the paper simulator) without changing any strategy or order logic.
package exchange

import (
	"context"

	"vela/internal/market"
)

type Gateway interface {
	Name() string

	// GetRecentBars returns up to limit closed OHLCV bars, oldest first.
	GetRecentBars(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)

	GetMarkPrice(ctx context.Context, symbol string) (float64, error)

	SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)

	ListOpenPositions(ctx context.Context) ([]Position, error)

	GetBalance(ctx context.Context) (Balance, error)
}
