// Package paper implements exchange.Gateway as an instant-fill simulator.
// Market data is delegated to a real gateway; orders fill at the current mark
// price with the configured taker fee. It backs paper-mode strategies so the
// simulated and live ledgers exercise the same execution path.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vela/internal/gateway/exchange"
	"vela/internal/market"
	"vela/internal/pkg/trading"

	"github.com/google/uuid"
)

type Gateway struct {
	data    exchange.Gateway // read-only market data delegate
	feeRate float64

	mu        sync.Mutex
	balance   float64
	positions map[string]*exchange.Position
}

func New(data exchange.Gateway, startingBalance, takerFeeRate float64) *Gateway {
	return &Gateway{
		data:      data,
		feeRate:   takerFeeRate,
		balance:   startingBalance,
		positions: make(map[string]*exchange.Position),
	}
}

func (g *Gateway) Name() string { return "paper" }

func (g *Gateway) GetRecentBars(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	return g.data.GetRecentBars(ctx, symbol, interval, limit)
}

func (g *Gateway) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	return g.data.GetMarkPrice(ctx, symbol)
}

// SubmitOrder fills market orders immediately at the current mark price.
// Protective orders are acknowledged with a synthetic ID; the simulator does
// not model their triggering, the runner's exit logic closes positions.
func (g *Gateway) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	if req.Size <= 0 {
		return nil, fmt.Errorf("paper: size must be positive")
	}

	if req.Type == exchange.TypeStopMarket || req.Type == exchange.TypeTakeProfit {
		return &exchange.OrderResult{
			OrderID: "paper-" + uuid.NewString(),
			Status:  "NEW",
		}, nil
	}

	price, err := g.data.GetMarkPrice(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("paper: mark price for fill: %w", err)
	}
	fee := trading.EstimateFee(price, req.Size, g.feeRate)

	g.mu.Lock()
	defer g.mu.Unlock()

	if req.ReduceOnly {
		g.reduce(req.Symbol, req.Size, price, fee)
	} else {
		g.open(req, price)
	}
	g.balance -= fee

	return &exchange.OrderResult{
		OrderID:   "paper-" + uuid.NewString(),
		FillPrice: price,
		FillSize:  req.Size,
		Fee:       fee,
		Status:    "FILLED",
	}, nil
}

func (g *Gateway) open(req exchange.OrderRequest, price float64) {
	side := "long"
	if req.Side == exchange.SideSell {
		side = "short"
	}
	g.positions[req.Symbol] = &exchange.Position{
		Symbol:     req.Symbol,
		Side:       side,
		Size:       req.Size,
		EntryPrice: price,
		MarkPrice:  price,
		UpdatedAt:  time.Now(),
	}
}

func (g *Gateway) reduce(symbol string, size, price, fee float64) {
	pos, ok := g.positions[symbol]
	if !ok {
		return
	}
	g.balance += trading.RealizedPnL(pos.Side, pos.EntryPrice, price, size, 0)
	if size >= pos.Size {
		delete(g.positions, symbol)
		return
	}
	pos.Size -= size
}

func (g *Gateway) ListOpenPositions(ctx context.Context) ([]exchange.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]exchange.Position, 0, len(g.positions))
	for _, p := range g.positions {
		out = append(out, *p)
	}
	return out, nil
}

func (g *Gateway) GetBalance(ctx context.Context) (exchange.Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return exchange.Balance{
		Asset:     "USDT",
		Total:     g.balance,
		Available: g.balance,
		UpdatedAt: time.Now(),
	}, nil
}
