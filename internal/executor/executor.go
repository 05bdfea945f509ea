// Package executor converts approved signals into exchange orders. Opening
// signals place the primary market order first, then both protective orders
// concurrently to keep the unprotected window as short as possible. Nothing
// here retries: a rejected order surfaces verbatim and the decision belongs
// to the runner or the operator.
package executor

import (
	"context"
	"fmt"
	"time"

	"vela/internal/gateway/exchange"
	"vela/internal/ledger"
	"vela/internal/logger"
	"vela/internal/pkg/trading"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	MinNotionalUSD float64
	MaxNotionalUSD float64
	TakerFeeRate   float64
	StopLossPct    float64
	TakeProfitPct  float64
	SizePrecision  int32
	OrderTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	final := c
	if final.OrderTimeout <= 0 {
		final.OrderTimeout = 30 * time.Second
	}
	return final
}

// Result reports the outcome of executing an opening signal. When a
// protective leg fails the position is live but unprotected: Unprotected is
// set and the failed leg's error is preserved.
type Result struct {
	OrderID   string
	FillPrice float64
	FillSize  float64
	Fee       float64

	StopLoss    float64
	TakeProfit  float64
	StopOrderID string
	TakeOrderID string

	Unprotected     bool
	ProtectionError string
}

// CloseResult reports the outcome of a closing signal.
type CloseResult struct {
	OrderID   string
	FillPrice float64
	FillSize  float64
	Fee       float64
}

type Executor struct {
	gw  exchange.Gateway
	cfg Config
}

func New(gw exchange.Gateway, cfg Config) *Executor {
	return &Executor{gw: gw, cfg: cfg.withDefaults()}
}

// SizeFor converts the configured notional to a base size at the reference
// price, after clamping the notional to the allowed range.
func (e *Executor) SizeFor(notional, price float64) float64 {
	clamped := trading.ClampNotional(notional, e.cfg.MinNotionalUSD, e.cfg.MaxNotionalUSD)
	return trading.SizeForNotional(clamped, price, e.cfg.SizePrecision)
}

// FeeFor estimates the taker fee for a fill at the configured rate.
func (e *Executor) FeeFor(price, size float64) float64 {
	return trading.EstimateFee(price, size, e.cfg.TakerFeeRate)
}

// ExecuteOpen submits the primary order for an opening signal, then places
// stop-loss and take-profit concurrently. A primary failure returns an error
// and nothing else happens; a protective failure returns a Result describing
// the unprotected state.
func (e *Executor) ExecuteOpen(ctx context.Context, sig ledger.Signal) (*Result, error) {
	if !sig.Action.IsOpen() {
		return nil, fmt.Errorf("executor: %s is not an opening action", sig.Action)
	}
	side := exchange.SideBuy
	if sig.Action == ledger.ActionOpenShort {
		side = exchange.SideSell
	}

	orderCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	defer cancel()
	primary, err := e.gw.SubmitOrder(orderCtx, exchange.OrderRequest{
		Symbol: sig.Symbol,
		Side:   side,
		Type:   exchange.TypeMarket,
		Size:   sig.Size,
	})
	if err != nil {
		return nil, fmt.Errorf("primary order rejected: %w", err)
	}

	fillPrice := primary.FillPrice
	if fillPrice <= 0 {
		fillPrice = sig.Price
	}
	fillSize := primary.FillSize
	if fillSize <= 0 {
		fillSize = sig.Size
	}
	fee := primary.Fee
	if fee <= 0 {
		fee = trading.EstimateFee(fillPrice, fillSize, e.cfg.TakerFeeRate)
	}

	res := &Result{
		OrderID:   primary.OrderID,
		FillPrice: fillPrice,
		FillSize:  fillSize,
		Fee:       fee,
	}
	res.StopLoss, res.TakeProfit = e.protectionLevels(sig.Action.Side(), fillPrice)

	stopID, takeID, protErr := e.placeProtection(ctx, sig.Symbol, sig.Action.Side(), fillSize, res.StopLoss, res.TakeProfit)
	res.StopOrderID = stopID
	res.TakeOrderID = takeID
	if protErr != "" {
		res.Unprotected = true
		res.ProtectionError = protErr
		logger.Errorf("executor: %s position on %s is UNPROTECTED: %s", sig.Action.Side(), sig.Symbol, protErr)
	}
	return res, nil
}

// protectionLevels derives stop/take prices from the fill.
func (e *Executor) protectionLevels(side string, fillPrice float64) (stopLoss, takeProfit float64) {
	if side == "short" {
		return fillPrice * (1 + e.cfg.StopLossPct), fillPrice * (1 - e.cfg.TakeProfitPct)
	}
	return fillPrice * (1 - e.cfg.StopLossPct), fillPrice * (1 + e.cfg.TakeProfitPct)
}

// placeProtection submits both protective orders in parallel and waits for
// both. The legs never cancel each other: a failed stop must not abort an
// in-flight take-profit.
func (e *Executor) placeProtection(ctx context.Context, symbol, posSide string, size, stopLoss, takeProfit float64) (stopID, takeID string, errDetail string) {
	closeSide := exchange.SideSell
	if posSide == "short" {
		closeSide = exchange.SideBuy
	}

	var stopErr, takeErr error
	var g errgroup.Group
	g.Go(func() error {
		orderCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
		defer cancel()
		res, err := e.gw.SubmitOrder(orderCtx, exchange.OrderRequest{
			Symbol:     symbol,
			Side:       closeSide,
			Type:       exchange.TypeStopMarket,
			Size:       size,
			StopPrice:  stopLoss,
			ReduceOnly: true,
		})
		if err != nil {
			stopErr = err
			return nil
		}
		stopID = res.OrderID
		return nil
	})
	g.Go(func() error {
		orderCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
		defer cancel()
		res, err := e.gw.SubmitOrder(orderCtx, exchange.OrderRequest{
			Symbol:     symbol,
			Side:       closeSide,
			Type:       exchange.TypeTakeProfit,
			Size:       size,
			StopPrice:  takeProfit,
			ReduceOnly: true,
		})
		if err != nil {
			takeErr = err
			return nil
		}
		takeID = res.OrderID
		return nil
	})
	_ = g.Wait()

	switch {
	case stopErr != nil && takeErr != nil:
		errDetail = fmt.Sprintf("stop_loss failed: %v; take_profit failed: %v", stopErr, takeErr)
	case stopErr != nil:
		errDetail = fmt.Sprintf("stop_loss failed: %v", stopErr)
	case takeErr != nil:
		errDetail = fmt.Sprintf("take_profit failed: %v", takeErr)
	}
	return stopID, takeID, errDetail
}

// Protection is the outcome of a remediation attempt. Levels are zero for
// legs that were already in place and left alone.
type Protection struct {
	StopLoss    float64
	TakeProfit  float64
	StopOrderID string
	TakeOrderID string
	ErrDetail   string
}

// Protect re-places missing protective orders for an open position. Used by
// the operator remediation endpoint; levels are derived from the entry
// price because the original fill is long gone.
func (e *Executor) Protect(ctx context.Context, pos ledger.Position) Protection {
	stopLoss, takeProfit := e.protectionLevels(pos.Side, pos.EntryPrice)
	if pos.StopOrderID != "" {
		stopLoss = 0
	}
	if pos.TakeOrderID != "" {
		takeProfit = 0
	}
	return e.placeMissing(ctx, pos, stopLoss, takeProfit)
}

func (e *Executor) placeMissing(ctx context.Context, pos ledger.Position, stopLoss, takeProfit float64) Protection {
	closeSide := exchange.SideSell
	if pos.Side == "short" {
		closeSide = exchange.SideBuy
	}
	submit := func(orderType string, trigger float64) (string, error) {
		orderCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
		defer cancel()
		res, err := e.gw.SubmitOrder(orderCtx, exchange.OrderRequest{
			Symbol:     pos.Symbol,
			Side:       closeSide,
			Type:       orderType,
			Size:       pos.Size,
			StopPrice:  trigger,
			ReduceOnly: true,
		})
		if err != nil {
			return "", err
		}
		return res.OrderID, nil
	}
	var out Protection
	if stopLoss > 0 {
		id, err := submit(exchange.TypeStopMarket, stopLoss)
		if err != nil {
			out.ErrDetail = fmt.Sprintf("stop_loss failed: %v", err)
		} else {
			out.StopLoss = stopLoss
			out.StopOrderID = id
		}
	}
	if takeProfit > 0 {
		id, err := submit(exchange.TypeTakeProfit, takeProfit)
		if err != nil {
			if out.ErrDetail != "" {
				out.ErrDetail += "; "
			}
			out.ErrDetail += fmt.Sprintf("take_profit failed: %v", err)
		} else {
			out.TakeProfit = takeProfit
			out.TakeOrderID = id
		}
	}
	return out
}

// ExecuteClose submits a reduce-only market order for a closing signal.
func (e *Executor) ExecuteClose(ctx context.Context, sig ledger.Signal) (*CloseResult, error) {
	if sig.Action.IsOpen() {
		return nil, fmt.Errorf("executor: %s is not a closing action", sig.Action)
	}
	side := exchange.SideSell
	if sig.Action == ledger.ActionCloseShort {
		side = exchange.SideBuy
	}

	orderCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	defer cancel()
	res, err := e.gw.SubmitOrder(orderCtx, exchange.OrderRequest{
		Symbol:     sig.Symbol,
		Side:       side,
		Type:       exchange.TypeMarket,
		Size:       sig.Size,
		ReduceOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("close order rejected: %w", err)
	}
	fillPrice := res.FillPrice
	if fillPrice <= 0 {
		fillPrice = sig.Price
	}
	fillSize := res.FillSize
	if fillSize <= 0 {
		fillSize = sig.Size
	}
	fee := res.Fee
	if fee <= 0 {
		fee = trading.EstimateFee(fillPrice, fillSize, e.cfg.TakerFeeRate)
	}
	return &CloseResult{
		OrderID:   res.OrderID,
		FillPrice: fillPrice,
		FillSize:  fillSize,
		Fee:       fee,
	}, nil
}
