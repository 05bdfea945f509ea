package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"vela/internal/gateway/exchange"
	"vela/internal/ledger"
	"vela/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Name() string { return "mock" }

func (m *mockGateway) GetRecentBars(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	args := m.Called(ctx, symbol, interval, limit)
	return args.Get(0).([]market.Candle), args.Error(1)
}

func (m *mockGateway) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockGateway) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*exchange.OrderResult), args.Error(1)
}

func (m *mockGateway) ListOpenPositions(ctx context.Context) ([]exchange.Position, error) {
	args := m.Called(ctx)
	return args.Get(0).([]exchange.Position), args.Error(1)
}

func (m *mockGateway) GetBalance(ctx context.Context) (exchange.Balance, error) {
	args := m.Called(ctx)
	return args.Get(0).(exchange.Balance), args.Error(1)
}

func testConfig() Config {
	return Config{
		MinNotionalUSD: 100,
		MaxNotionalUSD: 10000,
		TakerFeeRate:   0.0005,
		StopLossPct:    0.01,
		TakeProfitPct:  0.02,
		SizePrecision:  3,
		OrderTimeout:   time.Second,
	}
}

func openSignal(action ledger.Action) ledger.Signal {
	return ledger.Signal{
		ID:     "sig-1",
		Symbol: "BTC/USDT",
		Action: action,
		Price:  97000,
		Size:   0.01,
	}
}

func matchOrder(orderType, side string) interface{} {
	return mock.MatchedBy(func(req exchange.OrderRequest) bool {
		return req.Type == orderType && req.Side == side
	})
}

func TestExecuteOpenPlacesBracket(t *testing.T) {
	gw := &mockGateway{}
	gw.On("SubmitOrder", mock.Anything, matchOrder(exchange.TypeMarket, exchange.SideBuy)).
		Return(&exchange.OrderResult{OrderID: "p1", FillPrice: 97005, FillSize: 0.01, Fee: 0.485, Status: "FILLED"}, nil).Once()
	gw.On("SubmitOrder", mock.Anything, matchOrder(exchange.TypeStopMarket, exchange.SideSell)).
		Return(&exchange.OrderResult{OrderID: "sl1", Status: "NEW"}, nil).Once()
	gw.On("SubmitOrder", mock.Anything, matchOrder(exchange.TypeTakeProfit, exchange.SideSell)).
		Return(&exchange.OrderResult{OrderID: "tp1", Status: "NEW"}, nil).Once()

	exec := New(gw, testConfig())
	res, err := exec.ExecuteOpen(context.Background(), openSignal(ledger.ActionOpenLong))
	require.NoError(t, err)

	assert.Equal(t, "p1", res.OrderID)
	assert.Equal(t, 97005.0, res.FillPrice)
	assert.Equal(t, "sl1", res.StopOrderID)
	assert.Equal(t, "tp1", res.TakeOrderID)
	assert.False(t, res.Unprotected)
	assert.InDelta(t, 97005*0.99, res.StopLoss, 1e-6)
	assert.InDelta(t, 97005*1.02, res.TakeProfit, 1e-6)
	gw.AssertExpectations(t)
}

func TestExecuteOpenShortInvertsLevels(t *testing.T) {
	gw := &mockGateway{}
	gw.On("SubmitOrder", mock.Anything, matchOrder(exchange.TypeMarket, exchange.SideSell)).
		Return(&exchange.OrderResult{OrderID: "p1", FillPrice: 3000, FillSize: 0.1, Status: "FILLED"}, nil).Once()
	gw.On("SubmitOrder", mock.Anything, matchOrder(exchange.TypeStopMarket, exchange.SideBuy)).
		Return(&exchange.OrderResult{OrderID: "sl1", Status: "NEW"}, nil).Once()
	gw.On("SubmitOrder", mock.Anything, matchOrder(exchange.TypeTakeProfit, exchange.SideBuy)).
		Return(&exchange.OrderResult{OrderID: "tp1", Status: "NEW"}, nil).Once()

	exec := New(gw, testConfig())
	res, err := exec.ExecuteOpen(context.Background(), openSignal(ledger.ActionOpenShort))
	require.NoError(t, err)

	assert.InDelta(t, 3000*1.01, res.StopLoss, 1e-6)
	assert.InDelta(t, 3000*0.98, res.TakeProfit, 1e-6)
}

func TestExecuteOpenPrimaryFailure(t *testing.T) {
	gw := &mockGateway{}
	gw.On("SubmitOrder", mock.Anything, matchOrder(exchange.TypeMarket, exchange.SideBuy)).
		Return(nil, errors.New("insufficient margin")).Once()

	exec := New(gw, testConfig())
	res, err := exec.ExecuteOpen(context.Background(), openSignal(ledger.ActionOpenLong))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "insufficient margin")
	// No protective orders attempted after primary rejection.
	gw.AssertNumberOfCalls(t, "SubmitOrder", 1)
}

func TestExecuteOpenPartialProtection(t *testing.T) {
	gw := &mockGateway{}
	gw.On("SubmitOrder", mock.Anything, matchOrder(exchange.TypeMarket, exchange.SideBuy)).
		Return(&exchange.OrderResult{OrderID: "p1", FillPrice: 97005, FillSize: 0.01, Status: "FILLED"}, nil).Once()
	gw.On("SubmitOrder", mock.Anything, matchOrder(exchange.TypeStopMarket, exchange.SideSell)).
		Return(nil, errors.New("would trigger immediately")).Once()
	gw.On("SubmitOrder", mock.Anything, matchOrder(exchange.TypeTakeProfit, exchange.SideSell)).
		Return(&exchange.OrderResult{OrderID: "tp1", Status: "NEW"}, nil).Once()

	exec := New(gw, testConfig())
	res, err := exec.ExecuteOpen(context.Background(), openSignal(ledger.ActionOpenLong))
	require.NoError(t, err, "position is open, partial protection is not an execution error")

	assert.True(t, res.Unprotected)
	assert.Empty(t, res.StopOrderID)
	assert.Equal(t, "tp1", res.TakeOrderID, "surviving leg is kept")
	assert.Contains(t, res.ProtectionError, "stop_loss failed")
	assert.Contains(t, res.ProtectionError, "would trigger immediately")
	gw.AssertExpectations(t)
}

func TestExecuteOpenBothLegsFail(t *testing.T) {
	gw := &mockGateway{}
	gw.On("SubmitOrder", mock.Anything, matchOrder(exchange.TypeMarket, exchange.SideBuy)).
		Return(&exchange.OrderResult{OrderID: "p1", FillPrice: 97005, FillSize: 0.01, Status: "FILLED"}, nil).Once()
	gw.On("SubmitOrder", mock.Anything, matchOrder(exchange.TypeStopMarket, exchange.SideSell)).
		Return(nil, errors.New("sl down")).Once()
	gw.On("SubmitOrder", mock.Anything, matchOrder(exchange.TypeTakeProfit, exchange.SideSell)).
		Return(nil, errors.New("tp down")).Once()

	exec := New(gw, testConfig())
	res, err := exec.ExecuteOpen(context.Background(), openSignal(ledger.ActionOpenLong))
	require.NoError(t, err)

	assert.True(t, res.Unprotected)
	assert.Contains(t, res.ProtectionError, "sl down")
	assert.Contains(t, res.ProtectionError, "tp down")
}

func TestExecuteOpenEstimatesFeeWhenUnreported(t *testing.T) {
	gw := &mockGateway{}
	gw.On("SubmitOrder", mock.Anything, matchOrder(exchange.TypeMarket, exchange.SideBuy)).
		Return(&exchange.OrderResult{OrderID: "p1", FillPrice: 98000, FillSize: 0.01, Status: "FILLED"}, nil).Once()
	gw.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(&exchange.OrderResult{OrderID: "x", Status: "NEW"}, nil).Twice()

	exec := New(gw, testConfig())
	res, err := exec.ExecuteOpen(context.Background(), openSignal(ledger.ActionOpenLong))
	require.NoError(t, err)
	assert.InDelta(t, 0.49, res.Fee, 1e-9)
}

func TestExecuteClose(t *testing.T) {
	gw := &mockGateway{}
	gw.On("SubmitOrder", mock.Anything, mock.MatchedBy(func(req exchange.OrderRequest) bool {
		return req.Type == exchange.TypeMarket && req.Side == exchange.SideSell && req.ReduceOnly
	})).Return(&exchange.OrderResult{OrderID: "c1", FillPrice: 98500, FillSize: 0.01, Fee: 0.4925, Status: "FILLED"}, nil).Once()

	exec := New(gw, testConfig())
	sig := openSignal(ledger.ActionCloseLong)
	res, err := exec.ExecuteClose(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, "c1", res.OrderID)
	assert.Equal(t, 98500.0, res.FillPrice)
	gw.AssertExpectations(t)
}

func TestExecuteCloseRejectsOpenAction(t *testing.T) {
	exec := New(&mockGateway{}, testConfig())
	_, err := exec.ExecuteClose(context.Background(), openSignal(ledger.ActionOpenLong))
	assert.Error(t, err)
}

func TestProtectReplacesOnlyMissingLegs(t *testing.T) {
	gw := &mockGateway{}
	gw.On("SubmitOrder", mock.Anything, matchOrder(exchange.TypeStopMarket, exchange.SideSell)).
		Return(&exchange.OrderResult{OrderID: "sl2", Status: "NEW"}, nil).Once()

	exec := New(gw, testConfig())
	pos := ledger.Position{
		Symbol:      "BTC/USDT",
		Side:        "long",
		Size:        0.01,
		EntryPrice:  97000,
		TakeOrderID: "tp1",
	}
	prot := exec.Protect(context.Background(), pos)
	assert.Equal(t, "sl2", prot.StopOrderID)
	assert.InDelta(t, 97000*0.99, prot.StopLoss, 1e-6)
	assert.Empty(t, prot.TakeOrderID, "existing take-profit leg is left alone")
	assert.Empty(t, prot.ErrDetail)
	gw.AssertNumberOfCalls(t, "SubmitOrder", 1)
}

func TestSizeForClampsNotional(t *testing.T) {
	exec := New(&mockGateway{}, testConfig())
	// 50 USD is below the 100 USD floor; size is computed from the floor.
	size := exec.SizeFor(50, 100000)
	assert.Equal(t, 0.001, size)
}
