package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"vela/internal/executor"
	"vela/internal/gateway/exchange"
	"vela/internal/ledger"
	"vela/internal/market"
	"vela/internal/scheduler"
	"vela/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	bars      func() ([]market.Candle, error)
	mark      func() (float64, error)
	submit    func(req exchange.OrderRequest) (*exchange.OrderResult, error)
	positions func() ([]exchange.Position, error)
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) GetRecentBars(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	return g.bars()
}

func (g *fakeGateway) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	if g.mark == nil {
		return 0, errors.New("no mark")
	}
	return g.mark()
}

func (g *fakeGateway) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	return g.submit(req)
}

func (g *fakeGateway) ListOpenPositions(ctx context.Context) ([]exchange.Position, error) {
	if g.positions == nil {
		return nil, nil
	}
	return g.positions()
}

func (g *fakeGateway) GetBalance(ctx context.Context) (exchange.Balance, error) {
	return exchange.Balance{}, nil
}

type fakeNotifier struct {
	msgs []string
}

func (n *fakeNotifier) Notify(text string) { n.msgs = append(n.msgs, text) }

type fakeRecorder struct {
	signals  []ledger.Signal
	outcomes []ledger.Signal
	trades   []ledger.Trade
}

func (r *fakeRecorder) RecordSignal(ctx context.Context, sig ledger.Signal) {
	r.signals = append(r.signals, sig)
}

func (r *fakeRecorder) RecordSignalOutcome(ctx context.Context, sig ledger.Signal) {
	r.outcomes = append(r.outcomes, sig)
}

func (r *fakeRecorder) RecordTrade(ctx context.Context, trade ledger.Trade) {
	r.trades = append(r.trades, trade)
}

// stubStrategy returns a scripted decision once, then nil.
type stubStrategy struct {
	minBars  int
	decision *strategy.Decision
}

func (s *stubStrategy) Name() string { return "stub" }

func (s *stubStrategy) MinBars() int { return s.minBars }

func (s *stubStrategy) Decide(candles []market.Candle, pos strategy.PositionState) *strategy.Decision {
	d := s.decision
	s.decision = nil
	return d
}

func candles(n int, close float64) []market.Candle {
	out := make([]market.Candle, n)
	base := time.Now().Add(-time.Duration(n) * time.Minute).Truncate(time.Minute)
	for i := range out {
		open := base.Add(time.Duration(i) * time.Minute)
		out[i] = market.Candle{
			OpenTime:  open.UnixMilli(),
			CloseTime: open.Add(time.Minute).UnixMilli() - 1,
			Open:      close, High: close, Low: close, Close: close,
			Volume: 1,
		}
	}
	return out
}

func newTestRunner(t *testing.T, gw *fakeGateway, spec scheduler.Spec) (*Runner, *ledger.Ledger, *fakeRecorder) {
	t.Helper()
	if spec.Symbol == "" {
		spec = scheduler.Spec{Symbol: "BTC/USDT", Mode: "scalp", Interval: "1m"}
	}
	led := ledger.New()
	led.RegisterInstance(ledger.Instance{
		Symbol: spec.Symbol, Mode: spec.Mode, Interval: spec.Interval,
		IsLive: spec.IsLive, StartedAt: time.Now(), Status: ledger.InstanceRunning,
	})
	rec := &fakeRecorder{}
	exec := executor.New(gw, executor.Config{
		MinNotionalUSD: 10, MaxNotionalUSD: 100000,
		TakerFeeRate: 0.0005, StopLossPct: 0.01, TakeProfitPct: 0.02,
		SizePrecision: 4, OrderTimeout: time.Second,
	})
	r, err := New(spec, gw, exec, led, rec, nil, nil, Config{
		WarmupBars: 10, MaxCachedBars: 50, NotionalUSD: 1000,
	})
	require.NoError(t, err)
	return r, led, rec
}

func TestTickStaysWarmingBelowMinBars(t *testing.T) {
	gw := &fakeGateway{bars: func() ([]market.Candle, error) { return candles(3, 100), nil }}
	r, _, _ := newTestRunner(t, gw, scheduler.Spec{})
	r.strat = &stubStrategy{minBars: 20}

	r.tick(context.Background())
	assert.Equal(t, stateWarming, r.st)
}

func TestThreeFetchFailuresStopRunner(t *testing.T) {
	gw := &fakeGateway{bars: func() ([]market.Candle, error) { return nil, errors.New("503") }}
	r, led, _ := newTestRunner(t, gw, scheduler.Spec{})

	ctx := context.Background()
	r.tick(ctx)
	r.tick(ctx)
	assert.NotEqual(t, stateStopped, r.st, "two failures are tolerated")
	r.tick(ctx)
	assert.Equal(t, stateStopped, r.st)

	inst, ok := led.Instance("BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, ledger.InstanceStopped, inst.Status)
	assert.Equal(t, "market_data_unavailable", inst.StopReason)
}

func TestFetchFailureCounterResets(t *testing.T) {
	fail := true
	gw := &fakeGateway{bars: func() ([]market.Candle, error) {
		if fail {
			return nil, errors.New("503")
		}
		return candles(12, 100), nil
	}}
	r, _, _ := newTestRunner(t, gw, scheduler.Spec{})
	r.strat = &stubStrategy{minBars: 10}

	ctx := context.Background()
	r.tick(ctx)
	r.tick(ctx)
	fail = false
	r.tick(ctx) // success clears the streak
	fail = true
	r.tick(ctx)
	r.tick(ctx)
	assert.NotEqual(t, stateStopped, r.st)
}

func TestOpenDecisionCreatesProtectedPosition(t *testing.T) {
	gw := &fakeGateway{
		bars: func() ([]market.Candle, error) { return candles(12, 100), nil },
		mark: func() (float64, error) { return 100, nil },
		submit: func(req exchange.OrderRequest) (*exchange.OrderResult, error) {
			switch req.Type {
			case exchange.TypeMarket:
				return &exchange.OrderResult{OrderID: "p1", FillPrice: 100, FillSize: req.Size, Status: "FILLED"}, nil
			case exchange.TypeStopMarket:
				return &exchange.OrderResult{OrderID: "sl1", Status: "NEW"}, nil
			default:
				return &exchange.OrderResult{OrderID: "tp1", Status: "NEW"}, nil
			}
		},
	}
	r, led, rec := newTestRunner(t, gw, scheduler.Spec{})
	r.strat = &stubStrategy{minBars: 10, decision: &strategy.Decision{
		Action:    ledger.ActionOpenLong,
		Rationale: "ema cross up",
		Snapshot:  map[string]float64{"rsi": 41},
	}}

	r.tick(context.Background())

	pos, ok := led.Position("BTC/USDT", false)
	require.True(t, ok)
	assert.Equal(t, "long", pos.Side)
	assert.Equal(t, 100.0, pos.EntryPrice)
	assert.Equal(t, 10.0, pos.Size, "1000 USD notional at price 100")
	assert.Equal(t, "sl1", pos.StopOrderID)
	assert.Equal(t, "tp1", pos.TakeOrderID)
	assert.False(t, pos.Unprotected)
	assert.Equal(t, stateInPosition, r.st)

	require.Len(t, rec.signals, 1)
	require.Len(t, rec.outcomes, 1)
	assert.Equal(t, ledger.SignalExecuted, rec.outcomes[0].Status)
}

func TestOpenRejectionMarksSignalFailed(t *testing.T) {
	gw := &fakeGateway{
		bars: func() ([]market.Candle, error) { return candles(12, 100), nil },
		mark: func() (float64, error) { return 100, nil },
		submit: func(req exchange.OrderRequest) (*exchange.OrderResult, error) {
			return nil, errors.New("insufficient margin")
		},
	}
	r, led, rec := newTestRunner(t, gw, scheduler.Spec{})
	r.strat = &stubStrategy{minBars: 10, decision: &strategy.Decision{Action: ledger.ActionOpenLong}}

	r.tick(context.Background())

	_, ok := led.Position("BTC/USDT", false)
	assert.False(t, ok, "no position on rejection")
	require.Len(t, rec.outcomes, 1)
	assert.Equal(t, ledger.SignalFailed, rec.outcomes[0].Status)
	assert.Contains(t, rec.outcomes[0].Error, "insufficient margin")
	assert.False(t, r.needsReconcile, "plain rejection needs no reconcile")
}

func TestOpenTimeoutSchedulesReconcile(t *testing.T) {
	gw := &fakeGateway{
		bars: func() ([]market.Candle, error) { return candles(12, 100), nil },
		mark: func() (float64, error) { return 100, nil },
		submit: func(req exchange.OrderRequest) (*exchange.OrderResult, error) {
			return nil, context.DeadlineExceeded
		},
	}
	r, _, rec := newTestRunner(t, gw, scheduler.Spec{})
	r.strat = &stubStrategy{minBars: 10, decision: &strategy.Decision{Action: ledger.ActionOpenLong}}

	r.tick(context.Background())

	require.Len(t, rec.outcomes, 1)
	assert.Equal(t, ledger.SignalFailed, rec.outcomes[0].Status)
	assert.True(t, r.needsReconcile)
}

func TestReconcileAdoptsUntrackedFill(t *testing.T) {
	gw := &fakeGateway{
		bars: func() ([]market.Candle, error) { return candles(12, 100), nil },
		mark: func() (float64, error) { return 100, nil },
		positions: func() ([]exchange.Position, error) {
			return []exchange.Position{{
				Symbol: "BTC/USDT", Side: "long", Size: 10, EntryPrice: 100, MarkPrice: 100,
			}}, nil
		},
	}
	r, led, _ := newTestRunner(t, gw, scheduler.Spec{})
	r.strat = &stubStrategy{minBars: 10}
	r.needsReconcile = true

	r.tick(context.Background())

	pos, ok := led.Position("BTC/USDT", false)
	require.True(t, ok)
	assert.True(t, pos.Unprotected, "adopted fill has no protective orders")
	assert.Equal(t, 10.0, pos.Size)
}

func TestReconcileBooksExternalTakeProfit(t *testing.T) {
	gw := &fakeGateway{
		bars:      func() ([]market.Candle, error) { return candles(12, 103), nil },
		mark:      func() (float64, error) { return 103, nil },
		positions: func() ([]exchange.Position, error) { return nil, nil },
	}
	spec := scheduler.Spec{Symbol: "BTC/USDT", Mode: "scalp", Interval: "1m", IsLive: true}
	r, led, rec := newTestRunner(t, gw, spec)
	r.strat = &stubStrategy{minBars: 10}

	require.NoError(t, led.OpenPosition(ledger.Position{
		Symbol: "BTC/USDT", Side: "long", EntryPrice: 100, Size: 10,
		StopLoss: 99, TakeProfit: 102, OpenedAt: time.Now(), IsLive: true,
	}))

	r.tick(context.Background())

	_, ok := led.Position("BTC/USDT", true)
	assert.False(t, ok, "external close removes the position")
	require.Len(t, rec.trades, 1)
	assert.Equal(t, ledger.ExitTakeProfit, rec.trades[0].ExitReason)
	assert.Equal(t, 102.0, rec.trades[0].ExitPrice, "booked at the protective level")
}

func TestLiveCloseRecordsStaleProtectiveOrders(t *testing.T) {
	gw := &fakeGateway{
		bars: func() ([]market.Candle, error) { return candles(12, 100.5), nil },
		mark: func() (float64, error) { return 100.5, nil },
		submit: func(req exchange.OrderRequest) (*exchange.OrderResult, error) {
			return &exchange.OrderResult{OrderID: "c1", FillPrice: 100.5, FillSize: req.Size, Status: "FILLED"}, nil
		},
		positions: func() ([]exchange.Position, error) {
			return []exchange.Position{{Symbol: "BTC/USDT", Side: "long", Size: 10, EntryPrice: 100}}, nil
		},
	}
	spec := scheduler.Spec{Symbol: "BTC/USDT", Mode: "scalp", Interval: "1m", IsLive: true}
	r, led, _ := newTestRunner(t, gw, spec)
	notif := &fakeNotifier{}
	r.notifier = notif
	r.strat = &stubStrategy{minBars: 10, decision: &strategy.Decision{
		Action:     ledger.ActionCloseLong,
		ExitReason: ledger.ExitTimeStop,
	}}

	require.NoError(t, led.OpenPosition(ledger.Position{
		Symbol: "BTC/USDT", Side: "long", EntryPrice: 100, Size: 10,
		StopLoss: 99, TakeProfit: 102, StopOrderID: "sl1", TakeOrderID: "tp1",
		OpenedAt: time.Now().Add(-2 * time.Hour), IsLive: true,
	}))

	r.tick(context.Background())

	assert.Equal(t, []string{"sl1", "tp1"}, r.staleOrders)
	require.NotEmpty(t, notif.msgs)
	last := notif.msgs[len(notif.msgs)-1]
	assert.Contains(t, last, "sl1")
	assert.Contains(t, last, "tp1")
}

func TestExternalStopLossLeavesTakeOrderStale(t *testing.T) {
	gw := &fakeGateway{
		bars:      func() ([]market.Candle, error) { return candles(12, 98), nil },
		mark:      func() (float64, error) { return 98, nil },
		positions: func() ([]exchange.Position, error) { return nil, nil },
	}
	spec := scheduler.Spec{Symbol: "BTC/USDT", Mode: "scalp", Interval: "1m", IsLive: true}
	r, led, rec := newTestRunner(t, gw, spec)
	r.strat = &stubStrategy{minBars: 10}

	require.NoError(t, led.OpenPosition(ledger.Position{
		Symbol: "BTC/USDT", Side: "long", EntryPrice: 100, Size: 10,
		StopLoss: 99, TakeProfit: 102, StopOrderID: "sl1", TakeOrderID: "tp1",
		OpenedAt: time.Now(), IsLive: true,
	}))

	r.tick(context.Background())

	require.Len(t, rec.trades, 1)
	assert.Equal(t, ledger.ExitStopLoss, rec.trades[0].ExitReason)
	assert.Equal(t, []string{"tp1"}, r.staleOrders, "only the surviving take order dangles")
}

func TestPaperTriggerEmulationClosesAtStop(t *testing.T) {
	gw := &fakeGateway{
		bars: func() ([]market.Candle, error) { return candles(12, 98.5), nil },
		mark: func() (float64, error) { return 98.5, nil },
		submit: func(req exchange.OrderRequest) (*exchange.OrderResult, error) {
			return &exchange.OrderResult{OrderID: "c1", FillPrice: 98.5, FillSize: req.Size, Status: "FILLED"}, nil
		},
		positions: func() ([]exchange.Position, error) {
			// Paper gateway still reports the position until we close it.
			return []exchange.Position{{Symbol: "BTC/USDT", Side: "long", Size: 10, EntryPrice: 100}}, nil
		},
	}
	r, led, rec := newTestRunner(t, gw, scheduler.Spec{})
	r.strat = &stubStrategy{minBars: 10}

	require.NoError(t, led.OpenPosition(ledger.Position{
		Symbol: "BTC/USDT", Side: "long", EntryPrice: 100, Size: 10,
		StopLoss: 99, TakeProfit: 102, OpenedAt: time.Now(), IsLive: false,
	}))

	r.tick(context.Background())

	_, ok := led.Position("BTC/USDT", false)
	assert.False(t, ok)
	require.Len(t, rec.trades, 1)
	assert.Equal(t, ledger.ExitStopLoss, rec.trades[0].ExitReason)
	assert.Equal(t, 99.0, rec.trades[0].ExitPrice)
	assert.Less(t, rec.trades[0].RealizedPnL, 0.0)
}

func TestTimeStopDecisionClosesPosition(t *testing.T) {
	gw := &fakeGateway{
		bars: func() ([]market.Candle, error) { return candles(12, 100.5), nil },
		mark: func() (float64, error) { return 100.5, nil },
		submit: func(req exchange.OrderRequest) (*exchange.OrderResult, error) {
			return &exchange.OrderResult{OrderID: "c1", FillPrice: 100.5, FillSize: req.Size, Status: "FILLED"}, nil
		},
		positions: func() ([]exchange.Position, error) {
			return []exchange.Position{{Symbol: "BTC/USDT", Side: "long", Size: 10, EntryPrice: 100}}, nil
		},
	}
	r, led, rec := newTestRunner(t, gw, scheduler.Spec{})
	r.strat = &stubStrategy{minBars: 10, decision: &strategy.Decision{
		Action:     ledger.ActionCloseLong,
		Rationale:  "max holding time reached",
		ExitReason: ledger.ExitTimeStop,
	}}

	require.NoError(t, led.OpenPosition(ledger.Position{
		Symbol: "BTC/USDT", Side: "long", EntryPrice: 100, Size: 10,
		StopLoss: 99, TakeProfit: 102, OpenedAt: time.Now().Add(-2 * time.Hour), IsLive: false,
	}))

	r.tick(context.Background())

	require.Len(t, rec.trades, 1)
	assert.Equal(t, ledger.ExitTimeStop, rec.trades[0].ExitReason)
	assert.Equal(t, stateMonitoring, r.st)
}
