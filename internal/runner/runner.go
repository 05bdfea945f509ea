// Package runner drives one strategy worker: an aligned tick loop per
// symbol that keeps the candle buffer warm, asks the strategy for a
// decision, and turns decisions into orders through the executor. Ticks on
// one symbol never overlap because everything runs on the loop goroutine.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"vela/internal/executor"
	"vela/internal/gateway/exchange"
	"vela/internal/ledger"
	"vela/internal/logger"
	"vela/internal/market"
	"vela/internal/scheduler"
	"vela/internal/strategy"
	"vela/internal/strategy/params"

	"github.com/google/uuid"
)

const maxFetchFailures = 3

// Notifier pushes operator alerts. Implementations must not block the tick.
type Notifier interface {
	Notify(text string)
}

// Recorder persists signals and trades. The runner never talks to the
// database directly.
type Recorder interface {
	RecordSignal(ctx context.Context, sig ledger.Signal)
	RecordSignalOutcome(ctx context.Context, sig ledger.Signal)
	RecordTrade(ctx context.Context, trade ledger.Trade)
}

type Config struct {
	WarmupBars     int
	MaxCachedBars  int
	NotionalUSD    float64
	TickOffset     time.Duration
	RunImmediately bool
}

type state string

const (
	stateWarming    state = "warming"
	stateMonitoring state = "monitoring"
	stateInPosition state = "in_position"
	stateStopped    state = "stopped"
)

type Runner struct {
	spec     scheduler.Spec
	gw       exchange.Gateway
	exec     *executor.Executor
	led      *ledger.Ledger
	rec      Recorder
	registry *params.Registry
	notifier Notifier
	cfg      Config

	strat       strategy.Strategy
	buf         *market.Buffer
	intervalDur time.Duration

	st             state
	fetchFailures  int
	paramsVersion  int64
	needsReconcile bool
	staleOrders    []string

	nowFn func() time.Time
}

func New(spec scheduler.Spec, gw exchange.Gateway, exec *executor.Executor, led *ledger.Ledger, rec Recorder, registry *params.Registry, notifier Notifier, cfg Config) (*Runner, error) {
	if cfg.WarmupBars <= 0 {
		cfg.WarmupBars = 50
	}
	if cfg.MaxCachedBars < cfg.WarmupBars {
		cfg.MaxCachedBars = cfg.WarmupBars
	}
	dur, ok := scheduler.ParseIntervalDuration(spec.Interval)
	if !ok {
		return nil, errors.New("runner: unparseable interval " + spec.Interval)
	}

	r := &Runner{
		spec:        spec,
		gw:          gw,
		exec:        exec,
		led:         led,
		rec:         rec,
		registry:    registry,
		notifier:    notifier,
		cfg:         cfg,
		buf:         market.NewBuffer(cfg.MaxCachedBars),
		intervalDur: dur,
		st:          stateWarming,
		nowFn:       time.Now,
	}
	if err := r.rebuildStrategy(); err != nil {
		return nil, err
	}
	return r, nil
}

// rebuildStrategy merges registry params under the spec's explicit params
// and constructs the strategy. Explicit params win.
func (r *Runner) rebuildStrategy() error {
	merged := map[string]any{}
	if r.registry != nil {
		snap := r.registry.Snapshot()
		r.paramsVersion = snap.Version
		for k, v := range snap.Strategies[r.spec.Mode] {
			merged[k] = v
		}
	}
	for k, v := range r.spec.Params {
		merged[k] = v
	}
	strat, err := strategy.New(r.spec.Mode, merged)
	if err != nil {
		return err
	}
	r.strat = strat
	return nil
}

// Run executes the aligned tick loop until ctx is canceled or the runner
// stops itself. Ticks fire one offset after each candle close.
func (r *Runner) Run(ctx context.Context) {
	logger.Infof("runner[%s]: started mode=%s interval=%s live=%v",
		r.spec.Symbol, r.spec.Mode, r.spec.Interval, r.spec.IsLive)

	if r.cfg.RunImmediately {
		r.tick(ctx)
	}
	for r.st != stateStopped {
		now := r.nowFn().UTC()
		nextClose := now.Truncate(r.intervalDur).Add(r.intervalDur)
		wait := nextClose.Add(r.cfg.TickOffset).Sub(now)
		if wait <= 0 {
			r.tick(ctx)
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Infof("runner[%s]: ctx done, exit", r.spec.Symbol)
			return
		case <-timer.C:
		}
		r.tick(ctx)
	}
	logger.Infof("runner[%s]: stopped", r.spec.Symbol)
}

// tick is one evaluation cycle. It never runs concurrently with itself.
func (r *Runner) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	r.led.Heartbeat(r.spec.Symbol)

	if !r.refreshBars(ctx) {
		return
	}

	if r.registry != nil && r.registry.Snapshot().Version != r.paramsVersion {
		if err := r.rebuildStrategy(); err != nil {
			logger.Errorf("runner[%s]: params reload rejected: %v", r.spec.Symbol, err)
		} else {
			logger.Infof("runner[%s]: strategy params reloaded (version %d)", r.spec.Symbol, r.paramsVersion)
		}
	}

	mark := r.refreshMark(ctx)

	if r.needsReconcile || r.currentPosition().Open {
		r.reconcile(ctx, mark)
	}

	pos := r.currentPosition()
	if pos.Open && !r.spec.IsLive {
		if r.emulateTriggers(ctx, mark) {
			pos = r.currentPosition()
		}
	}

	if r.buf.Len() < r.strat.MinBars() {
		r.st = stateWarming
		return
	}

	decision := r.strat.Decide(r.buf.Candles(), pos)
	if decision == nil {
		if pos.Open {
			r.st = stateInPosition
		} else {
			r.st = stateMonitoring
		}
		return
	}

	if decision.Action.IsOpen() {
		r.handleOpen(ctx, *decision)
	} else {
		r.handleClose(ctx, *decision, ledger.ExitManual)
	}
}

// refreshBars tops up the candle buffer. Three consecutive failures stop
// the runner; the persisted row stays so a restart retries.
func (r *Runner) refreshBars(ctx context.Context) bool {
	limit := r.cfg.WarmupBars
	if r.buf.Len() > 0 {
		limit = 2
	}
	bars, err := r.gw.GetRecentBars(ctx, r.spec.Symbol, r.spec.Interval, limit)
	if err != nil {
		r.fetchFailures++
		logger.Warnf("runner[%s]: bar fetch failed (%d/%d): %v",
			r.spec.Symbol, r.fetchFailures, maxFetchFailures, err)
		if r.fetchFailures >= maxFetchFailures {
			r.stopSelf("market_data_unavailable")
		}
		return false
	}
	r.fetchFailures = 0
	if r.buf.Len() == 0 {
		r.buf.Replace(bars)
	} else {
		for _, b := range bars {
			r.buf.Append(b)
		}
	}
	return true
}

func (r *Runner) refreshMark(ctx context.Context) float64 {
	mark, err := r.gw.GetMarkPrice(ctx, r.spec.Symbol)
	if err != nil || mark <= 0 {
		if last, ok := r.buf.Last(); ok {
			return last.Close
		}
		return 0
	}
	if _, ok := r.led.Position(r.spec.Symbol, r.spec.IsLive); ok {
		r.led.UpdatePositionPnL(r.spec.Symbol, r.spec.IsLive, mark)
	}
	return mark
}

func (r *Runner) currentPosition() strategy.PositionState {
	pos, ok := r.led.Position(r.spec.Symbol, r.spec.IsLive)
	if !ok {
		return strategy.PositionState{}
	}
	return strategy.PositionState{
		Open:       true,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		OpenedAt:   pos.OpenedAt,
	}
}

// reconcile compares the ledger with the gateway's view. Detects positions
// closed behind our back (protective orders firing on the exchange) and
// fills adopted after an order timeout.
func (r *Runner) reconcile(ctx context.Context, mark float64) {
	r.needsReconcile = false
	if len(r.staleOrders) > 0 {
		logger.Debugf("runner[%s]: stale protective orders outstanding: %s",
			r.spec.Symbol, strings.Join(r.staleOrders, ", "))
	}
	gwPositions, err := r.gw.ListOpenPositions(ctx)
	if err != nil {
		logger.Warnf("runner[%s]: reconcile skipped, position query failed: %v", r.spec.Symbol, err)
		r.needsReconcile = true
		return
	}
	var gwPos *exchange.Position
	for i := range gwPositions {
		if gwPositions[i].Symbol == r.spec.Symbol {
			gwPos = &gwPositions[i]
			break
		}
	}

	ledPos, haveLocal := r.led.Position(r.spec.Symbol, r.spec.IsLive)
	switch {
	case haveLocal && gwPos == nil:
		r.settleExternalClose(ctx, ledPos, mark)
	case !haveLocal && gwPos != nil:
		r.adoptPosition(*gwPos)
	}
}

// settleExternalClose books a position the exchange already flattened. The
// exit reason is inferred from which protective level the mark crossed.
func (r *Runner) settleExternalClose(ctx context.Context, pos ledger.Position, mark float64) {
	reason := ledger.ExitManual
	exitPrice := mark
	if pos.Side == "long" {
		switch {
		case pos.StopLoss > 0 && mark <= pos.StopLoss:
			reason, exitPrice = ledger.ExitStopLoss, pos.StopLoss
		case pos.TakeProfit > 0 && mark >= pos.TakeProfit:
			reason, exitPrice = ledger.ExitTakeProfit, pos.TakeProfit
		}
	} else {
		switch {
		case pos.StopLoss > 0 && mark >= pos.StopLoss:
			reason, exitPrice = ledger.ExitStopLoss, pos.StopLoss
		case pos.TakeProfit > 0 && mark <= pos.TakeProfit:
			reason, exitPrice = ledger.ExitTakeProfit, pos.TakeProfit
		}
	}
	if exitPrice <= 0 {
		exitPrice = pos.EntryPrice
	}
	fee := r.exec.FeeFor(exitPrice, pos.Size)
	trade, err := r.led.ClosePosition(pos.Symbol, pos.IsLive, exitPrice, fee, reason)
	if err != nil {
		logger.Errorf("runner[%s]: booking external close failed: %v", r.spec.Symbol, err)
		return
	}
	r.rec.RecordTrade(ctx, trade)
	r.alert("position %s closed on exchange (%s), pnl %.2f", pos.Symbol, reason, trade.RealizedPnL)
	logger.Infof("runner[%s]: external close booked reason=%s pnl=%.4f", r.spec.Symbol, reason, trade.RealizedPnL)
	// the leg that fired consumed itself, the other one survives
	switch reason {
	case ledger.ExitStopLoss:
		r.noteStaleOrders(pos.TakeOrderID)
	case ledger.ExitTakeProfit:
		r.noteStaleOrders(pos.StopOrderID)
	default:
		r.noteStaleOrders(pos.StopOrderID, pos.TakeOrderID)
	}
}

// adoptPosition registers a fill found on the exchange that the ledger does
// not know about, usually an order that filled after its call timed out.
// Protective orders were never placed for it.
func (r *Runner) adoptPosition(gwPos exchange.Position) {
	pos := ledger.Position{
		Symbol:     gwPos.Symbol,
		Side:       gwPos.Side,
		EntryPrice: gwPos.EntryPrice,
		Size:       gwPos.Size,
		OpenedAt:   r.nowFn(),
		MarkPrice:  gwPos.MarkPrice,
		IsLive:     r.spec.IsLive,
	}
	if err := r.led.OpenPosition(pos); err != nil {
		logger.Errorf("runner[%s]: adopting exchange position failed: %v", r.spec.Symbol, err)
		return
	}
	r.led.MarkUnprotected(gwPos.Symbol, r.spec.IsLive, "adopted after order timeout, no protective orders placed")
	r.alert("adopted untracked %s position on %s, UNPROTECTED", gwPos.Side, gwPos.Symbol)
}

// emulateTriggers closes a paper position whose mark crossed a protective
// level. The paper gateway acknowledges stop orders but never fires them.
// Returns true when the position was closed.
func (r *Runner) emulateTriggers(ctx context.Context, mark float64) bool {
	pos, ok := r.led.Position(r.spec.Symbol, r.spec.IsLive)
	if !ok || mark <= 0 {
		return false
	}
	var reason ledger.ExitReason
	var exitPrice float64
	if pos.Side == "long" {
		switch {
		case pos.StopLoss > 0 && mark <= pos.StopLoss:
			reason, exitPrice = ledger.ExitStopLoss, pos.StopLoss
		case pos.TakeProfit > 0 && mark >= pos.TakeProfit:
			reason, exitPrice = ledger.ExitTakeProfit, pos.TakeProfit
		}
	} else {
		switch {
		case pos.StopLoss > 0 && mark >= pos.StopLoss:
			reason, exitPrice = ledger.ExitStopLoss, pos.StopLoss
		case pos.TakeProfit > 0 && mark <= pos.TakeProfit:
			reason, exitPrice = ledger.ExitTakeProfit, pos.TakeProfit
		}
	}
	if reason == "" {
		return false
	}

	action := ledger.ActionCloseLong
	if pos.Side == "short" {
		action = ledger.ActionCloseShort
	}
	r.handleCloseAt(ctx, strategy.Decision{
		Action:    action,
		Rationale: string(reason) + " level reached",
	}, reason, exitPrice)
	return true
}

func (r *Runner) handleOpen(ctx context.Context, decision strategy.Decision) {
	pos := r.currentPosition()
	if pos.Open {
		logger.Warnf("runner[%s]: open decision ignored, position already open", r.spec.Symbol)
		return
	}
	last, ok := r.buf.Last()
	if !ok {
		return
	}
	size := r.exec.SizeFor(r.cfg.NotionalUSD, last.Close)
	if size <= 0 {
		logger.Warnf("runner[%s]: computed size is zero at price %.4f, skipping", r.spec.Symbol, last.Close)
		return
	}

	sig := ledger.Signal{
		ID:        uuid.NewString(),
		Timestamp: r.nowFn(),
		Symbol:    r.spec.Symbol,
		Action:    decision.Action,
		Price:     last.Close,
		Size:      size,
		Rationale: decision.Rationale,
		Snapshot:  decision.Snapshot,
		Status:    ledger.SignalPending,
		IsLive:    r.spec.IsLive,
	}
	if err := r.led.AddSignal(sig); err != nil {
		logger.Errorf("runner[%s]: signal rejected: %v", r.spec.Symbol, err)
		return
	}
	r.rec.RecordSignal(ctx, sig)

	res, err := r.exec.ExecuteOpen(ctx, sig)
	if err != nil {
		r.finalizeSignal(ctx, sig, ledger.SignalFailed, "", err.Error())
		if errors.Is(err, context.DeadlineExceeded) {
			// The order may still have filled; check the exchange next tick.
			r.needsReconcile = true
		}
		logger.Warnf("runner[%s]: open failed: %v", r.spec.Symbol, err)
		return
	}
	r.finalizeSignal(ctx, sig, ledger.SignalExecuted, res.OrderID, "")

	newPos := ledger.Position{
		Symbol:          sig.Symbol,
		Side:            sig.Action.Side(),
		EntryPrice:      res.FillPrice,
		Size:            res.FillSize,
		StopLoss:        res.StopLoss,
		TakeProfit:      res.TakeProfit,
		StopOrderID:     res.StopOrderID,
		TakeOrderID:     res.TakeOrderID,
		OpenedAt:        r.nowFn(),
		MarkPrice:       res.FillPrice,
		IsLive:          r.spec.IsLive,
		Unprotected:     res.Unprotected,
		ProtectionError: res.ProtectionError,
	}
	if err := r.led.OpenPosition(newPos); err != nil {
		logger.Errorf("runner[%s]: recording position failed: %v", r.spec.Symbol, err)
		return
	}
	r.st = stateInPosition
	if res.Unprotected {
		r.alert("UNPROTECTED %s position on %s: %s", newPos.Side, sig.Symbol, res.ProtectionError)
	}
	if len(r.staleOrders) > 0 {
		r.alert("new %s position on %s is exposed to stale triggers still on the exchange: %s",
			newPos.Side, sig.Symbol, strings.Join(r.staleOrders, ", "))
	}
	logger.Infof("runner[%s]: opened %s size=%.6f entry=%.4f sl=%.4f tp=%.4f",
		r.spec.Symbol, newPos.Side, newPos.Size, newPos.EntryPrice, newPos.StopLoss, newPos.TakeProfit)
}

func (r *Runner) handleClose(ctx context.Context, decision strategy.Decision, fallback ledger.ExitReason) {
	reason := decision.ExitReason
	if reason == "" {
		reason = fallback
	}
	r.handleCloseAt(ctx, decision, reason, 0)
}

// handleCloseAt closes the open position. exitOverride, when nonzero, books
// the trade at the protective level instead of the fill price.
func (r *Runner) handleCloseAt(ctx context.Context, decision strategy.Decision, reason ledger.ExitReason, exitOverride float64) {
	pos, ok := r.led.Position(r.spec.Symbol, r.spec.IsLive)
	if !ok {
		logger.Warnf("runner[%s]: close decision ignored, no open position", r.spec.Symbol)
		return
	}
	refPrice := pos.MarkPrice
	if last, lok := r.buf.Last(); lok {
		refPrice = last.Close
	}

	sig := ledger.Signal{
		ID:        uuid.NewString(),
		Timestamp: r.nowFn(),
		Symbol:    r.spec.Symbol,
		Action:    decision.Action,
		Price:     refPrice,
		Size:      pos.Size,
		Rationale: decision.Rationale,
		Snapshot:  decision.Snapshot,
		Status:    ledger.SignalPending,
		IsLive:    r.spec.IsLive,
	}
	if err := r.led.AddSignal(sig); err != nil {
		logger.Errorf("runner[%s]: signal rejected: %v", r.spec.Symbol, err)
		return
	}
	r.rec.RecordSignal(ctx, sig)

	res, err := r.exec.ExecuteClose(ctx, sig)
	if err != nil {
		r.finalizeSignal(ctx, sig, ledger.SignalFailed, "", err.Error())
		if errors.Is(err, context.DeadlineExceeded) {
			r.needsReconcile = true
		}
		logger.Warnf("runner[%s]: close failed, position stays open: %v", r.spec.Symbol, err)
		return
	}
	r.finalizeSignal(ctx, sig, ledger.SignalExecuted, res.OrderID, "")

	exitPrice := res.FillPrice
	if exitOverride > 0 {
		exitPrice = exitOverride
	}
	trade, err := r.led.ClosePosition(pos.Symbol, pos.IsLive, exitPrice, res.Fee, reason)
	if err != nil {
		logger.Errorf("runner[%s]: booking close failed: %v", r.spec.Symbol, err)
		return
	}
	r.rec.RecordTrade(ctx, trade)
	r.st = stateMonitoring
	if r.spec.IsLive {
		r.noteStaleOrders(pos.StopOrderID, pos.TakeOrderID)
	}
	logger.Infof("runner[%s]: closed %s exit=%.4f reason=%s pnl=%.4f",
		r.spec.Symbol, pos.Side, exitPrice, reason, trade.RealizedPnL)
}

func (r *Runner) finalizeSignal(ctx context.Context, sig ledger.Signal, status ledger.SignalStatus, orderID, errMsg string) {
	if err := r.led.UpdateSignalStatus(sig.ID, status, orderID, errMsg); err != nil {
		logger.Errorf("runner[%s]: signal status update failed: %v", r.spec.Symbol, err)
	}
	sig.Status = status
	sig.OrderID = orderID
	sig.Error = errMsg
	r.rec.RecordSignalOutcome(ctx, sig)
}

func (r *Runner) stopSelf(reason string) {
	r.st = stateStopped
	r.led.MarkStopped(r.spec.Symbol, reason)
	r.alert("strategy on %s stopped: %s", r.spec.Symbol, reason)
}

// noteStaleOrders records protective order ids that outlive their position.
// The gateway has no cancel call, so a leftover reduce-only trigger can
// still fire against a later position on this symbol; all we can do is keep
// the ids visible and tell the operator to pull them on the exchange.
func (r *Runner) noteStaleOrders(ids ...string) {
	var added []string
	for _, id := range ids {
		if id != "" {
			added = append(added, id)
		}
	}
	if len(added) == 0 {
		return
	}
	r.staleOrders = append(r.staleOrders, added...)
	logger.Warnf("runner[%s]: protective orders left on exchange: %s",
		r.spec.Symbol, strings.Join(added, ", "))
	r.alert("stale protective orders on %s, cancel manually: %s",
		r.spec.Symbol, strings.Join(added, ", "))
}

func (r *Runner) alert(format string, args ...interface{}) {
	if r.notifier == nil {
		return
	}
	r.notifier.Notify(fmt.Sprintf(format, args...))
}
