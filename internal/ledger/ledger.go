// Package ledger is the single source of truth for running strategy
// instances, recent signals, open positions, and completed trades. Runners
// write, query and push tasks read; every access serializes through one lock
// so readers never observe a torn update (a closed position without its
// trade, mixed paper/live stats, etc).
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"vela/internal/pkg/trading"
)

const (
	maxRecentSignals = 50
	maxRecentTrades  = 50
)

var (
	ErrPositionExists  = errors.New("position already open")
	ErrNoPosition      = errors.New("no open position")
	ErrUnknownSignal   = errors.New("unknown signal")
	ErrSignalFinalized = errors.New("signal already finalized")
)

// partitionKey separates paper from live state. The two sets never mix.
type partitionKey struct {
	symbol string
	isLive bool
}

type Ledger struct {
	mu sync.Mutex

	instances map[string]*Instance
	positions map[partitionKey]*Position
	signals   []*Signal          // bounded, newest last
	signalIdx map[string]*Signal // id -> entry in signals (or archived)
	// pending signals pushed out of the display window; still finalizable
	evictedPending map[string]struct{}
	trades         []Trade // bounded, newest last

	// realized totals survive trade-window trimming
	realized map[bool]float64
	total    map[bool]int
	winning  map[bool]int

	listeners []func()
}

func New() *Ledger {
	return &Ledger{
		instances:      make(map[string]*Instance),
		positions:      make(map[partitionKey]*Position),
		signalIdx:      make(map[string]*Signal),
		evictedPending: make(map[string]struct{}),
		realized:       map[bool]float64{},
		total:          map[bool]int{},
		winning:        map[bool]int{},
	}
}

// OnMutation registers a callback invoked (outside the lock) after every
// state change. The transport layer uses this to push dashboard updates.
func (l *Ledger) OnMutation(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

func (l *Ledger) notify() {
	for _, fn := range l.listeners {
		fn()
	}
}

// RegisterInstance records a running strategy worker. The scheduler enforces
// symbol uniqueness before calling.
func (l *Ledger) RegisterInstance(inst Instance) {
	l.mu.Lock()
	inst.Status = InstanceRunning
	if inst.StartedAt.IsZero() {
		inst.StartedAt = time.Now()
	}
	inst.LastHeartbeat = inst.StartedAt
	l.instances[inst.Symbol] = &inst
	l.mu.Unlock()
	l.notify()
}

func (l *Ledger) UnregisterInstance(symbol string) {
	l.mu.Lock()
	delete(l.instances, symbol)
	l.mu.Unlock()
	l.notify()
}

func (l *Ledger) Heartbeat(symbol string) {
	l.mu.Lock()
	if inst, ok := l.instances[symbol]; ok {
		inst.LastHeartbeat = time.Now()
	}
	l.mu.Unlock()
}

// MarkStopped flags an instance as stopped with a reason without removing it,
// so a fatally failed worker stays visible until the operator intervenes.
func (l *Ledger) MarkStopped(symbol, reason string) {
	l.mu.Lock()
	if inst, ok := l.instances[symbol]; ok {
		inst.Status = InstanceStopped
		inst.StopReason = reason
	}
	l.mu.Unlock()
	l.notify()
}

func (l *Ledger) Instance(symbol string) (Instance, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	inst, ok := l.instances[symbol]
	if !ok {
		return Instance{}, false
	}
	return *inst, true
}

func (l *Ledger) Instances() []Instance {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Instance, 0, len(l.instances))
	for _, inst := range l.instances {
		out = append(out, *inst)
	}
	return out
}

// AddSignal records a new pending signal.
func (l *Ledger) AddSignal(sig Signal) error {
	if sig.ID == "" {
		return fmt.Errorf("signal requires an id")
	}
	l.mu.Lock()
	if _, exists := l.signalIdx[sig.ID]; exists {
		l.mu.Unlock()
		return fmt.Errorf("duplicate signal id %s", sig.ID)
	}
	sig.Status = SignalPending
	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now()
	}
	cp := sig
	l.signals = append(l.signals, &cp)
	l.signalIdx[sig.ID] = &cp
	if len(l.signals) > maxRecentSignals {
		drop := l.signals[0]
		if drop.Status == SignalPending {
			// a pending signal must stay finalizable after eviction;
			// its index entry is released once it reaches a terminal status
			l.evictedPending[drop.ID] = struct{}{}
		} else {
			delete(l.signalIdx, drop.ID)
		}
		l.signals = l.signals[1:]
	}
	l.mu.Unlock()
	l.notify()
	return nil
}

// UpdateSignalStatus finalizes a pending signal. Transitions are monotonic:
// a signal that already reached executed or failed never changes again.
func (l *Ledger) UpdateSignalStatus(id string, status SignalStatus, orderID, errMsg string) error {
	if status != SignalExecuted && status != SignalFailed {
		return fmt.Errorf("invalid terminal status %q", status)
	}
	l.mu.Lock()
	sig, ok := l.signalIdx[id]
	if !ok {
		l.mu.Unlock()
		return ErrUnknownSignal
	}
	if sig.Status != SignalPending {
		l.mu.Unlock()
		return ErrSignalFinalized
	}
	sig.Status = status
	sig.OrderID = orderID
	sig.Error = errMsg
	if _, evicted := l.evictedPending[id]; evicted {
		delete(l.evictedPending, id)
		delete(l.signalIdx, id)
	}
	l.mu.Unlock()
	l.notify()
	return nil
}

func (l *Ledger) SignalStatus(id string) (SignalStatus, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sig, ok := l.signalIdx[id]
	if !ok {
		return "", false
	}
	return sig.Status, true
}

// OpenPosition registers a new open position. At most one open position per
// (symbol, is_live) is allowed.
func (l *Ledger) OpenPosition(pos Position) error {
	key := partitionKey{pos.Symbol, pos.IsLive}
	l.mu.Lock()
	if _, exists := l.positions[key]; exists {
		l.mu.Unlock()
		return fmt.Errorf("%w for %s (live=%v)", ErrPositionExists, pos.Symbol, pos.IsLive)
	}
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = time.Now()
	}
	pos.MarkPrice = pos.EntryPrice
	cp := pos
	l.positions[key] = &cp
	l.mu.Unlock()
	l.notify()
	return nil
}

// UpdatePositionPnL recomputes the derived unrealized PnL cache from the
// current mark price. EntryPrice and Size are never touched.
func (l *Ledger) UpdatePositionPnL(symbol string, isLive bool, markPrice float64) {
	l.mu.Lock()
	pos, ok := l.positions[partitionKey{symbol, isLive}]
	if ok {
		pos.MarkPrice = markPrice
		pos.UnrealizedPnL = trading.UnrealizedPnL(pos.Side, pos.EntryPrice, markPrice, pos.Size)
	}
	l.mu.Unlock()
	if ok {
		l.notify()
	}
}

// MarkUnprotected flags a position whose protective orders did not all land.
func (l *Ledger) MarkUnprotected(symbol string, isLive bool, detail string) {
	l.mu.Lock()
	if pos, ok := l.positions[partitionKey{symbol, isLive}]; ok {
		pos.Unprotected = true
		pos.ProtectionError = detail
	}
	l.mu.Unlock()
	l.notify()
}

// SetProtection records protective order levels/ids after placement (initial
// or operator remediation) and clears the unprotected flag when both landed.
func (l *Ledger) SetProtection(symbol string, isLive bool, stopLoss, takeProfit float64, stopID, takeID string) {
	l.mu.Lock()
	if pos, ok := l.positions[partitionKey{symbol, isLive}]; ok {
		if stopLoss > 0 {
			pos.StopLoss = stopLoss
			pos.StopOrderID = stopID
		}
		if takeProfit > 0 {
			pos.TakeProfit = takeProfit
			pos.TakeOrderID = takeID
		}
		if pos.StopOrderID != "" && pos.TakeOrderID != "" {
			pos.Unprotected = false
			pos.ProtectionError = ""
		}
	}
	l.mu.Unlock()
	l.notify()
}

// ClosePosition removes the open position and records its trade in the same
// critical section, so no reader can see one without the other.
func (l *Ledger) ClosePosition(symbol string, isLive bool, exitPrice, fee float64, reason ExitReason) (Trade, error) {
	key := partitionKey{symbol, isLive}
	l.mu.Lock()
	pos, ok := l.positions[key]
	if !ok {
		l.mu.Unlock()
		return Trade{}, fmt.Errorf("%w for %s (live=%v)", ErrNoPosition, symbol, isLive)
	}
	trade := Trade{
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		Size:        pos.Size,
		RealizedPnL: trading.RealizedPnL(pos.Side, pos.EntryPrice, exitPrice, pos.Size, fee),
		Fee:         fee,
		ExitReason:  reason,
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    time.Now(),
		IsLive:      isLive,
	}
	delete(l.positions, key)
	l.trades = append(l.trades, trade)
	if len(l.trades) > maxRecentTrades {
		l.trades = l.trades[1:]
	}
	l.total[isLive]++
	if trade.RealizedPnL > 0 {
		l.winning[isLive]++
	}
	l.realized[isLive] += trade.RealizedPnL
	l.mu.Unlock()
	l.notify()
	return trade, nil
}

func (l *Ledger) Position(symbol string, isLive bool) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[partitionKey{symbol, isLive}]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

func (l *Ledger) Positions(isLive bool) []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Position, 0)
	for key, pos := range l.positions {
		if key.isLive == isLive {
			out = append(out, *pos)
		}
	}
	return out
}

func (l *Ledger) RecentSignals(isLive bool) []Signal {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Signal, 0)
	for i := len(l.signals) - 1; i >= 0; i-- {
		if l.signals[i].IsLive == isLive {
			out = append(out, *l.signals[i])
		}
	}
	return out
}

func (l *Ledger) RecentTrades(isLive bool) []Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Trade, 0)
	for i := len(l.trades) - 1; i >= 0; i-- {
		if l.trades[i].IsLive == isLive {
			out = append(out, l.trades[i])
		}
	}
	return out
}

// Statistics aggregates one partition. Paper and live never mix.
func (l *Ledger) Statistics(isLive bool) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statsLocked(isLive)
}

func (l *Ledger) statsLocked(isLive bool) Stats {
	stats := Stats{
		TotalTrades:   l.total[isLive],
		WinningTrades: l.winning[isLive],
		RealizedPnL:   l.realized[isLive],
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
	}
	for key, pos := range l.positions {
		if key.isLive == isLive {
			stats.UnrealizedPnL += pos.UnrealizedPnL
		}
	}
	return stats
}
