// Package scheduler owns the strategy worker registry: at most one worker
// per symbol, start/stop synchronized with the persistence store so a
// restart can rebuild exactly the set of workers that were supposed to be
// running.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"vela/internal/ledger"
	"vela/internal/logger"
	"vela/internal/pkg/symbol"
	"vela/internal/store"
	"vela/internal/store/model"
	"vela/internal/strategy"
)

var (
	ErrAlreadyRunning = errors.New("a strategy is already running for this symbol")
	ErrNotRunning     = errors.New("no strategy is running for this symbol")
)

// Spec describes one strategy worker to run.
type Spec struct {
	Symbol   string                 `json:"symbol"`
	Mode     string                 `json:"mode"`
	Interval string                 `json:"interval"`
	IsLive   bool                   `json:"is_live"`
	Params   map[string]interface{} `json:"params,omitempty"`
}

func (s *Spec) normalize() error {
	if !symbol.IsValid(s.Symbol) {
		return fmt.Errorf("invalid symbol %q", s.Symbol)
	}
	s.Symbol = symbol.Normalize(s.Symbol)
	if !strategy.IsValidMode(s.Mode) {
		return fmt.Errorf("unknown strategy mode %q (supported: %v)", s.Mode, strategy.Modes)
	}
	if !IsSupportedInterval(s.Interval) {
		return fmt.Errorf("unsupported interval %q (supported: %v)", s.Interval, SupportedIntervals)
	}
	return nil
}

// Worker is one running strategy loop. Run blocks until the context is
// canceled or the worker stops itself.
type Worker interface {
	Run(ctx context.Context)
}

// WorkerFactory builds a worker for a validated spec.
type WorkerFactory func(spec Spec) (Worker, error)

type entry struct {
	spec   Spec
	cancel context.CancelFunc
	done   chan struct{}
}

type Scheduler struct {
	store      store.Store
	led        *ledger.Ledger
	newWorker  WorkerFactory
	drainGrace time.Duration

	mu      sync.Mutex
	workers map[string]*entry
}

func New(st store.Store, led *ledger.Ledger, factory WorkerFactory) *Scheduler {
	return &Scheduler{
		store:      st,
		led:        led,
		newWorker:  factory,
		drainGrace: 10 * time.Second,
		workers:    make(map[string]*entry),
	}
}

// Start validates the spec, persists it, and launches the worker. The active
// row is written before Start returns so a crash immediately afterwards
// still recovers the worker.
func (s *Scheduler) Start(ctx context.Context, spec Spec) error {
	if err := spec.normalize(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workers[spec.Symbol]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, spec.Symbol)
	}

	if err := s.persist(ctx, spec); err != nil {
		return fmt.Errorf("persist strategy: %w", err)
	}
	if err := s.launchLocked(spec); err != nil {
		// the row must not survive a worker that never started, or the
		// next boot retries a spec that cannot build
		if aerr := s.archive(ctx, spec.Symbol, "launch_failed"); aerr != nil {
			logger.Errorf("scheduler: archiving failed launch for %s: %v", spec.Symbol, aerr)
		}
		return err
	}
	return nil
}

// launchLocked builds the worker and starts its goroutine. Caller holds mu
// and has already persisted the spec.
func (s *Scheduler) launchLocked(spec Spec) error {
	worker, err := s.newWorker(spec)
	if err != nil {
		return fmt.Errorf("build worker: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ent := &entry{spec: spec, cancel: cancel, done: make(chan struct{})}
	s.workers[spec.Symbol] = ent

	s.led.RegisterInstance(ledger.Instance{
		Symbol:        spec.Symbol,
		Mode:          spec.Mode,
		Interval:      spec.Interval,
		IsLive:        spec.IsLive,
		StartedAt:     time.Now(),
		LastHeartbeat: time.Now(),
		Status:        ledger.InstanceRunning,
	})

	go func() {
		defer close(ent.done)
		logger.Infof("scheduler: worker started symbol=%s mode=%s interval=%s live=%v",
			spec.Symbol, spec.Mode, spec.Interval, spec.IsLive)
		worker.Run(runCtx)
		logger.Infof("scheduler: worker exited symbol=%s", spec.Symbol)
	}()
	return nil
}

func (s *Scheduler) persist(ctx context.Context, spec Spec) error {
	paramsJSON, err := json.Marshal(spec.Params)
	if err != nil {
		return err
	}
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	row := &model.ActiveStrategyModel{
		Symbol:        spec.Symbol,
		Mode:          spec.Mode,
		Interval:      spec.Interval,
		IsLive:        spec.IsLive,
		ParamsJSON:    paramsJSON,
		StartedAtUnix: now,
		CreatedAtUnix: now,
		UpdatedAtUnix: now,
	}
	if err := uow.Strategies().Save(ctx, row); err != nil {
		_ = uow.Rollback()
		return err
	}
	return uow.Commit()
}

// Stop cancels the worker for symbol, waits for it to drain, and archives
// its persisted row. Used for operator-initiated stops.
func (s *Scheduler) Stop(ctx context.Context, rawSymbol, reason string) error {
	sym := symbol.Normalize(rawSymbol)
	if sym == "" {
		sym = rawSymbol
	}

	s.mu.Lock()
	ent, ok := s.workers[sym]
	if ok {
		delete(s.workers, sym)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, sym)
	}

	ent.cancel()
	select {
	case <-ent.done:
	case <-time.After(s.drainGrace):
		logger.Warnf("scheduler: worker for %s did not drain within %s", sym, s.drainGrace)
	}

	s.led.MarkStopped(sym, reason)
	if err := s.archive(ctx, sym, reason); err != nil {
		return fmt.Errorf("archive strategy: %w", err)
	}
	return nil
}

// StopAll stops every running worker with the given reason and returns the
// number stopped. Individual archive failures are logged and skipped.
func (s *Scheduler) StopAll(ctx context.Context, reason string) int {
	s.mu.Lock()
	symbols := make([]string, 0, len(s.workers))
	for sym := range s.workers {
		symbols = append(symbols, sym)
	}
	s.mu.Unlock()

	stopped := 0
	for _, sym := range symbols {
		if err := s.Stop(ctx, sym, reason); err != nil {
			logger.Errorf("scheduler: stop %s: %v", sym, err)
			continue
		}
		stopped++
	}
	return stopped
}

func (s *Scheduler) archive(ctx context.Context, sym, reason string) error {
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	if err := uow.Strategies().Archive(ctx, sym, reason, time.Now().Unix()); err != nil {
		_ = uow.Rollback()
		return err
	}
	return uow.Commit()
}

// Shutdown cancels every worker and waits for them, keeping the persisted
// rows so the next boot restores the same set.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.workers))
	for sym, ent := range s.workers {
		entries = append(entries, ent)
		delete(s.workers, sym)
	}
	s.mu.Unlock()

	for _, ent := range entries {
		ent.cancel()
	}
	deadline := time.After(s.drainGrace)
	for _, ent := range entries {
		select {
		case <-ent.done:
		case <-deadline:
			logger.Warnf("scheduler: shutdown drain timed out with workers still running")
			return
		}
	}
}

// Restore relaunches workers persisted by a previous run. Rows whose symbol
// no longer validates are archived instead of crashing the boot.
func (s *Scheduler) Restore(ctx context.Context) error {
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	rows, err := uow.Strategies().ListActive(ctx)
	if err != nil {
		_ = uow.Rollback()
		return err
	}
	if err := uow.Commit(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		spec := Spec{
			Symbol:   row.Symbol,
			Mode:     row.Mode,
			Interval: row.Interval,
			IsLive:   row.IsLive,
		}
		if len(row.ParamsJSON) > 0 {
			if err := json.Unmarshal(row.ParamsJSON, &spec.Params); err != nil {
				logger.Warnf("scheduler: restore %s: bad params json: %v", row.Symbol, err)
			}
		}
		if err := spec.normalize(); err != nil {
			logger.Warnf("scheduler: restore skipping %s: %v", row.Symbol, err)
			if aerr := s.archive(ctx, row.Symbol, "invalid_symbol"); aerr != nil {
				logger.Errorf("scheduler: archive invalid row %s: %v", row.Symbol, aerr)
			}
			continue
		}
		if _, ok := s.workers[spec.Symbol]; ok {
			continue
		}
		if err := s.launchLocked(spec); err != nil {
			logger.Errorf("scheduler: restore %s failed: %v", spec.Symbol, err)
		}
	}
	return nil
}

// Status returns the spec of the running worker for symbol.
func (s *Scheduler) Status(rawSymbol string) (Spec, bool) {
	sym := symbol.Normalize(rawSymbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.workers[sym]
	if !ok {
		return Spec{}, false
	}
	return ent.spec, true
}

// List returns the specs of all running workers.
func (s *Scheduler) List() []Spec {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Spec, 0, len(s.workers))
	for _, ent := range s.workers {
		out = append(out, ent.spec)
	}
	return out
}
