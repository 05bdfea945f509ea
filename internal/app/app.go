// Package app assembles the platform: one shared ledger and store, a live
// and a paper execution path, the worker scheduler, and the dashboard
// server. Nothing here contains trading logic.
package app

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"vela/internal/config"
	"vela/internal/executor"
	"vela/internal/gateway/binance"
	"vela/internal/gateway/exchange"
	"vela/internal/gateway/paper"
	"vela/internal/ledger"
	"vela/internal/logger"
	"vela/internal/notify"
	"vela/internal/report"
	"vela/internal/runner"
	"vela/internal/scheduler"
	"vela/internal/store"
	"vela/internal/store/auditlog"
	"vela/internal/store/sqlite"
	"vela/internal/strategy/params"
	dashhttp "vela/internal/transport/http/dashboard"

	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg   *config.Config
	led   *ledger.Ledger
	store store.Store
	audit *auditlog.AuditStore
	sched *scheduler.Scheduler
	http  *dashhttp.Server
}

func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	st, err := sqlite.NewSqliteStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	audit, err := auditlog.NewAuditStore(cfg.Store.AuditPath)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	live, err := binance.New(binance.Config{
		APIKey:      cfg.Market.APIKey,
		APISecret:   cfg.Market.APISecret,
		RESTBaseURL: cfg.Market.RESTBaseURL,
		HTTPTimeout: time.Duration(cfg.Market.HTTPTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("binance gateway: %w", err)
	}
	sim := paper.New(live, cfg.Trading.PaperBalanceUSD, cfg.Trading.TakerFeeRate)
	gateways := map[bool]exchange.Gateway{true: live, false: sim}

	execCfg := executorConfig(cfg.Trading)
	executors := map[bool]*executor.Executor{
		true:  executor.New(live, execCfg),
		false: executor.New(sim, execCfg),
	}

	registry, err := params.NewRegistry(cfg.Strategy.ParamsPath)
	if err != nil {
		return nil, fmt.Errorf("strategy params: %w", err)
	}

	var notifier runner.Notifier
	if cfg.Notify.Telegram.Enabled {
		notifier = notify.NewAsync(notify.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID))
	}

	led := ledger.New()
	recorder := store.NewRecorder(st, audit)

	runnerCfg := runner.Config{
		WarmupBars:    cfg.Market.WarmupBars,
		MaxCachedBars: cfg.Market.MaxCachedBars,
		NotionalUSD:   cfg.Trading.DefaultNotionalUSD,
	}
	sched := scheduler.New(st, led, func(spec scheduler.Spec) (scheduler.Worker, error) {
		return runner.New(spec, gateways[spec.IsLive], executors[spec.IsLive],
			led, recorder, registry, notifier, runnerCfg)
	})

	httpSrv, err := dashhttp.NewServer(dashhttp.ServerConfig{
		Addr:      cfg.App.HTTPAddr,
		Scheduler: sched,
		Ledger:    led,
		Store:     st,
		Protectors: map[bool]dashhttp.Protector{
			true:  executors[true],
			false: executors[false],
		},
		ReportFn: reportRenderer(st),
		AuditFn: func(ctx context.Context, symbol, key string) (interface{}, error) {
			return audit.Rollup(ctx, symbol, key)
		},
		BalanceFn: func(ctx context.Context, isLive bool) (exchange.Balance, error) {
			return gateways[isLive].GetBalance(ctx)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dashboard server: %w", err)
	}

	return &App{
		cfg:   cfg,
		led:   led,
		store: st,
		audit: audit,
		sched: sched,
		http:  httpSrv,
	}, nil
}

func executorConfig(t config.TradingConfig) executor.Config {
	return executor.Config{
		MinNotionalUSD: t.MinNotionalUSD,
		MaxNotionalUSD: t.MaxNotionalUSD,
		TakerFeeRate:   t.TakerFeeRate,
		StopLossPct:    t.StopLossPct,
		TakeProfitPct:  t.TakeProfitPct,
		SizePrecision:  int32(t.SizePrecision),
		OrderTimeout:   time.Duration(t.SignalTimeoutSeconds) * time.Second,
	}
}

func reportRenderer(st store.Store) func(ctx context.Context, isLive bool) ([]byte, error) {
	return func(ctx context.Context, isLive bool) ([]byte, error) {
		uow, err := st.Begin(ctx)
		if err != nil {
			return nil, err
		}
		trades, err := uow.Trades().ListAll(ctx, isLive)
		if err != nil {
			_ = uow.Rollback()
			return nil, err
		}
		if err := uow.Commit(); err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := report.Render(&buf, trades, isLive); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}

// Run restores persisted workers, then serves until ctx cancels.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	if err := a.sched.Restore(ctx); err != nil {
		return fmt.Errorf("restore strategies: %w", err)
	}
	logger.Infof("✓ started: http=%s workers=%d", a.http.Addr(), len(a.sched.List()))

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("dashboard http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		a.sched.Shutdown()
		return nil
	})

	err := group.Wait()
	if cerr := a.audit.Close(); cerr != nil {
		logger.Warnf("closing audit store: %v", cerr)
	}
	if cerr := a.store.Close(); cerr != nil {
		logger.Warnf("closing store: %v", cerr)
	}
	return err
}

// Scheduler exposes the worker registry (for tests and replay harnesses).
func (a *App) Scheduler() *scheduler.Scheduler {
	if a == nil {
		return nil
	}
	return a.sched
}
