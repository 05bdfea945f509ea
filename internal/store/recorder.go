package store

import (
	"context"
	"encoding/json"
	"time"

	"vela/internal/ledger"
	"vela/internal/logger"
	"vela/internal/store/auditlog"
	"vela/internal/store/model"
)

// Recorder translates ledger events into durable rows. Persistence errors
// are logged, never propagated: a database hiccup must not undo a trade
// that already happened on the exchange.
type Recorder struct {
	store Store
	audit *auditlog.AuditStore
}

func NewRecorder(st Store, audit *auditlog.AuditStore) *Recorder {
	return &Recorder{store: st, audit: audit}
}

func (r *Recorder) RecordSignal(ctx context.Context, sig ledger.Signal) {
	snapshot, _ := json.Marshal(sig.Snapshot)
	row := &model.SignalModel{
		SignalID:      sig.ID,
		TimestampMs:   sig.Timestamp.UnixMilli(),
		Symbol:        sig.Symbol,
		Action:        string(sig.Action),
		Price:         sig.Price,
		Size:          sig.Size,
		Rationale:     sig.Rationale,
		SnapshotJSON:  snapshot,
		Status:        string(sig.Status),
		IsLive:        sig.IsLive,
		CreatedAtUnix: time.Now().Unix(),
	}
	uow, err := r.store.Begin(ctx)
	if err != nil {
		logger.Errorf("recorder: begin failed: %v", err)
		return
	}
	if err := uow.Signals().Append(ctx, row); err != nil {
		_ = uow.Rollback()
		logger.Errorf("recorder: persisting signal %s failed: %v", sig.ID, err)
		return
	}
	if err := uow.Commit(); err != nil {
		logger.Errorf("recorder: commit failed: %v", err)
	}
}

func (r *Recorder) RecordSignalOutcome(ctx context.Context, sig ledger.Signal) {
	uow, err := r.store.Begin(ctx)
	if err != nil {
		logger.Errorf("recorder: begin failed: %v", err)
	} else {
		if err := uow.Signals().UpdateStatus(ctx, sig.ID, string(sig.Status), sig.OrderID, sig.Error); err != nil {
			_ = uow.Rollback()
			logger.Errorf("recorder: updating signal %s failed: %v", sig.ID, err)
		} else if err := uow.Commit(); err != nil {
			logger.Errorf("recorder: commit failed: %v", err)
		}
	}

	// The audit trail gets the finalized signal, outcome included.
	if r.audit != nil {
		if err := r.audit.AppendSignal(ctx, sig); err != nil {
			logger.Warnf("recorder: audit append failed: %v", err)
		}
	}
}

func (r *Recorder) RecordTrade(ctx context.Context, trade ledger.Trade) {
	row := &model.TradeModel{
		Symbol:       trade.Symbol,
		Side:         trade.Side,
		EntryPrice:   trade.EntryPrice,
		ExitPrice:    trade.ExitPrice,
		Size:         trade.Size,
		RealizedPnL:  trade.RealizedPnL,
		Fee:          trade.Fee,
		ExitReason:   string(trade.ExitReason),
		OpenedAtUnix: trade.OpenedAt.Unix(),
		ClosedAtUnix: trade.ClosedAt.Unix(),
		IsLive:       trade.IsLive,
	}
	uow, err := r.store.Begin(ctx)
	if err != nil {
		logger.Errorf("recorder: begin failed: %v", err)
		return
	}
	if err := uow.Trades().Append(ctx, row); err != nil {
		_ = uow.Rollback()
		logger.Errorf("recorder: persisting trade on %s failed: %v", trade.Symbol, err)
		return
	}
	if err := uow.Commit(); err != nil {
		logger.Errorf("recorder: commit failed: %v", err)
	}
}
