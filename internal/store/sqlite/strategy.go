package sqlite

import (
	"context"
	"errors"

	"vela/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// strategyRepo implements the StrategyRepository interface.
type strategyRepo struct {
	db *gorm.DB
}

// NewStrategyRepo creates a new strategyRepo.
func NewStrategyRepo(db *gorm.DB) *strategyRepo {
	return &strategyRepo{db: db}
}

// Save saves or updates the active row for the strategy's symbol.
func (r *strategyRepo) Save(ctx context.Context, strategy *model.ActiveStrategyModel) error {
	if strategy == nil {
		return errors.New("strategy cannot be nil")
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		UpdateAll: true,
	}).Save(strategy).Error
}

// FindBySymbol returns the active row for symbol, or nil if none exists.
func (r *strategyRepo) FindBySymbol(ctx context.Context, symbol string) (*model.ActiveStrategyModel, error) {
	var row model.ActiveStrategyModel
	err := r.db.WithContext(ctx).Where("symbol = ?", symbol).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListActive lists every strategy that should be running. Used on boot.
func (r *strategyRepo) ListActive(ctx context.Context) ([]model.ActiveStrategyModel, error) {
	var rows []model.ActiveStrategyModel
	if err := r.db.WithContext(ctx).
		Order("started_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Archive moves the active row for symbol into strategy_history, rolling up
// the realized P&L and trade count of the run from the trades table. A
// missing active row is not an error: stop after a crash-recovery mismatch
// must still succeed.
func (r *strategyRepo) Archive(ctx context.Context, symbol, stopReason string, stoppedAtUnix int64) error {
	var row model.ActiveStrategyModel
	err := r.db.WithContext(ctx).Where("symbol = ?", symbol).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var agg struct {
		Pnl float64 `gorm:"column:pnl"`
		Cnt int64   `gorm:"column:cnt"`
	}
	if err := r.db.WithContext(ctx).Model(&model.TradeModel{}).
		Select("COALESCE(SUM(realized_pnl), 0) AS pnl, COUNT(*) AS cnt").
		Where("symbol = ? AND is_live = ? AND closed_at >= ?", row.Symbol, row.IsLive, row.StartedAtUnix).
		Scan(&agg).Error; err != nil {
		return err
	}
	hist := model.StrategyHistoryModel{
		Symbol:        row.Symbol,
		Mode:          row.Mode,
		Interval:      row.Interval,
		IsLive:        row.IsLive,
		ParamsJSON:    row.ParamsJSON,
		StartedAtUnix: row.StartedAtUnix,
		StoppedAtUnix: stoppedAtUnix,
		StopReason:    stopReason,
		FinalPnL:      agg.Pnl,
		TradeCount:    agg.Cnt,
	}
	if err := r.db.WithContext(ctx).Create(&hist).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Where("symbol = ?", symbol).Delete(&model.ActiveStrategyModel{}).Error
}

// ListHistory lists recently stopped strategies, newest first.
func (r *strategyRepo) ListHistory(ctx context.Context, limit int) ([]model.StrategyHistoryModel, error) {
	var rows []model.StrategyHistoryModel
	if limit <= 0 {
		limit = 100
	}
	if err := r.db.WithContext(ctx).
		Order("stopped_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
