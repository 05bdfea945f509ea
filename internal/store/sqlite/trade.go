package sqlite

import (
	"context"
	"errors"

	"vela/internal/store/model"

	"gorm.io/gorm"
)

// tradeRepo implements the TradeRepository interface.
type tradeRepo struct {
	db *gorm.DB
}

// NewTradeRepo creates a new tradeRepo.
func NewTradeRepo(db *gorm.DB) *tradeRepo {
	return &tradeRepo{db: db}
}

// Append inserts a realized trade. Trades are immutable, there is no update
// path.
func (r *tradeRepo) Append(ctx context.Context, trade *model.TradeModel) error {
	if trade == nil {
		return errors.New("trade cannot be nil")
	}
	return r.db.WithContext(ctx).Create(trade).Error
}

// ListRecent lists recent trades of one partition, newest first.
func (r *tradeRepo) ListRecent(ctx context.Context, isLive bool, limit int) ([]model.TradeModel, error) {
	var rows []model.TradeModel
	if limit <= 0 {
		limit = 100
	}
	if err := r.db.WithContext(ctx).
		Where("is_live = ?", isLive).
		Order("closed_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListAll lists every trade of one partition, oldest first. Used for the
// equity-curve report.
func (r *tradeRepo) ListAll(ctx context.Context, isLive bool) ([]model.TradeModel, error) {
	var rows []model.TradeModel
	if err := r.db.WithContext(ctx).
		Where("is_live = ?", isLive).
		Order("closed_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
