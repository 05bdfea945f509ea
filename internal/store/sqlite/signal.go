package sqlite

import (
	"context"
	"errors"

	"vela/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// signalRepo implements the SignalRepository interface.
type signalRepo struct {
	db *gorm.DB
}

// NewSignalRepo creates a new signalRepo.
func NewSignalRepo(db *gorm.DB) *signalRepo {
	return &signalRepo{db: db}
}

// Append inserts a signal. Re-inserting the same signal_id is a no-op so a
// retried persistence call cannot duplicate rows.
func (r *signalRepo) Append(ctx context.Context, sig *model.SignalModel) error {
	if sig == nil {
		return errors.New("signal cannot be nil")
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "signal_id"}},
		DoNothing: true,
	}).Create(sig).Error
}

// UpdateStatus records the final outcome of a signal's order.
func (r *signalRepo) UpdateStatus(ctx context.Context, signalID, status, orderID, errMsg string) error {
	return r.db.WithContext(ctx).Model(&model.SignalModel{}).
		Where("signal_id = ?", signalID).
		Updates(map[string]interface{}{
			"status":   status,
			"order_id": orderID,
			"error":    errMsg,
		}).Error
}

// ListRecent lists recent signals of one partition, newest first.
func (r *signalRepo) ListRecent(ctx context.Context, isLive bool, limit int) ([]model.SignalModel, error) {
	var rows []model.SignalModel
	if limit <= 0 {
		limit = 100
	}
	if err := r.db.WithContext(ctx).
		Where("is_live = ?", isLive).
		Order("timestamp_ms DESC, id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
