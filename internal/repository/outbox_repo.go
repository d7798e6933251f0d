package repository

import (
	"context"

	"flashmall/internal/model"

	"gorm.io/gorm"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) tx(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *OutboxRepository) Create(ctx context.Context, tx *gorm.DB, msg *model.AlertOutbox) error {
	return r.tx(tx).WithContext(ctx).Create(msg).Error
}

// ListPending 查询待投递的消息
func (r *OutboxRepository) ListPending(ctx context.Context, limit int) ([]*model.AlertOutbox, error) {
	var msgs []*model.AlertOutbox
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.AlertOutbox{}).
		Where("id = ?", id).
		Update("status", model.OutboxStatusSent).Error
}

// IncRetry 投递失败后递增重试计数，超限标记为 FAILED
func (r *OutboxRepository) IncRetry(ctx context.Context, id int64, maxRetry int) error {
	return r.db.WithContext(ctx).
		Model(&model.AlertOutbox{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"retry_count": gorm.Expr("retry_count + 1"),
			"status": gorm.Expr(
				"CASE WHEN retry_count + 1 >= ? THEN ? ELSE status END",
				maxRetry, model.OutboxStatusFailed,
			),
		}).Error
}
