package repository

import (
	"context"
	"time"

	"flashmall/internal/model"

	"gorm.io/gorm"
)

type PromotionRepository struct {
	db *gorm.DB
}

func NewPromotionRepository(db *gorm.DB) *PromotionRepository {
	return &PromotionRepository{db: db}
}

func (r *PromotionRepository) Create(ctx context.Context, promotion *model.Promotion) error {
	return r.db.WithContext(ctx).Create(promotion).Error
}

// ListActive 当前生效的促销，按 ID 降序（同等优惠时优先应用新活动）
func (r *PromotionRepository) ListActive(ctx context.Context, now time.Time) ([]*model.Promotion, error) {
	var promotions []*model.Promotion
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND start_time <= ? AND end_time >= ?", true, now, now).
		Order("id DESC").
		Find(&promotions).Error
	return promotions, err
}
