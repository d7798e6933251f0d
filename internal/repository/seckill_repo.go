package repository

import (
	"context"
	"errors"
	"time"

	"flashmall/internal/model"

	"gorm.io/gorm"
)

var (
	ErrActivityNotFound = errors.New("秒杀活动不存在")
	ErrOfferNotFound    = errors.New("秒杀商品不存在")
	ErrOfferDuplicated  = errors.New("SKU 已参与该秒杀活动")
)

type SeckillRepository struct {
	db *gorm.DB
}

func NewSeckillRepository(db *gorm.DB) *SeckillRepository {
	return &SeckillRepository{db: db}
}

func (r *SeckillRepository) tx(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *SeckillRepository) CreateActivity(ctx context.Context, activity *model.FlashSaleActivity) error {
	return r.db.WithContext(ctx).Create(activity).Error
}

// GetActivity 获取活动（含全部秒杀商品）
func (r *SeckillRepository) GetActivity(ctx context.Context, activityID int64) (*model.FlashSaleActivity, error) {
	var activity model.FlashSaleActivity
	err := r.db.WithContext(ctx).
		Preload("Offers").
		First(&activity, activityID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrActivityNotFound
		}
		return nil, err
	}
	return &activity, nil
}

// UpdateActivityStatus 活动状态流转
func (r *SeckillRepository) UpdateActivityStatus(ctx context.Context, tx *gorm.DB, activityID int64, fromStatus, toStatus string) error {
	result := r.tx(tx).WithContext(ctx).
		Model(&model.FlashSaleActivity{}).
		Where("id = ? AND status = ?", activityID, fromStatus).
		Update("status", toStatus)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrActivityNotFound
	}
	return nil
}

// ActivateDueActivities 将已到开始时间的 PENDING 活动置为 ACTIVE，返回影响行数
func (r *SeckillRepository) ActivateDueActivities(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.FlashSaleActivity{}).
		Where("status = ? AND start_time <= ?", model.ActivityStatusPending, now).
		Update("status", model.ActivityStatusActive)
	return result.RowsAffected, result.Error
}

// EndExpiredActivities 将已过结束时间的 ACTIVE 活动置为 ENDED，返回影响行数
func (r *SeckillRepository) EndExpiredActivities(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.FlashSaleActivity{}).
		Where("status = ? AND end_time <= ?", model.ActivityStatusActive, now).
		Update("status", model.ActivityStatusEnded)
	return result.RowsAffected, result.Error
}

// AddOffer 向活动添加秒杀商品，同一 SKU 只能参加一次
func (r *SeckillRepository) AddOffer(ctx context.Context, offer *model.FlashSaleOffer) error {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.FlashSaleOffer{}).
		Where("activity_id = ? AND sku_id = ?", offer.ActivityID, offer.SkuID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrOfferDuplicated
	}
	return r.db.WithContext(ctx).Create(offer).Error
}

// GetOffer 按主键获取秒杀商品
func (r *SeckillRepository) GetOffer(ctx context.Context, offerID int64) (*model.FlashSaleOffer, error) {
	var offer model.FlashSaleOffer
	err := r.db.WithContext(ctx).First(&offer, offerID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOfferNotFound
		}
		return nil, err
	}
	return &offer, nil
}
