package repository

import (
	"context"

	"flashmall/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CartRepository struct {
	db *gorm.DB
}

func NewCartRepository(db *gorm.DB) *CartRepository {
	return &CartRepository{db: db}
}

func (r *CartRepository) tx(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

// ListByUser 用户购物车全部条目
func (r *CartRepository) ListByUser(ctx context.Context, userID int64) ([]*model.CartItem, error) {
	var items []*model.CartItem
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("sku_id ASC").
		Find(&items).Error
	return items, err
}

// Upsert 加车：同一 (用户, SKU) 累加数量并刷新价格快照
func (r *CartRepository) Upsert(ctx context.Context, item *model.CartItem) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "sku_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"quantity": gorm.Expr("quantity + ?", item.Quantity),
				"price":    item.Price,
			}),
		}).
		Create(item).Error
}

// DeleteByUserAndSKUs 下单成功后移除已购买条目
func (r *CartRepository) DeleteByUserAndSKUs(ctx context.Context, tx *gorm.DB, userID int64, skuIDs []int64) error {
	if len(skuIDs) == 0 {
		return nil
	}
	return r.tx(tx).WithContext(ctx).
		Where("user_id = ? AND sku_id IN ?", userID, skuIDs).
		Delete(&model.CartItem{}).Error
}
