package repository

import (
	"context"
	"errors"

	"flashmall/internal/model"

	"gorm.io/gorm"
)

var (
	ErrSKUNotFound = errors.New("SKU 不存在")
)

type SKURepository struct {
	db *gorm.DB
}

func NewSKURepository(db *gorm.DB) *SKURepository {
	return &SKURepository{db: db}
}

func (r *SKURepository) GetByID(ctx context.Context, skuID int64) (*model.SKU, error) {
	var sku model.SKU
	err := r.db.WithContext(ctx).First(&sku, skuID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSKUNotFound
		}
		return nil, err
	}
	return &sku, nil
}

// MapByIDs 批量查询 SKU，返回 id -> SKU 映射
func (r *SKURepository) MapByIDs(ctx context.Context, skuIDs []int64) (map[int64]*model.SKU, error) {
	var skus []*model.SKU
	if err := r.db.WithContext(ctx).Where("id IN ?", skuIDs).Find(&skus).Error; err != nil {
		return nil, err
	}
	result := make(map[int64]*model.SKU, len(skus))
	for _, sku := range skus {
		result[sku.ID] = sku
	}
	return result, nil
}

// GetProduct 查询商品
func (r *SKURepository) GetProduct(ctx context.Context, productID int64) (*model.Product, error) {
	var product model.Product
	err := r.db.WithContext(ctx).First(&product, productID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSKUNotFound
		}
		return nil, err
	}
	return &product, nil
}

// ListTagIDs 查询商品的标签 ID 列表
func (r *SKURepository) ListTagIDs(ctx context.Context, productID int64) ([]int64, error) {
	var tagIDs []int64
	err := r.db.WithContext(ctx).
		Model(&model.ProductTag{}).
		Where("product_id = ?", productID).
		Pluck("tag_id", &tagIDs).Error
	return tagIDs, err
}
