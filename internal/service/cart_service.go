package service

import (
	"context"

	"flashmall/internal/model"
	"flashmall/internal/repository"

	"gorm.io/gorm"
)

// CartService 购物车
type CartService struct {
	cartRepo *repository.CartRepository
	skuRepo  *repository.SKURepository
}

func NewCartService(db *gorm.DB) *CartService {
	return &CartService{
		cartRepo: repository.NewCartRepository(db),
		skuRepo:  repository.NewSKURepository(db),
	}
}

// AddToCart 加入购物车：同一 SKU 重复加入时累加数量，
// 价格取加车时的 SKU 现价作为快照
func (s *CartService) AddToCart(ctx context.Context, userID, skuID, quantity int64) error {
	sku, err := s.skuRepo.GetByID(ctx, skuID)
	if err != nil {
		return err
	}
	return s.cartRepo.Upsert(ctx, &model.CartItem{
		UserID:   userID,
		SkuID:    skuID,
		Quantity: quantity,
		Price:    sku.Price,
	})
}

func (s *CartService) ListCart(ctx context.Context, userID int64) ([]*model.CartItem, error) {
	return s.cartRepo.ListByUser(ctx, userID)
}
