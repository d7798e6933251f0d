package service

import (
	"context"
	"time"

	"flashmall/internal/model"
	"flashmall/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PromotionLine 参与促销计算的一行商品，带下单时的价格快照
// 和用于范围匹配的商品归属信息。
type PromotionLine struct {
	SkuID      int64
	ProductID  int64
	CategoryID int64
	TagIDs     []int64
	Price      decimal.Decimal
	Quantity   int64
}

// PromotionService 促销优惠选择器
type PromotionService struct {
	promotionRepo *repository.PromotionRepository
}

func NewPromotionService(db *gorm.DB) *PromotionService {
	return &PromotionService{
		promotionRepo: repository.NewPromotionRepository(db),
	}
}

func (s *PromotionService) CreatePromotion(ctx context.Context, promotion *model.Promotion) error {
	return s.promotionRepo.Create(ctx, promotion)
}

// SelectBestPromotion 从当前生效的促销中为一组商品行挑选优惠金额
// 最大的一个。没有可用促销时返回 (nil, 0)。
func (s *PromotionService) SelectBestPromotion(ctx context.Context, lines []*PromotionLine) (*model.Promotion, decimal.Decimal, error) {
	promotions, err := s.promotionRepo.ListActive(ctx, time.Now().UTC())
	if err != nil {
		return nil, decimal.Zero, err
	}
	best, discount := SelectBestPromotion(lines, promotions)
	return best, discount, nil
}

// SelectBestPromotion 纯计算：对每个促销先按目标范围筛选适用商品行，
// 再判定触发条件，计算候选优惠并收敛到适用小计之内，最后取优惠
// 金额最大者。金额相同时取 ID 更大（更晚创建）的促销。
//
// promotions 需按 ID 降序传入，遍历时用严格大于比较即可保证平局
// 偏向高 ID。
func SelectBestPromotion(lines []*PromotionLine, promotions []*model.Promotion) (*model.Promotion, decimal.Decimal) {
	var best *model.Promotion
	maxDiscount := decimal.Zero

	for _, promo := range promotions {
		applicable := filterApplicableLines(lines, promo)
		if len(applicable) == 0 {
			continue
		}

		var subtotal decimal.Decimal
		var totalQty int64
		for _, line := range applicable {
			subtotal = subtotal.Add(line.Price.Mul(decimal.NewFromInt(line.Quantity)))
			totalQty += line.Quantity
		}

		discount := decimal.Zero
		switch promo.ActionType {
		case model.PromotionActionFixed, model.PromotionActionPercentage:
			if !conditionMet(promo, subtotal, totalQty) {
				continue
			}
			if promo.ActionType == model.PromotionActionFixed {
				discount = promo.ActionValue
			} else {
				discount = subtotal.Mul(promo.ActionValue).Div(decimal.NewFromInt(100))
			}

		case model.PromotionActionBuyNGetM:
			// 单品满 N 件减 M 件：条件必须是满件数，且减免件数 >= 1，
			// 每行商品独立计算，减免件数不超过该行购买件数
			if promo.ConditionType != model.PromotionConditionMinQuantity {
				continue
			}
			if promo.ActionValue.LessThan(decimal.NewFromInt(1)) {
				continue
			}
			conditionQty := promo.ConditionValue.IntPart()
			if conditionQty < 1 {
				continue
			}
			freePerSet := promo.ActionValue.IntPart()
			for _, line := range applicable {
				if line.Quantity < conditionQty {
					continue
				}
				freeItems := (line.Quantity / conditionQty) * freePerSet
				if freeItems > line.Quantity {
					freeItems = line.Quantity
				}
				discount = discount.Add(line.Price.Mul(decimal.NewFromInt(freeItems)))
			}
		}

		if discount.GreaterThan(subtotal) {
			discount = subtotal
		}
		if discount.GreaterThan(maxDiscount) {
			maxDiscount = discount
			best = promo
		}
	}

	return best, maxDiscount
}

func filterApplicableLines(lines []*PromotionLine, promo *model.Promotion) []*PromotionLine {
	if promo.TargetType == model.PromotionTargetAll {
		return lines
	}

	targetSet := make(map[int64]struct{}, len(promo.TargetIDs))
	for _, id := range promo.TargetIDs {
		targetSet[id] = struct{}{}
	}

	var applicable []*PromotionLine
	for _, line := range lines {
		switch promo.TargetType {
		case model.PromotionTargetProduct:
			if _, ok := targetSet[line.ProductID]; ok {
				applicable = append(applicable, line)
			}
		case model.PromotionTargetCategory:
			if _, ok := targetSet[line.CategoryID]; ok {
				applicable = append(applicable, line)
			}
		case model.PromotionTargetTag:
			for _, tagID := range line.TagIDs {
				if _, ok := targetSet[tagID]; ok {
					applicable = append(applicable, line)
					break
				}
			}
		}
	}
	return applicable
}

func conditionMet(promo *model.Promotion, subtotal decimal.Decimal, totalQty int64) bool {
	switch promo.ConditionType {
	case model.PromotionConditionNone:
		return true
	case model.PromotionConditionMinAmount:
		return subtotal.GreaterThanOrEqual(promo.ConditionValue)
	case model.PromotionConditionMinQuantity:
		return decimal.NewFromInt(totalQty).GreaterThanOrEqual(promo.ConditionValue)
	}
	return false
}
