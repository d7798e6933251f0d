package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 促销目标范围
const (
	PromotionTargetAll      = "ALL"      // 全部商品
	PromotionTargetProduct  = "PRODUCT"  // 指定商品
	PromotionTargetCategory = "CATEGORY" // 指定类目
	PromotionTargetTag      = "TAG"      // 指定标签
)

// 促销触发条件
const (
	PromotionConditionNone        = "NONE"         // 无门槛
	PromotionConditionMinAmount   = "MIN_AMOUNT"   // 满金额
	PromotionConditionMinQuantity = "MIN_QUANTITY" // 满件数
)

// 促销动作
const (
	PromotionActionFixed      = "FIXED"         // 立减固定金额
	PromotionActionPercentage = "PERCENTAGE"    // 按比例折扣
	PromotionActionBuyNGetM   = "BUY_N_GET_M"   // 单品满 N 件减 M 件
)

// Promotion 促销活动表
type Promotion struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name           string          `gorm:"type:varchar(100);not null" json:"name"`
	TargetType     string          `gorm:"type:varchar(20);not null" json:"target_type"`
	TargetIDs      []int64         `gorm:"serializer:json;type:varchar(1024)" json:"target_ids"`
	ConditionType  string          `gorm:"type:varchar(20);not null" json:"condition_type"`
	ConditionValue decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"condition_value"`
	ActionType     string          `gorm:"type:varchar(20);not null" json:"action_type"`
	ActionValue    decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"action_value"`
	StartTime      time.Time       `gorm:"index;not null" json:"start_time"`
	EndTime        time.Time       `gorm:"index;not null" json:"end_time"`
	IsActive       bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Promotion) TableName() string {
	return "promotion"
}
