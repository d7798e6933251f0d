package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 秒杀活动状态
const (
	ActivityStatusPending   = "PENDING"   // 未开始
	ActivityStatusActive    = "ACTIVE"    // 进行中
	ActivityStatusEnded     = "ENDED"     // 已结束
	ActivityStatusCancelled = "CANCELLED" // 已取消
)

// FlashSaleActivity 秒杀活动表
//
// 预热完成后缓存才是售卖期间的事实来源，这里的状态仅作参考
type FlashSaleActivity struct {
	ID          int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string           `gorm:"type:varchar(100);not null" json:"name"`
	Description string           `gorm:"type:varchar(255)" json:"description"`
	StartTime   time.Time        `gorm:"index;not null" json:"start_time"`
	EndTime     time.Time        `gorm:"index;not null" json:"end_time"`
	Status      string           `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	Offers      []FlashSaleOffer `gorm:"foreignKey:ActivityID" json:"offers"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FlashSaleActivity) TableName() string {
	return "flash_sale_activity"
}

// Modifiable 进行中/已结束的活动不允许再修改
func (a *FlashSaleActivity) Modifiable() bool {
	return a.Status != ActivityStatusActive && a.Status != ActivityStatusEnded
}

// FlashSaleOffer 秒杀商品：一个 SKU 在一个活动中的售卖条件
type FlashSaleOffer struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ActivityID    int64           `gorm:"uniqueIndex:uix_offer_activity_sku;not null" json:"activity_id"`
	SkuID         int64           `gorm:"uniqueIndex:uix_offer_activity_sku;not null" json:"sku_id"`
	SalePrice     decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"sale_price"`
	SaleStock     int64           `gorm:"not null" json:"sale_stock"`               // 秒杀专用库存
	PurchaseLimit int64           `gorm:"not null;default:1" json:"purchase_limit"` // 每人限购数量
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FlashSaleOffer) TableName() string {
	return "flash_sale_offer"
}
