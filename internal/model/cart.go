package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartItem 购物车条目，price 为加车时的价格快照
type CartItem struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64           `gorm:"uniqueIndex:uix_cart_user_sku;not null" json:"user_id"`
	SkuID     int64           `gorm:"uniqueIndex:uix_cart_user_sku;not null" json:"sku_id"`
	Quantity  int64           `gorm:"not null" json:"quantity"`
	Price     decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CartItem) TableName() string {
	return "cart_item"
}
