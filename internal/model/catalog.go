package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Warehouse 仓库表
type Warehouse struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	Location  string    `gorm:"type:varchar(255)" json:"location"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Warehouse) TableName() string {
	return "warehouse"
}

// Product 商品表（促销范围匹配需要类目与标签信息）
type Product struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string    `gorm:"type:varchar(128);not null" json:"name"`
	CategoryID int64     `gorm:"index;not null" json:"category_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string {
	return "product"
}

// ProductTag 商品-标签关联表
type ProductTag struct {
	ID        int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID int64 `gorm:"index;not null" json:"product_id"`
	TagID     int64 `gorm:"index;not null" json:"tag_id"`
}

func (ProductTag) TableName() string {
	return "product_tag"
}

// SKU 最小销售单元
type SKU struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Code      string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"code"`
	Name      string          `gorm:"type:varchar(128);not null" json:"name"`
	ProductID int64           `gorm:"index;not null" json:"product_id"`
	Price     decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SKU) TableName() string {
	return "sku"
}
