package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusPendingPayment = "PENDING_PAYMENT"
	OrderStatusProcessing     = "PROCESSING"
	OrderStatusShipped        = "SHIPPED"
	OrderStatusDelivered      = "DELIVERED"
	OrderStatusCompleted      = "COMPLETED"
	OrderStatusCancelled      = "CANCELLED"
	OrderStatusRefunded       = "REFUNDED"
)

// ValidStatusTransitions 订单状态机；终态订单不再变更
var ValidStatusTransitions = map[string][]string{
	OrderStatusPendingPayment: {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing:     {OrderStatusShipped, OrderStatusRefunded},
	OrderStatusShipped:        {OrderStatusDelivered},
	OrderStatusDelivered:      {OrderStatusCompleted},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Order 订单主表
type Order struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderSn         string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_sn"`
	RequestID       string          `gorm:"type:varchar(64);index" json:"request_id,omitempty"` // 秒杀请求ID，普通订单为空
	UserID          int64           `gorm:"index;not null" json:"user_id"`
	Status          string          `gorm:"type:varchar(20);index;not null" json:"status"`
	TotalAmount     decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"total_amount"`
	PayAmount       decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"pay_amount"`
	PromotionAmount decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"promotion_amount"`
	PromotionID     *int64          `json:"promotion_id"`
	PaymentMethod   string          `gorm:"type:varchar(32)" json:"payment_method"`
	TradeNo         string          `gorm:"type:varchar(64)" json:"trade_no"`
	PayTime         *time.Time      `json:"pay_time"`
	ReceiverName    string          `gorm:"type:varchar(50)" json:"receiver_name"`
	ReceiverPhone   string          `gorm:"type:varchar(20)" json:"receiver_phone"`
	ReceiverAddress string          `gorm:"type:varchar(255)" json:"receiver_address"`
	Notes           string          `gorm:"type:varchar(256)" json:"notes"`
	Items           []OrderItem     `gorm:"foreignKey:OrderID" json:"items"`
	CreatedAt       time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string {
	return "mall_order"
}

// OrderItem 订单明细，sku_price 是下单时刻的价格快照，不随后续改价变动
type OrderItem struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID     int64           `gorm:"index;not null" json:"order_id"`
	SkuID       int64           `gorm:"index;not null" json:"sku_id"`
	ProductName string          `gorm:"type:varchar(128)" json:"product_name"`
	SkuName     string          `gorm:"type:varchar(128)" json:"sku_name"`
	SkuPrice    decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"sku_price"`
	Quantity    int64           `gorm:"not null" json:"quantity"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (OrderItem) TableName() string {
	return "mall_order_item"
}
