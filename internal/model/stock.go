package model

import (
	"time"
)

// ============================================================
// 库存流水类型常量
// ============================================================

const (
	StockTxTypeIn          = "IN"           // 入库
	StockTxTypeOut         = "OUT"          // 出库（预留转实扣）
	StockTxTypeReserve     = "RESERVE"      // 预留库存
	StockTxTypeRelease     = "RELEASE"      // 释放预留库存
	StockTxTypeAdjust      = "ADJUST"       // 库存调整
	StockTxTypeTransferIn  = "TRANSFER_IN"  // 调拨入库
	StockTxTypeTransferOut = "TRANSFER_OUT" // 调拨出库
)

// 关联类型常量：reference_id + reference_type 将属于同一业务事件的
// 流水分组，也是释放/确认操作的幂等键
const (
	RefTypeOrderCreation        = "order_creation"         // 普通下单预留
	RefTypeSeckillOrderCreation = "seckill_order_creation" // 秒杀下单预留
	RefTypeOrderCancellation    = "order_cancellation"     // 取消订单释放
	RefTypeOrderShipment        = "order_shipment"         // 支付确认出库
	RefTypeStockIn              = "stock_in"               // 采购入库
	RefTypeAdjustment           = "inventory_adjustment"   // 人工调整
	RefTypeTransfer             = "inventory_transfer"     // 仓库调拨
)

// StockItem 库存项表 - 每个 (SKU, 仓库) 一行
//
// 不变式：任意时刻 0 <= reserved <= quantity
type StockItem struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SkuID          int64     `gorm:"uniqueIndex:uix_stock_sku_warehouse;not null" json:"sku_id"`
	WarehouseID    int64     `gorm:"uniqueIndex:uix_stock_sku_warehouse;not null" json:"warehouse_id"`
	Quantity       int64     `gorm:"not null;default:0" json:"quantity"`        // 在库数量
	Reserved       int64     `gorm:"not null;default:0" json:"reserved"`        // 已预留未出库数量
	AlertThreshold int64     `gorm:"not null;default:10" json:"alert_threshold"` // 低库存预警阈值
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (StockItem) TableName() string {
	return "stock_item"
}

// Available 可用库存
func (s *StockItem) Available() int64 {
	return s.Quantity - s.Reserved
}

// StockTransaction 库存流水表
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 每笔流水关联业务事件（reference_id/reference_type）—— 便于对账
// 3. 余额可由流水重建 —— 便于校验一致性：
//    quantity = IN/OUT/ADJUST/TRANSFER_IN/TRANSFER_OUT 带符号数量之和
//    reserved = RESERVE 之和 - RELEASE 之和 - OUT 的绝对值之和
//    （RESERVE/RELEASE 记正数，OUT 记负数）
type StockTransaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	StockItemID   int64     `gorm:"index;not null" json:"stock_item_id"`
	Type          string    `gorm:"type:varchar(20);not null" json:"type"`
	Quantity      int64     `gorm:"not null" json:"quantity"` // 带符号数量（入库为正，出库为负）
	ReferenceID   string    `gorm:"type:varchar(64);index" json:"reference_id"`
	ReferenceType string    `gorm:"type:varchar(50);index" json:"reference_type"`
	OperatorID    int64     `json:"operator_id"`
	Notes         string    `gorm:"type:varchar(256)" json:"notes"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (StockTransaction) TableName() string {
	return "stock_transaction"
}
