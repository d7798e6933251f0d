package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"flashmall/internal/config"
	"flashmall/internal/infrastructure/lock"
	"flashmall/internal/logger"
	"flashmall/internal/model"
	"flashmall/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// InventoryService 库存台账：每个 (SKU, 仓库) 的计数器加只追加的流水。
//
// 所有带 tx 参数的方法都运行在调用方的数据库事务和调用方持有的
// SKU 锁之内，台账自身从不提交事务；StockIn / Adjust / Transfer
// 等不带 tx 的便捷方法自己加锁、自己开事务。
type InventoryService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	stockRepo   *repository.StockRepository
	outboxRepo  *repository.OutboxRepository
}

func NewInventoryService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *InventoryService {
	return &InventoryService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		stockRepo:   repository.NewStockRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
	}
}

// CheckAvailable 校验可用库存（quantity - reserved）是否满足需求。
// warehouseID 为 0 时合计全部仓库。
func (s *InventoryService) CheckAvailable(ctx context.Context, tx *gorm.DB, skuID, qty, warehouseID int64) (bool, error) {
	items, err := s.stockRepo.ListItemsBySKU(ctx, tx, skuID, warehouseID)
	if err != nil {
		return false, err
	}
	var available int64
	for _, item := range items {
		available += item.Available()
	}
	return available >= qty, nil
}

// Reserve 预留库存：必须在调用方的事务和 SKU 锁内执行。
//
// warehouseID 为 0 时，按仓库 ID 升序选择第一个可用库存充足的
// 单仓；不会把一次预留拆到多个仓库。即使多仓合计充足而单仓不足，
// 也返回 ErrInsufficientStock —— 避免一张订单拆包发货，该取舍是
// 有意保留的。
func (s *InventoryService) Reserve(ctx context.Context, tx *gorm.DB, skuID, qty int64, referenceID, referenceType string, warehouseID, operatorID int64, notes string) error {
	items, err := s.stockRepo.ListItemsBySKU(ctx, tx, skuID, warehouseID)
	if err != nil {
		return err
	}

	var target *model.StockItem
	for _, item := range items {
		if item.Available() >= qty {
			target = item
			break
		}
	}
	if target == nil {
		return fmt.Errorf("SKU %d: %w", skuID, ErrInsufficientStock)
	}

	if err := s.stockRepo.AddReserved(ctx, tx, target.ID, qty); err != nil {
		return err
	}

	return s.stockRepo.CreateTransaction(ctx, tx, &model.StockTransaction{
		StockItemID:   target.ID,
		Type:          model.StockTxTypeReserve,
		Quantity:      qty,
		ReferenceID:   referenceID,
		ReferenceType: referenceType,
		OperatorID:    operatorID,
		Notes:         notes,
	})
}

// Release 释放预留库存（取消订单、支付超时用）。
//
// 幂等：同一 referenceID 重复释放，第二次是记 warning 的空操作；
// 找不到匹配的预留流水同样只告警不报错。
func (s *InventoryService) Release(ctx context.Context, tx *gorm.DB, referenceID string, originalReferenceTypes []string, newReferenceType string, operatorID int64, notes string) error {
	released, err := s.stockRepo.CountTransactions(ctx, tx, referenceID, model.StockTxTypeRelease)
	if err != nil {
		return err
	}
	if released > 0 {
		logger.Get().Warn("预留库存已经释放过，跳过",
			zap.String("reference_id", referenceID))
		return nil
	}

	reserveTxns, err := s.stockRepo.FindTransactions(ctx, tx, referenceID, originalReferenceTypes, model.StockTxTypeReserve)
	if err != nil {
		return err
	}
	if len(reserveTxns) == 0 {
		logger.Get().Warn("没有找到可释放的预留流水",
			zap.String("reference_id", referenceID),
			zap.Strings("reference_types", originalReferenceTypes))
		return nil
	}

	for _, txn := range reserveTxns {
		if err := s.stockRepo.AddReserved(ctx, tx, txn.StockItemID, -txn.Quantity); err != nil {
			return err
		}
		releaseTxn := &model.StockTransaction{
			StockItemID:   txn.StockItemID,
			Type:          model.StockTxTypeRelease,
			Quantity:      txn.Quantity,
			ReferenceID:   referenceID,
			ReferenceType: newReferenceType,
			OperatorID:    operatorID,
			Notes:         notes,
		}
		if err := s.stockRepo.CreateTransaction(ctx, tx, releaseTxn); err != nil {
			return err
		}
	}
	return nil
}

// Confirm 确认出库：预留转实扣（支付确认后调用）。
//
// 对每条匹配的预留流水，同时扣减 quantity 与 reserved 并追加 OUT
// 流水（带符号为负），之后检查预警阈值。幂等：已出库的引用再次
// 确认是记 warning 的空操作。
func (s *InventoryService) Confirm(ctx context.Context, tx *gorm.DB, referenceID string, originalReferenceTypes []string, newReferenceType string, operatorID int64) error {
	shipped, err := s.stockRepo.CountTransactions(ctx, tx, referenceID, model.StockTxTypeOut)
	if err != nil {
		return err
	}
	if shipped > 0 {
		logger.Get().Warn("预留库存已经确认出库过，跳过",
			zap.String("reference_id", referenceID))
		return nil
	}

	reserveTxns, err := s.stockRepo.FindTransactions(ctx, tx, referenceID, originalReferenceTypes, model.StockTxTypeReserve)
	if err != nil {
		return err
	}
	if len(reserveTxns) == 0 {
		logger.Get().Warn("没有找到可确认出库的预留流水",
			zap.String("reference_id", referenceID))
		return nil
	}

	for _, txn := range reserveTxns {
		if err := s.stockRepo.AddQuantityAndReserved(ctx, tx, txn.StockItemID, -txn.Quantity, -txn.Quantity); err != nil {
			return err
		}
		outTxn := &model.StockTransaction{
			StockItemID:   txn.StockItemID,
			Type:          model.StockTxTypeOut,
			Quantity:      -txn.Quantity,
			ReferenceID:   referenceID,
			ReferenceType: newReferenceType,
			OperatorID:    operatorID,
		}
		if err := s.stockRepo.CreateTransaction(ctx, tx, outTxn); err != nil {
			return err
		}
		if err := s.checkAlertThreshold(ctx, tx, txn.StockItemID); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================
// 便捷操作：自己加锁、自己开事务
// ============================================================

// StockIn 入库
func (s *InventoryService) StockIn(ctx context.Context, skuID, warehouseID, qty int64, referenceID string, operatorID int64, notes string) error {
	stockLock := lock.NewStockLock(s.redisClient, skuID, s.lockTTL())
	if err := stockLock.Lock(ctx, s.lockRetryInterval(), s.lockRetryCount()); err != nil {
		return ErrLockAcquisitionFailed
	}
	defer stockLock.Unlock(ctx)

	return s.db.Transaction(func(tx *gorm.DB) error {
		item, err := s.stockRepo.GetOrCreateItem(ctx, tx, skuID, warehouseID)
		if err != nil {
			return err
		}
		if err := s.stockRepo.AddQuantity(ctx, tx, item.ID, qty); err != nil {
			return err
		}
		return s.stockRepo.CreateTransaction(ctx, tx, &model.StockTransaction{
			StockItemID:   item.ID,
			Type:          model.StockTxTypeIn,
			Quantity:      qty,
			ReferenceID:   referenceID,
			ReferenceType: model.RefTypeStockIn,
			OperatorID:    operatorID,
			Notes:         notes,
		})
	})
}

// Adjust 人工调整库存为指定值，差额记为带符号的 ADJUST 流水
func (s *InventoryService) Adjust(ctx context.Context, skuID, warehouseID, newQuantity, operatorID int64, notes string) error {
	stockLock := lock.NewStockLock(s.redisClient, skuID, s.lockTTL())
	if err := stockLock.Lock(ctx, s.lockRetryInterval(), s.lockRetryCount()); err != nil {
		return ErrLockAcquisitionFailed
	}
	defer stockLock.Unlock(ctx)

	return s.db.Transaction(func(tx *gorm.DB) error {
		item, err := s.stockRepo.GetOrCreateItem(ctx, tx, skuID, warehouseID)
		if err != nil {
			return err
		}
		delta := newQuantity - item.Quantity
		if err := s.stockRepo.SetQuantity(ctx, tx, item.ID, newQuantity); err != nil {
			return err
		}
		txn := &model.StockTransaction{
			StockItemID:   item.ID,
			Type:          model.StockTxTypeAdjust,
			Quantity:      delta,
			ReferenceType: model.RefTypeAdjustment,
			OperatorID:    operatorID,
			Notes:         notes,
		}
		if err := s.stockRepo.CreateTransaction(ctx, tx, txn); err != nil {
			return err
		}
		return s.checkAlertThreshold(ctx, tx, item.ID)
	})
}

// Transfer 仓库调拨：源仓扣减、目标仓增加，各记一条流水
func (s *InventoryService) Transfer(ctx context.Context, skuID, fromWarehouseID, toWarehouseID, qty, operatorID int64, notes string) error {
	stockLock := lock.NewStockLock(s.redisClient, skuID, s.lockTTL())
	if err := stockLock.Lock(ctx, s.lockRetryInterval(), s.lockRetryCount()); err != nil {
		return ErrLockAcquisitionFailed
	}
	defer stockLock.Unlock(ctx)

	return s.db.Transaction(func(tx *gorm.DB) error {
		ok, err := s.CheckAvailable(ctx, tx, skuID, qty, fromWarehouseID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("源仓库 %d: %w", fromWarehouseID, ErrInsufficientStock)
		}

		fromItem, err := s.stockRepo.GetItem(ctx, tx, skuID, fromWarehouseID)
		if err != nil {
			return err
		}
		toItem, err := s.stockRepo.GetOrCreateItem(ctx, tx, skuID, toWarehouseID)
		if err != nil {
			return err
		}

		if err := s.stockRepo.AddQuantity(ctx, tx, fromItem.ID, -qty); err != nil {
			return err
		}
		if err := s.stockRepo.AddQuantity(ctx, tx, toItem.ID, qty); err != nil {
			return err
		}

		referenceID := fmt.Sprintf("sku_%d_wh_%d_to_%d", skuID, fromWarehouseID, toWarehouseID)
		outTxn := &model.StockTransaction{
			StockItemID:   fromItem.ID,
			Type:          model.StockTxTypeTransferOut,
			Quantity:      -qty,
			ReferenceID:   referenceID,
			ReferenceType: model.RefTypeTransfer,
			OperatorID:    operatorID,
			Notes:         notes,
		}
		if err := s.stockRepo.CreateTransaction(ctx, tx, outTxn); err != nil {
			return err
		}
		inTxn := &model.StockTransaction{
			StockItemID:   toItem.ID,
			Type:          model.StockTxTypeTransferIn,
			Quantity:      qty,
			ReferenceID:   referenceID,
			ReferenceType: model.RefTypeTransfer,
			OperatorID:    operatorID,
			Notes:         notes,
		}
		if err := s.stockRepo.CreateTransaction(ctx, tx, inTxn); err != nil {
			return err
		}

		return s.checkAlertThreshold(ctx, tx, fromItem.ID)
	})
}

// GetSKUStock 查询 SKU 在各仓库的库存
func (s *InventoryService) GetSKUStock(ctx context.Context, skuID, warehouseID int64) ([]*model.StockItem, error) {
	return s.stockRepo.ListItemsBySKU(ctx, nil, skuID, warehouseID)
}

// ListLowStockItems 查询低于预警阈值的库存项
func (s *InventoryService) ListLowStockItems(ctx context.Context, warehouseID int64) ([]*model.StockItem, error) {
	return s.stockRepo.ListLowStockItems(ctx, warehouseID)
}

// checkAlertThreshold 低库存预警：阈值被触达时在当前事务内写入
// 预警发件箱，由后台任务投递到通知通道
func (s *InventoryService) checkAlertThreshold(ctx context.Context, tx *gorm.DB, stockItemID int64) error {
	item, err := s.stockRepo.GetItemByID(ctx, tx, stockItemID)
	if err != nil {
		return err
	}
	if item.Quantity > item.AlertThreshold {
		return nil
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"stock_item_id":   item.ID,
		"sku_id":          item.SkuID,
		"warehouse_id":    item.WarehouseID,
		"quantity":        item.Quantity,
		"reserved":        item.Reserved,
		"available":       item.Available(),
		"alert_threshold": item.AlertThreshold,
	})

	logger.Get().Warn("库存低于预警阈值",
		zap.Int64("stock_item_id", item.ID),
		zap.Int64("sku_id", item.SkuID),
		zap.Int64("quantity", item.Quantity),
		zap.Int64("alert_threshold", item.AlertThreshold))

	return s.outboxRepo.Create(ctx, tx, &model.AlertOutbox{
		MessageKey: fmt.Sprintf("stock_alert_%d", item.ID),
		Topic:      s.cfg.Kafka.Topic.StockAlert,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}

func (s *InventoryService) lockTTL() time.Duration {
	if s.cfg.Business.LockTTLSeconds > 0 {
		return time.Duration(s.cfg.Business.LockTTLSeconds) * time.Second
	}
	return 10 * time.Second
}

func (s *InventoryService) lockRetryInterval() time.Duration {
	if s.cfg.Business.LockRetryIntervalMs > 0 {
		return time.Duration(s.cfg.Business.LockRetryIntervalMs) * time.Millisecond
	}
	return 100 * time.Millisecond
}

func (s *InventoryService) lockRetryCount() int {
	if s.cfg.Business.LockRetryCount > 0 {
		return s.cfg.Business.LockRetryCount
	}
	return 10
}
