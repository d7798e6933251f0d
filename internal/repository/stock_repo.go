package repository

import (
	"context"
	"errors"

	"flashmall/internal/model"

	"gorm.io/gorm"
)

var (
	ErrStockItemNotFound = errors.New("库存记录不存在")
)

type StockRepository struct {
	db *gorm.DB
}

func NewStockRepository(db *gorm.DB) *StockRepository {
	return &StockRepository{db: db}
}

func (r *StockRepository) tx(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

// GetItem 获取 (SKU, 仓库) 库存项
func (r *StockRepository) GetItem(ctx context.Context, tx *gorm.DB, skuID, warehouseID int64) (*model.StockItem, error) {
	var item model.StockItem
	err := r.tx(tx).WithContext(ctx).
		Where("sku_id = ? AND warehouse_id = ?", skuID, warehouseID).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStockItemNotFound
		}
		return nil, err
	}
	return &item, nil
}

// GetItemByID 按主键获取库存项
func (r *StockRepository) GetItemByID(ctx context.Context, tx *gorm.DB, id int64) (*model.StockItem, error) {
	var item model.StockItem
	err := r.tx(tx).WithContext(ctx).First(&item, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStockItemNotFound
		}
		return nil, err
	}
	return &item, nil
}

// GetOrCreateItem 获取库存项，不存在时创建零库存行
func (r *StockRepository) GetOrCreateItem(ctx context.Context, tx *gorm.DB, skuID, warehouseID int64) (*model.StockItem, error) {
	item, err := r.GetItem(ctx, tx, skuID, warehouseID)
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, ErrStockItemNotFound) {
		return nil, err
	}

	newItem := &model.StockItem{
		SkuID:       skuID,
		WarehouseID: warehouseID,
	}
	if err := r.tx(tx).WithContext(ctx).Create(newItem).Error; err != nil {
		return nil, err
	}
	return newItem, nil
}

// ListItemsBySKU 按 SKU 列出库存项，warehouseID 为 0 时覆盖全部仓库；
// 固定按仓库 ID 升序返回
func (r *StockRepository) ListItemsBySKU(ctx context.Context, tx *gorm.DB, skuID, warehouseID int64) ([]*model.StockItem, error) {
	var items []*model.StockItem
	query := r.tx(tx).WithContext(ctx).Where("sku_id = ?", skuID)
	if warehouseID > 0 {
		query = query.Where("warehouse_id = ?", warehouseID)
	}
	err := query.Order("warehouse_id ASC").Find(&items).Error
	return items, err
}

// AddReserved 变更预留数量（delta 可正可负）
func (r *StockRepository) AddReserved(ctx context.Context, tx *gorm.DB, itemID, delta int64) error {
	result := r.tx(tx).WithContext(ctx).
		Model(&model.StockItem{}).
		Where("id = ?", itemID).
		Update("reserved", gorm.Expr("reserved + ?", delta))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStockItemNotFound
	}
	return nil
}

// AddQuantity 变更在库数量（delta 可正可负）
func (r *StockRepository) AddQuantity(ctx context.Context, tx *gorm.DB, itemID, delta int64) error {
	result := r.tx(tx).WithContext(ctx).
		Model(&model.StockItem{}).
		Where("id = ?", itemID).
		Update("quantity", gorm.Expr("quantity + ?", delta))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStockItemNotFound
	}
	return nil
}

// AddQuantityAndReserved 同时变更在库与预留数量（确认出库用）
func (r *StockRepository) AddQuantityAndReserved(ctx context.Context, tx *gorm.DB, itemID, quantityDelta, reservedDelta int64) error {
	result := r.tx(tx).WithContext(ctx).
		Model(&model.StockItem{}).
		Where("id = ?", itemID).
		Updates(map[string]interface{}{
			"quantity": gorm.Expr("quantity + ?", quantityDelta),
			"reserved": gorm.Expr("reserved + ?", reservedDelta),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStockItemNotFound
	}
	return nil
}

// SetQuantity 设置在库数量（人工调整用）
func (r *StockRepository) SetQuantity(ctx context.Context, tx *gorm.DB, itemID, newQuantity int64) error {
	result := r.tx(tx).WithContext(ctx).
		Model(&model.StockItem{}).
		Where("id = ?", itemID).
		Update("quantity", newQuantity)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStockItemNotFound
	}
	return nil
}

// CreateTransaction 追加一条库存流水
func (r *StockRepository) CreateTransaction(ctx context.Context, tx *gorm.DB, txn *model.StockTransaction) error {
	return r.tx(tx).WithContext(ctx).Create(txn).Error
}

// FindTransactions 按业务事件查找指定类型的流水
func (r *StockRepository) FindTransactions(ctx context.Context, tx *gorm.DB, referenceID string, referenceTypes []string, txnType string) ([]*model.StockTransaction, error) {
	var txns []*model.StockTransaction
	err := r.tx(tx).WithContext(ctx).
		Where("reference_id = ? AND reference_type IN ? AND type = ?", referenceID, referenceTypes, txnType).
		Order("id ASC").
		Find(&txns).Error
	return txns, err
}

// CountTransactions 统计业务事件下指定类型的流水条数（幂等判定用）
func (r *StockRepository) CountTransactions(ctx context.Context, tx *gorm.DB, referenceID, txnType string) (int64, error) {
	var count int64
	err := r.tx(tx).WithContext(ctx).
		Model(&model.StockTransaction{}).
		Where("reference_id = ? AND type = ?", referenceID, txnType).
		Count(&count).Error
	return count, err
}

// ListLowStockItems 列出库存低于预警阈值的库存项
func (r *StockRepository) ListLowStockItems(ctx context.Context, warehouseID int64) ([]*model.StockItem, error) {
	var items []*model.StockItem
	query := r.db.WithContext(ctx).Where("quantity <= alert_threshold")
	if warehouseID > 0 {
		query = query.Where("warehouse_id = ?", warehouseID)
	}
	err := query.Order("sku_id ASC").Find(&items).Error
	return items, err
}
