package repository

import (
	"context"
	"errors"
	"time"

	"flashmall/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrOrderNotFound      = errors.New("订单不存在")
	ErrOrderStatusInvalid = errors.New("订单状态不合法")
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) tx(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *OrderRepository) Create(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	return r.tx(tx).WithContext(ctx).Create(order).Error
}

// GetByOrderSn 按订单号查询订单（含明细）
func (r *OrderRepository) GetByOrderSn(ctx context.Context, orderSn string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("order_sn = ?", orderSn).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// GetByRequestID 按秒杀请求ID查询订单，用于消息重投时的幂等检查
func (r *OrderRepository) GetByRequestID(ctx context.Context, tx *gorm.DB, requestID string) (*model.Order, error) {
	var order model.Order
	err := r.tx(tx).WithContext(ctx).
		Where("request_id = ?", requestID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// GetByOrderSnForUpdate 按订单号加悲观行锁查询，必须在事务内调用
func (r *OrderRepository) GetByOrderSnForUpdate(ctx context.Context, tx *gorm.DB, orderSn string) (*model.Order, error) {
	var order model.Order
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_sn = ?", orderSn).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// UpdateStatus 状态机约束下的状态流转
func (r *OrderRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, orderSn string, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrOrderStatusInvalid
	}

	result := r.tx(tx).WithContext(ctx).
		Model(&model.Order{}).
		Where("order_sn = ? AND status = ?", orderSn, fromStatus).
		Update("status", toStatus)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOrderStatusInvalid
	}
	return nil
}

// Save 保存订单全部字段
func (r *OrderRepository) Save(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	return r.tx(tx).WithContext(ctx).Save(order).Error
}

// ListOverduePendingSns 查询超时未支付的订单号
func (r *OrderRepository) ListOverduePendingSns(ctx context.Context, before time.Time, limit int) ([]string, error) {
	var sns []string
	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("status = ? AND created_at < ?", model.OrderStatusPendingPayment, before).
		Limit(limit).
		Pluck("order_sn", &sns).Error
	return sns, err
}

// ListByUserID 用户订单分页
func (r *OrderRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Order, int64, error) {
	var orders []*model.Order
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Order{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Preload("Items").
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error

	return orders, total, err
}
