package service

import (
	"context"
	"errors"
	"time"

	"flashmall/internal/config"
	"flashmall/internal/infrastructure/lock"
	"flashmall/internal/logger"
	"flashmall/internal/model"
	"flashmall/internal/repository"
	"flashmall/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OrderService 下单协调器：普通结算链路的入口。
//
// 并发约定：
//   - 所有并发结算都按 SKU ID 升序逐个获取分布式锁，全局一致的
//     加锁顺序保证两笔订单的 SKU 集合即使交叉也不会循环等待。
//   - 库存预留、订单创建、清空购物车在同一个数据库事务内完成，
//     任何一步失败整体回滚，锁在 defer 中统一释放。
type OrderService struct {
	db           *gorm.DB
	redisClient  *redis.Client
	cfg          *config.Config
	orderRepo    *repository.OrderRepository
	cartRepo     *repository.CartRepository
	skuRepo      *repository.SKURepository
	inventorySvc *InventoryService
	promotionSvc *PromotionService
}

func NewOrderService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, inventorySvc *InventoryService, promotionSvc *PromotionService) *OrderService {
	return &OrderService{
		db:           db,
		redisClient:  redisClient,
		cfg:          cfg,
		orderRepo:    repository.NewOrderRepository(db),
		cartRepo:     repository.NewCartRepository(db),
		skuRepo:      repository.NewSKURepository(db),
		inventorySvc: inventorySvc,
		promotionSvc: promotionSvc,
	}
}

type CreateOrderRequest struct {
	UserID          int64
	ReceiverName    string
	ReceiverPhone   string
	ReceiverAddress string
	Notes           string
}

// CreateOrderFromCart 从购物车创建订单
//
// 流程：
//  1. 读取购物车，空购物车直接拒绝
//  2. 按 SKU ID 升序获取每个 SKU 的分布式锁
//  3. 开事务：逐行预留库存 -> 计算促销 -> 写订单和明细 -> 清空已购行
//  4. defer 中释放全部已获取的锁
func (s *OrderService) CreateOrderFromCart(ctx context.Context, req *CreateOrderRequest) (*model.Order, error) {
	cartItems, err := s.cartRepo.ListByUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if len(cartItems) == 0 {
		return nil, ErrEmptyCart
	}

	// ListByUser 已按 sku_id 升序返回，照此顺序加锁
	locks := make([]*lock.DistributedLock, 0, len(cartItems))
	defer func() {
		for _, l := range locks {
			if err := l.Unlock(ctx); err != nil {
				logger.Get().Warn("释放库存锁失败", zap.Error(err))
			}
		}
	}()

	for _, item := range cartItems {
		skuLock := lock.NewStockLock(s.redisClient, item.SkuID, s.lockTTL())
		if err := skuLock.Lock(ctx, s.lockRetryInterval(), s.lockRetryCount()); err != nil {
			return nil, ErrLockAcquisitionFailed
		}
		locks = append(locks, skuLock)
	}

	orderSn := idgen.GenerateOrderSn()

	promoLines, skuMap, err := s.buildPromotionLines(ctx, cartItems)
	if err != nil {
		return nil, err
	}
	promotion, discount, err := s.promotionSvc.SelectBestPromotion(ctx, promoLines)
	if err != nil {
		return nil, err
	}

	var order *model.Order
	err = s.db.Transaction(func(tx *gorm.DB) error {
		totalAmount := decimal.Zero
		orderItems := make([]model.OrderItem, 0, len(cartItems))
		skuIDs := make([]int64, 0, len(cartItems))

		for _, item := range cartItems {
			if err := s.inventorySvc.Reserve(ctx, tx, item.SkuID, item.Quantity, orderSn, model.RefTypeOrderCreation, 0, req.UserID, ""); err != nil {
				return err
			}
			totalAmount = totalAmount.Add(item.Price.Mul(decimal.NewFromInt(item.Quantity)))
			sku := skuMap[item.SkuID]
			orderItems = append(orderItems, model.OrderItem{
				SkuID:    item.SkuID,
				SkuName:  sku.Name,
				SkuPrice: item.Price,
				Quantity: item.Quantity,
			})
			skuIDs = append(skuIDs, item.SkuID)
		}

		payAmount := totalAmount.Sub(discount)
		order = &model.Order{
			OrderSn:         orderSn,
			UserID:          req.UserID,
			Status:          model.OrderStatusPendingPayment,
			TotalAmount:     totalAmount,
			PayAmount:       payAmount,
			PromotionAmount: discount,
			ReceiverName:    req.ReceiverName,
			ReceiverPhone:   req.ReceiverPhone,
			ReceiverAddress: req.ReceiverAddress,
			Notes:           req.Notes,
			Items:           orderItems,
		}
		if promotion != nil {
			order.PromotionID = &promotion.ID
		}
		if err := s.orderRepo.Create(ctx, tx, order); err != nil {
			return err
		}

		return s.cartRepo.DeleteByUserAndSKUs(ctx, tx, req.UserID, skuIDs)
	})
	if err != nil {
		return nil, err
	}

	logger.Get().Info("订单创建成功",
		zap.String("order_sn", orderSn),
		zap.Int64("user_id", req.UserID),
		zap.String("pay_amount", order.PayAmount.String()))

	return order, nil
}

// buildPromotionLines 补全促销范围匹配所需的商品归属信息
func (s *OrderService) buildPromotionLines(ctx context.Context, cartItems []*model.CartItem) ([]*PromotionLine, map[int64]*model.SKU, error) {
	skuIDs := make([]int64, 0, len(cartItems))
	for _, item := range cartItems {
		skuIDs = append(skuIDs, item.SkuID)
	}
	skuMap, err := s.skuRepo.MapByIDs(ctx, skuIDs)
	if err != nil {
		return nil, nil, err
	}

	lines := make([]*PromotionLine, 0, len(cartItems))
	for _, item := range cartItems {
		sku, ok := skuMap[item.SkuID]
		if !ok {
			return nil, nil, repository.ErrSKUNotFound
		}
		product, err := s.skuRepo.GetProduct(ctx, sku.ProductID)
		if err != nil {
			return nil, nil, err
		}
		tagIDs, err := s.skuRepo.ListTagIDs(ctx, sku.ProductID)
		if err != nil {
			return nil, nil, err
		}
		lines = append(lines, &PromotionLine{
			SkuID:      item.SkuID,
			ProductID:  sku.ProductID,
			CategoryID: product.CategoryID,
			TagIDs:     tagIDs,
			Price:      item.Price,
			Quantity:   item.Quantity,
		})
	}
	return lines, skuMap, nil
}

// CancelOrder 取消订单：只有待支付订单可取消，取消时释放预留库存。
// 已取消订单再次取消会被拒绝而不是静默成功。
func (s *OrderService) CancelOrder(ctx context.Context, orderSn string, operatorID int64, notes string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		order, err := s.orderRepo.GetByOrderSnForUpdate(ctx, tx, orderSn)
		if err != nil {
			return err
		}
		if order.Status != model.OrderStatusPendingPayment {
			return ErrOrderNotCancellable
		}

		if err := s.inventorySvc.Release(ctx, tx,
			orderSn,
			[]string{model.RefTypeOrderCreation, model.RefTypeSeckillOrderCreation},
			model.RefTypeOrderCancellation,
			operatorID, notes,
		); err != nil {
			return err
		}

		return s.orderRepo.UpdateStatus(ctx, tx, orderSn, model.OrderStatusPendingPayment, model.OrderStatusCancelled)
	})
}

// HandlePaymentNotification 处理支付网关的异步通知
//
// 对外始终应答成功以免网关无限重试，因此这里把业务上的"不处理"
// （订单不存在 / 已处理过 / 金额不符）都记日志后返回 nil，只有
// 真正的存储错误才向上返回。
func (s *OrderService) HandlePaymentNotification(ctx context.Context, orderSn, tradeNo, paymentMethod string, paidAt time.Time, paidAmount decimal.Decimal) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		order, err := s.orderRepo.GetByOrderSnForUpdate(ctx, tx, orderSn)
		if err != nil {
			if errors.Is(err, repository.ErrOrderNotFound) {
				logger.Get().Error("支付通知处理失败：订单不存在",
					zap.String("order_sn", orderSn))
				return nil
			}
			return err
		}

		// 幂等：非待支付状态说明已处理过
		if order.Status != model.OrderStatusPendingPayment {
			logger.Get().Warn("订单已处理过支付通知，跳过",
				zap.String("order_sn", orderSn),
				zap.String("status", order.Status))
			return nil
		}

		if !order.PayAmount.Equal(paidAmount) {
			logger.Get().Error("支付通知金额与订单应付金额不符，留待人工排查",
				zap.String("order_sn", orderSn),
				zap.String("pay_amount", order.PayAmount.String()),
				zap.String("paid_amount", paidAmount.String()),
				zap.Error(ErrPaymentAmountMismatch))
			return nil
		}

		order.Status = model.OrderStatusProcessing
		order.TradeNo = tradeNo
		order.PaymentMethod = paymentMethod
		order.PayTime = &paidAt
		if err := s.orderRepo.Save(ctx, tx, order); err != nil {
			return err
		}

		return s.inventorySvc.Confirm(ctx, tx,
			orderSn,
			[]string{model.RefTypeOrderCreation, model.RefTypeSeckillOrderCreation},
			model.RefTypeOrderShipment,
			order.UserID,
		)
	})
}

// GetOrderBySn 查询订单；userID 非 0 时校验归属
func (s *OrderService) GetOrderBySn(ctx context.Context, orderSn string, userID int64) (*model.Order, error) {
	order, err := s.orderRepo.GetByOrderSn(ctx, orderSn)
	if err != nil {
		return nil, err
	}
	if userID != 0 && order.UserID != userID {
		return nil, ErrPermissionDenied
	}
	return order, nil
}

func (s *OrderService) ListUserOrders(ctx context.Context, userID int64, page, pageSize int) ([]*model.Order, int64, error) {
	return s.orderRepo.ListByUserID(ctx, userID, page, pageSize)
}

// CancelOverdueOrders 关闭超时未支付的订单，由后台任务周期调用
func (s *OrderService) CancelOverdueOrders(ctx context.Context, limit int) (int, error) {
	deadline := time.Now().Add(-time.Duration(s.cfg.Business.OrderTimeoutMinutes) * time.Minute)
	orderSns, err := s.orderRepo.ListOverduePendingSns(ctx, deadline, limit)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, sn := range orderSns {
		if err := s.CancelOrder(ctx, sn, 0, "支付超时自动取消"); err != nil {
			// 和支付通知并发时订单可能刚变为已支付，跳过即可
			if errors.Is(err, ErrOrderNotCancellable) {
				continue
			}
			logger.Get().Error("超时订单取消失败",
				zap.String("order_sn", sn), zap.Error(err))
			continue
		}
		cancelled++
	}
	return cancelled, nil
}

func (s *OrderService) lockTTL() time.Duration {
	if s.cfg.Business.LockTTLSeconds > 0 {
		return time.Duration(s.cfg.Business.LockTTLSeconds) * time.Second
	}
	return 10 * time.Second
}

func (s *OrderService) lockRetryInterval() time.Duration {
	if s.cfg.Business.LockRetryIntervalMs > 0 {
		return time.Duration(s.cfg.Business.LockRetryIntervalMs) * time.Millisecond
	}
	return 100 * time.Millisecond
}

func (s *OrderService) lockRetryCount() int {
	if s.cfg.Business.LockRetryCount > 0 {
		return s.cfg.Business.LockRetryCount
	}
	return 10
}
