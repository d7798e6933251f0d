package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"flashmall/internal/config"
	"flashmall/internal/infrastructure/lock"
	"flashmall/internal/infrastructure/mq"
	"flashmall/internal/logger"
	"flashmall/internal/model"
	"flashmall/internal/repository"
	"flashmall/internal/service"
	"flashmall/pkg/idgen"

	"github.com/IBM/sarama"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SeckillConsumer 秒杀订单落库消费者。
//
// 准入成功只代表缓存里的库存被扣走了，订单和台账预留由这里异步
// 补齐。消息以 SKU ID 为 key，同一 SKU 串行消费；落库时获取的是
// 和普通结算链路相同的 SKU 锁，两条链路不会在同一条库存行上竞争。
//
// 落库失败必须执行准入的精确逆操作归还缓存库存，否则这部分秒杀
// 库存就永久丢失了。重试耗尽后写入终态 FAILED，不让客户端无限轮询。
type SeckillConsumer struct {
	db           *gorm.DB
	redisClient  *redis.Client
	cfg          *config.Config
	group        sarama.ConsumerGroup
	orderRepo    *repository.OrderRepository
	seckillRepo  *repository.SeckillRepository
	skuRepo      *repository.SKURepository
	inventorySvc *service.InventoryService
	seckillSvc   *service.SeckillService
}

func NewSeckillConsumer(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, group sarama.ConsumerGroup, inventorySvc *service.InventoryService, seckillSvc *service.SeckillService) *SeckillConsumer {
	return &SeckillConsumer{
		db:           db,
		redisClient:  redisClient,
		cfg:          cfg,
		group:        group,
		orderRepo:    repository.NewOrderRepository(db),
		seckillRepo:  repository.NewSeckillRepository(db),
		skuRepo:      repository.NewSKURepository(db),
		inventorySvc: inventorySvc,
		seckillSvc:   seckillSvc,
	}
}

func (c *SeckillConsumer) Start(ctx context.Context) {
	logger.Get().Info("秒杀订单落库消费者启动",
		zap.String("topic", c.cfg.Kafka.Topic.SeckillOrder))

	if err := mq.Consume(ctx, c.group, c.cfg.Kafka.Topic.SeckillOrder, c.handleMessage); err != nil {
		logger.Get().Error("秒杀订单消费退出", zap.Error(err))
	}
}

// handleMessage 始终返回 nil：业务失败由补偿和终态 FAILED 收尾，
// 消息本身不再重投，避免坏消息阻塞整个分区。
func (c *SeckillConsumer) handleMessage(ctx context.Context, key, value []byte) error {
	var job service.SeckillOrderJob
	if err := json.Unmarshal(value, &job); err != nil {
		logger.Get().Error("秒杀落库消息解析失败，丢弃",
			zap.ByteString("key", key), zap.Error(err))
		return nil
	}

	c.materialize(ctx, &job)
	return nil
}

func (c *SeckillConsumer) materialize(ctx context.Context, job *service.SeckillOrderJob) {
	var order *model.Order
	var err error

	retries := c.retryCount()
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			time.Sleep(c.backoff())
		}
		order, err = c.createOrder(ctx, job)
		if err == nil {
			break
		}
		// 数据不一致不是暂时性故障，重试没有意义
		if errors.Is(err, service.ErrDataInconsistency) {
			break
		}
		logger.Get().Warn("秒杀订单落库失败，准备重试",
			zap.String("request_id", job.RequestID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	if err != nil {
		c.fail(ctx, job, err)
		return
	}

	status := &service.RequestStatus{
		Status:  service.RequestStatusSuccess,
		Message: "下单成功，请尽快支付",
		UserID:  job.UserID,
		OrderID: order.ID,
		OrderSn: order.OrderSn,
	}
	if err := c.seckillSvc.WriteRequestStatus(ctx, job.RequestID, status); err != nil {
		logger.Get().Error("写入秒杀成功状态失败",
			zap.String("request_id", job.RequestID),
			zap.String("order_sn", order.OrderSn),
			zap.Error(err))
	}

	logger.Get().Info("秒杀订单落库成功",
		zap.String("request_id", job.RequestID),
		zap.String("order_sn", order.OrderSn),
		zap.Int64("user_id", job.UserID))
}

// createOrder 一次落库尝试：同一把 SKU 锁 + 一个数据库事务
func (c *SeckillConsumer) createOrder(ctx context.Context, job *service.SeckillOrderJob) (*model.Order, error) {
	offer, err := c.seckillRepo.GetOffer(ctx, job.OfferID)
	if err != nil {
		if errors.Is(err, repository.ErrOfferNotFound) {
			// 准入通过了但关系库里没有这个 offer，缓存与数据库已分歧
			return nil, fmt.Errorf("offer %d 不存在: %w", job.OfferID, service.ErrDataInconsistency)
		}
		return nil, err
	}

	sku, err := c.skuRepo.GetByID(ctx, offer.SkuID)
	if err != nil {
		if errors.Is(err, repository.ErrSKUNotFound) {
			return nil, fmt.Errorf("sku %d 不存在: %w", offer.SkuID, service.ErrDataInconsistency)
		}
		return nil, err
	}

	salePrice, err := decimal.NewFromString(job.SalePrice)
	if err != nil {
		return nil, fmt.Errorf("秒杀价格非法 %q: %w", job.SalePrice, service.ErrDataInconsistency)
	}

	skuLock := lock.NewStockLock(c.redisClient, offer.SkuID, c.lockTTL())
	if err := skuLock.Lock(ctx, c.lockRetryInterval(), c.lockRetryCount()); err != nil {
		return nil, service.ErrLockAcquisitionFailed
	}
	defer func() {
		if err := skuLock.Unlock(ctx); err != nil {
			logger.Get().Warn("释放库存锁失败", zap.Error(err))
		}
	}()

	// 消息是 at-least-once 投递的：拿到锁后先查该请求是否已经落库，
	// 重投的消息直接复用已有订单，不再预留第二次
	existing, err := c.orderRepo.GetByRequestID(ctx, nil, job.RequestID)
	if err == nil {
		logger.Get().Warn("秒杀请求已落库过，跳过重复消息",
			zap.String("request_id", job.RequestID),
			zap.String("order_sn", existing.OrderSn))
		return existing, nil
	}
	if !errors.Is(err, repository.ErrOrderNotFound) {
		return nil, err
	}

	orderSn := idgen.GenerateOrderSn()
	payAmount := salePrice.Mul(decimal.NewFromInt(job.Line.Quantity))

	order := &model.Order{
		OrderSn:         orderSn,
		RequestID:       job.RequestID,
		UserID:          job.UserID,
		Status:          model.OrderStatusPendingPayment,
		TotalAmount:     payAmount,
		PayAmount:       payAmount,
		PromotionAmount: decimal.Zero,
		ReceiverName:    job.Line.ReceiverName,
		ReceiverPhone:   job.Line.ReceiverPhone,
		ReceiverAddress: job.Line.ReceiverAddress,
		Items: []model.OrderItem{{
			SkuID:    offer.SkuID,
			SkuName:  sku.Name,
			SkuPrice: salePrice,
			Quantity: job.Line.Quantity,
		}},
	}

	err = c.db.Transaction(func(tx *gorm.DB) error {
		if err := c.inventorySvc.Reserve(ctx, tx, offer.SkuID, job.Line.Quantity, orderSn, model.RefTypeSeckillOrderCreation, 0, job.UserID, ""); err != nil {
			return err
		}
		return c.orderRepo.Create(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// fail 终局处理：归还缓存库存，写入 FAILED 终态
func (c *SeckillConsumer) fail(ctx context.Context, job *service.SeckillOrderJob, cause error) {
	logger.Get().Error("秒杀订单落库最终失败，执行缓存补偿",
		zap.String("request_id", job.RequestID),
		zap.Int64("offer_id", job.OfferID),
		zap.Int64("user_id", job.UserID),
		zap.Error(cause))

	c.seckillSvc.Compensate(ctx, job.OfferID, job.UserID, job.ActivityID, job.Line.Quantity)

	status := &service.RequestStatus{
		Status:  service.RequestStatusFailed,
		Message: "下单失败，库存已退还",
		UserID:  job.UserID,
	}
	if err := c.seckillSvc.WriteRequestStatus(ctx, job.RequestID, status); err != nil {
		logger.Get().Error("写入秒杀失败状态失败",
			zap.String("request_id", job.RequestID),
			zap.Error(err))
	}
}

func (c *SeckillConsumer) retryCount() int {
	if c.cfg.Business.MaterializeRetryCount > 0 {
		return c.cfg.Business.MaterializeRetryCount
	}
	return 3
}

func (c *SeckillConsumer) backoff() time.Duration {
	if c.cfg.Business.MaterializeBackoffMs > 0 {
		return time.Duration(c.cfg.Business.MaterializeBackoffMs) * time.Millisecond
	}
	return 200 * time.Millisecond
}

func (c *SeckillConsumer) lockTTL() time.Duration {
	if c.cfg.Business.LockTTLSeconds > 0 {
		return time.Duration(c.cfg.Business.LockTTLSeconds) * time.Second
	}
	return 10 * time.Second
}

func (c *SeckillConsumer) lockRetryInterval() time.Duration {
	if c.cfg.Business.LockRetryIntervalMs > 0 {
		return time.Duration(c.cfg.Business.LockRetryIntervalMs) * time.Millisecond
	}
	return 100 * time.Millisecond
}

func (c *SeckillConsumer) lockRetryCount() int {
	if c.cfg.Business.LockRetryCount > 0 {
		return c.cfg.Business.LockRetryCount
	}
	return 10
}
