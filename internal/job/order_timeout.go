package job

import (
	"context"
	"time"

	"flashmall/internal/logger"
	"flashmall/internal/service"

	"go.uber.org/zap"
)

// OrderTimeoutJob 关闭超时未支付的订单。
//
// 取消走协调器的 CancelOrder，预留库存随订单取消一并释放；
// 秒杀订单同样适用——缓存里的秒杀库存不归还（活动库存售
// 罄即止），但台账预留必须解除。
type OrderTimeoutJob struct {
	orderSvc  *service.OrderService
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewOrderTimeoutJob(orderSvc *service.OrderService) *OrderTimeoutJob {
	return &OrderTimeoutJob{
		orderSvc:  orderSvc,
		stopCh:    make(chan struct{}),
		interval:  30 * time.Second,
		batchSize: 100,
	}
}

func (j *OrderTimeoutJob) Start(ctx context.Context) {
	logger.Get().Info("订单超时任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Get().Info("订单超时任务退出")
			return
		case <-j.stopCh:
			logger.Get().Info("订单超时任务停止")
			return
		case <-ticker.C:
			j.cancelOverdueOrders(ctx)
		}
	}
}

func (j *OrderTimeoutJob) Stop() {
	close(j.stopCh)
}

func (j *OrderTimeoutJob) cancelOverdueOrders(ctx context.Context) {
	cancelled, err := j.orderSvc.CancelOverdueOrders(ctx, j.batchSize)
	if err != nil {
		logger.Get().Error("查询超时订单失败", zap.Error(err))
		return
	}
	if cancelled > 0 {
		logger.Get().Info("超时订单已取消", zap.Int("count", cancelled))
	}
}
