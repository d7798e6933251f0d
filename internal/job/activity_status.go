package job

import (
	"context"
	"time"

	"flashmall/internal/logger"
	"flashmall/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ActivityStatusJob 按时间推进秒杀活动状态：PENDING -> ACTIVE -> ENDED。
//
// 预热成功的活动会被预热流程直接置为 ACTIVE，这里兜底处理到点
// 未预热的活动和到点该结束的活动。售卖期间缓存才是事实来源，
// 关系库状态仅供展示和管理。
type ActivityStatusJob struct {
	seckillRepo *repository.SeckillRepository
	stopCh      chan struct{}
	interval    time.Duration
}

func NewActivityStatusJob(db *gorm.DB) *ActivityStatusJob {
	return &ActivityStatusJob{
		seckillRepo: repository.NewSeckillRepository(db),
		stopCh:      make(chan struct{}),
		interval:    10 * time.Second,
	}
}

func (j *ActivityStatusJob) Start(ctx context.Context) {
	logger.Get().Info("活动状态推进任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Get().Info("活动状态推进任务退出")
			return
		case <-j.stopCh:
			logger.Get().Info("活动状态推进任务停止")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *ActivityStatusJob) Stop() {
	close(j.stopCh)
}

func (j *ActivityStatusJob) sweep(ctx context.Context) {
	now := time.Now().UTC()

	activated, err := j.seckillRepo.ActivateDueActivities(ctx, now)
	if err != nil {
		logger.Get().Error("活动激活失败", zap.Error(err))
	} else if activated > 0 {
		logger.Get().Info("活动已到点激活", zap.Int64("count", activated))
	}

	ended, err := j.seckillRepo.EndExpiredActivities(ctx, now)
	if err != nil {
		logger.Get().Error("活动结束失败", zap.Error(err))
	} else if ended > 0 {
		logger.Get().Info("活动已到点结束", zap.Int64("count", ended))
	}
}
