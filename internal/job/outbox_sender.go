package job

import (
	"context"
	"time"

	"flashmall/internal/config"
	"flashmall/internal/infrastructure/mq"
	"flashmall/internal/logger"
	"flashmall/internal/model"
	"flashmall/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OutboxSender 把低库存预警发件箱里的待发消息投递到通知 topic。
//
// 预警在库存事务内写入发件箱，和触发它的出库/调整原子提交，
// 这里异步投递，投递失败重试有上限，超限标记 FAILED 留人工处理。
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	cfg        *config.Config
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, cfg *config.Config) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		cfg:        cfg,
		stopCh:     make(chan struct{}),
		interval:   time.Second,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	logger.Get().Info("预警消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Get().Info("预警消息发送任务退出")
			return
		case <-s.stopCh:
			logger.Get().Info("预警消息发送任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outboxRepo.ListPending(ctx, s.batchSize)
	if err != nil {
		logger.Get().Error("查询待发预警消息失败", zap.Error(err))
		return
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.AlertOutbox) {
	err := mq.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID); updateErr != nil {
			logger.Get().Error("更新预警消息状态失败",
				zap.Int64("id", msg.ID), zap.Error(updateErr))
		}
		return
	}

	logger.Get().Warn("预警消息发送失败",
		zap.Int64("id", msg.ID),
		zap.String("topic", msg.Topic),
		zap.Error(err))

	if err := s.outboxRepo.IncRetry(ctx, msg.ID, s.maxRetry()); err != nil {
		logger.Get().Error("更新预警消息重试次数失败",
			zap.Int64("id", msg.ID), zap.Error(err))
	}
}

func (s *OutboxSender) maxRetry() int {
	if s.cfg.Business.OutboxRetryCount > 0 {
		return s.cfg.Business.OutboxRetryCount
	}
	return 5
}
