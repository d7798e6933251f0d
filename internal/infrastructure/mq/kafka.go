package mq

import (
	"context"
	"log"

	"flashmall/internal/config"
	"flashmall/internal/logger"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

var KafkaProducer sarama.SyncProducer

// InitKafka 初始化 Kafka 生产者
func InitKafka(cfg *config.KafkaConfig) sarama.SyncProducer {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 等待所有副本确认
	kafkaConfig.Producer.Retry.Max = 3                    // 重试次数
	kafkaConfig.Producer.Return.Successes = true          // 返回成功消息

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		log.Fatalf("创建 Kafka 生产者失败: %v", err)
	}

	KafkaProducer = producer
	log.Println("Kafka 生产者创建成功")
	return producer
}

// SendMessage 发送消息到 Kafka
func SendMessage(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}

	_, _, err := KafkaProducer.SendMessage(msg)
	return err
}

// CloseKafka 关闭 Kafka 生产者
func CloseKafka() {
	if KafkaProducer != nil {
		KafkaProducer.Close()
	}
}

// ============================================================
// 消费者组
// ============================================================

// MessageHandler 处理一条消息；返回错误时该消息不会被标记为已消费
type MessageHandler func(ctx context.Context, key, value []byte) error

// NewConsumerGroup 创建消费者组
func NewConsumerGroup(cfg *config.KafkaConfig) (sarama.ConsumerGroup, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	kafkaConfig.Consumer.Return.Errors = true

	return sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, kafkaConfig)
}

// Consume 持续消费指定 topic，直到 ctx 被取消
func Consume(ctx context.Context, group sarama.ConsumerGroup, topic string, handler MessageHandler) error {
	h := &consumerGroupHandler{ctx: ctx, handler: handler}
	for {
		if err := group.Consume(ctx, []string{topic}, h); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// 再均衡后重新进入消费循环
	}
}

type consumerGroupHandler struct {
	ctx     context.Context
	handler MessageHandler
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handler(h.ctx, msg.Key, msg.Value); err != nil {
				logger.Get().Error("消息处理失败",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err))
			}
			// 业务侧已对失败做终态处理，这里总是推进 offset，避免毒消息阻塞分区
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
