package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/meoying/email-ext/internal/service"
	"github.com/meoying/email-ext/internal/task"
)

// EnqueueConsumer 从 Kafka 接收入队请求，转储到任务表。
// 业务方不方便直接依赖本库时，可以往 topic 里发 EnqueueReq。
type EnqueueConsumer struct {
	svc    *service.QueueService
	Logger *slog.Logger
}

func NewEnqueueConsumer(svc *service.QueueService) *EnqueueConsumer {
	return &EnqueueConsumer{svc: svc, Logger: slog.Default()}
}

func (c *EnqueueConsumer) Setup(session sarama.ConsumerGroupSession) error {
	c.Logger.Info("启动入队消费者", slog.String("member_id", session.MemberID()))
	return nil
}

func (c *EnqueueConsumer) Cleanup(session sarama.ConsumerGroupSession) error {
	return nil
}

func (c *EnqueueConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	msgs := claim.Messages()
	for msg := range msgs {
		err := c.consume(msg)
		if err != nil {
			c.Logger.Error("入队失败", slog.Any("err", err))
		}
		// 校验失败和被限流的消息重复消费也不会成功，一律标记掉
		session.MarkMessage(msg, "")
	}
	return nil
}

func (c *EnqueueConsumer) consume(msg *sarama.ConsumerMessage) error {
	var req task.EnqueueReq
	err := json.Unmarshal(msg.Value, &req)
	if err != nil {
		return fmt.Errorf("提取入队请求失败 %w, key = %s", err, msg.Key)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*3)
	queueID, err := c.svc.Enqueue(ctx, req)
	cancel()
	if err != nil {
		if errors.Is(err, service.ErrRateLimited) {
			c.Logger.Warn("入队请求被限流",
				slog.String("recipient", req.RecipientEmail))
			return nil
		}
		return fmt.Errorf("转储入队请求失败 %w, key = %s", err, msg.Key)
	}
	c.Logger.Debug("入队成功", slog.String("queue_id", queueID))
	return nil
}
