package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/meoying/email-ext/internal/metrics"
	"github.com/meoying/email-ext/internal/ratelimit"
	"github.com/meoying/email-ext/internal/repository"
	"github.com/meoying/email-ext/internal/task"
)

var (
	ErrInvalidRecipient = errors.New("收件人非法")
	ErrEmptyContent     = errors.New("邮件主题或内容为空")
	ErrRateLimited      = errors.New("发送过于频繁")
)

const (
	recipientKeyPrefix = "email_ext:limit:recipient:"
	bizKeyPrefix       = "email_ext:limit:biz:"
)

// QueueService 是队列对外的入口：入队、取消、重试和统计
type QueueService struct {
	repo    repository.TaskRepository
	limiter ratelimit.Limiter
	logger  *slog.Logger
	// 新任务的重试上限，创建时固化到任务上
	maxRetry        int
	defaultPriority int
	recipientLimit  int
	bizLimit        int
}

func NewQueueService(repo repository.TaskRepository, limiter ratelimit.Limiter,
	maxRetry, defaultPriority, recipientLimit, bizLimit int) *QueueService {
	return &QueueService{
		repo:            repo,
		limiter:         limiter,
		logger:          slog.Default(),
		maxRetry:        maxRetry,
		defaultPriority: defaultPriority,
		recipientLimit:  recipientLimit,
		bizLimit:        bizLimit,
	}
}

// Enqueue 校验并持久化一个新任务，返回对外的任务标识。
// req.ScheduleTime 大于 0 时任务要等到该时间点才可以被认领。
func (s *QueueService) Enqueue(ctx context.Context, req task.EnqueueReq) (string, error) {
	if err := s.validate(req); err != nil {
		return "", err
	}
	if err := s.checkLimit(ctx, req); err != nil {
		return "", err
	}

	queueID := uuid.New().String()
	t := task.Task{
		QueueID:        queueID,
		TemplateCode:   req.TemplateCode,
		RecipientEmail: req.RecipientEmail,
		RecipientName:  req.RecipientName,
		Subject:        req.Subject,
		Content:        req.Content,
		Attachments:    req.Attachments,
		Priority:       s.priority(req.Priority),
		MaxRetry:       s.maxRetry,
		ScheduleTime:   req.ScheduleTime,
	}
	if err := s.repo.CreateTask(ctx, t); err != nil {
		return "", fmt.Errorf("创建任务失败 %w", err)
	}
	metrics.IncEnqueued()
	return queueID, nil
}

// EnqueueAt 定时发送，到 sendTime 之前任务不会被认领
func (s *QueueService) EnqueueAt(ctx context.Context, req task.EnqueueReq, sendTime time.Time) (string, error) {
	req.ScheduleTime = sendTime.UnixMilli()
	return s.Enqueue(ctx, req)
}

// Cancel 只能取消还没被认领的任务，晚了就返回 false，不算错误
func (s *QueueService) Cancel(ctx context.Context, queueID string) (bool, error) {
	return s.repo.Cancel(ctx, queueID)
}

// Retry 手动重试一个失败的任务，重试次数用完返回 false
func (s *QueueService) Retry(ctx context.Context, queueID string) (bool, error) {
	return s.repo.Retry(ctx, queueID)
}

func (s *QueueService) CountPending(ctx context.Context) (int64, error) {
	return s.repo.CountByStatus(ctx, task.StatusPending)
}

func (s *QueueService) CountFailed(ctx context.Context) (int64, error) {
	return s.repo.CountByStatus(ctx, task.StatusFailed)
}

// Find 按任务标识查询任务当前的状态
func (s *QueueService) Find(ctx context.Context, queueID string) (task.Task, error) {
	return s.repo.FindByQueueID(ctx, queueID)
}

func (s *QueueService) validate(req task.EnqueueReq) error {
	if req.RecipientEmail == "" {
		return ErrInvalidRecipient
	}
	if _, err := mail.ParseAddress(req.RecipientEmail); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRecipient, req.RecipientEmail)
	}
	if req.Subject == "" || req.Content == "" {
		return ErrEmptyContent
	}
	return nil
}

// checkLimit 收件人和业务方两个维度独立限流，都通过才放行
func (s *QueueService) checkLimit(ctx context.Context, req task.EnqueueReq) error {
	allowed, err := s.limiter.Allow(ctx, recipientKeyPrefix+req.RecipientEmail, s.recipientLimit)
	if err != nil {
		return fmt.Errorf("限流检查失败 %w", err)
	}
	if !allowed {
		metrics.IncRateLimited()
		return fmt.Errorf("%w: 收件人 %s", ErrRateLimited, req.RecipientEmail)
	}
	if req.Biz == "" {
		return nil
	}
	allowed, err = s.limiter.Allow(ctx, bizKeyPrefix+req.Biz, s.bizLimit)
	if err != nil {
		return fmt.Errorf("限流检查失败 %w", err)
	}
	if !allowed {
		metrics.IncRateLimited()
		return fmt.Errorf("%w: 业务方 %s", ErrRateLimited, req.Biz)
	}
	return nil
}

func (s *QueueService) priority(p int) int {
	if p <= 0 {
		return s.defaultPriority
	}
	if p > 10 {
		return 10
	}
	return p
}
