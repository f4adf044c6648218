package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meoying/email-ext/internal/metrics"
	"github.com/meoying/email-ext/internal/repository"
	"github.com/meoying/email-ext/internal/task"
	"github.com/meoying/email-ext/internal/transport"
	"golang.org/x/sync/errgroup"
)

// ProducerService 负责把认领到的任务真正发出去，并记录结果
type ProducerService struct {
	transport transport.Transport
	repo      repository.TaskRepository
	Logger    *slog.Logger
	// 单次发送的超时，慢的邮件服务器不能拖死整个轮询周期
	SendTimeout time.Duration
}

func NewProducerService(t transport.Transport, repo repository.TaskRepository) *ProducerService {
	return &ProducerService{
		transport:   t,
		repo:        repo,
		Logger:      slog.Default(),
		SendTimeout: time.Second * 10,
	}
}

// SendDueTasks 认领并发送一批立即发送的任务
func (p *ProducerService) SendDueTasks(ctx context.Context, batchSize int) (int, error) {
	tasks, err := p.leaseDue(ctx, batchSize)
	if err != nil {
		return -1, fmt.Errorf("认领任务失败 %w", err)
	}
	return p.sendTasks(ctx, tasks)
}

// SendScheduledTasks 认领并发送一批计划时间已到的任务
func (p *ProducerService) SendScheduledTasks(ctx context.Context, batchSize int) (int, error) {
	tasks, err := p.leaseScheduled(ctx, batchSize)
	if err != nil {
		return -1, fmt.Errorf("认领定时任务失败 %w", err)
	}
	return p.sendTasks(ctx, tasks)
}

// sendTasks 并发发送一批任务。
// 每个任务的结果单独落库，一个任务失败不影响同批次的其他任务。
func (p *ProducerService) sendTasks(ctx context.Context, tasks []task.Task) (int, error) {
	var eg errgroup.Group
	for _, t := range tasks {
		shadow := t
		eg.Go(func() error {
			return p.sendTask(ctx, shadow)
		})
	}
	err := eg.Wait()
	if err != nil {
		return len(tasks), fmt.Errorf("发送邮件失败 %w", err)
	}
	return len(tasks), nil
}

func (p *ProducerService) sendTask(ctx context.Context, t task.Task) error {
	start := time.Now()
	sendCtx, cancel := context.WithTimeout(ctx, p.SendTimeout)
	err := p.transport.Send(sendCtx, t)
	cancel()
	metrics.ObserveSendDuration(time.Since(start))

	dbCtx, dbCancel := context.WithTimeout(ctx, time.Second*3)
	defer dbCancel()
	if err != nil {
		metrics.IncFailed()
		// 失败原因落库，重试次数是否用完由重试清扫判断
		err1 := p.repo.MarkFailed(dbCtx, t.ID, err.Error())
		if err1 != nil {
			return fmt.Errorf("更新任务状态失败 %w, queue_id %s", err1, t.QueueID)
		}
		return fmt.Errorf("发送失败 %w, queue_id %s", err, t.QueueID)
	}
	metrics.IncSent()
	err1 := p.repo.MarkSent(dbCtx, t.ID)
	if err1 != nil {
		return fmt.Errorf("更新任务状态失败 %w, queue_id %s", err1, t.QueueID)
	}
	return nil
}

func (p *ProducerService) leaseDue(ctx context.Context, limit int) ([]task.Task, error) {
	dbCtx, cancel := context.WithTimeout(ctx, time.Second*3)
	defer cancel()
	return p.repo.LeaseDue(dbCtx, limit)
}

func (p *ProducerService) leaseScheduled(ctx context.Context, limit int) ([]task.Task, error) {
	dbCtx, cancel := context.WithTimeout(ctx, time.Second*3)
	defer cancel()
	return p.repo.LeaseScheduled(dbCtx, limit)
}
