package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meoying/email-ext/internal/metrics"
	"github.com/meoying/email-ext/internal/pkg/lock"
	"github.com/meoying/email-ext/internal/repository"
)

// RetrySweepJob 把重试次数没用完的失败任务置回待发送。
// 它和发送轮询是两个独立的调度器，只通过任务表上的原子更新交互。
type RetrySweepJob struct {
	repo       repository.TaskRepository
	lockClient lock.Client
	// 退避窗口，失败之后至少隔这么久才会被捞起来重发
	backoff time.Duration
	Logger  *slog.Logger
}

func NewRetrySweepJob(repo repository.TaskRepository, lockClient lock.Client,
	backoff time.Duration) *RetrySweepJob {
	return &RetrySweepJob{
		repo:       repo,
		lockClient: lockClient,
		backoff:    backoff,
		Logger:     slog.Default(),
	}
}

func (j *RetrySweepJob) Name() string {
	return "retry_sweep"
}

func (j *RetrySweepJob) Run(ctx context.Context) error {
	release, err := j.tryLock(ctx, "email_ext:retry_sweep")
	if err != nil || release == nil {
		return err
	}
	defer release()

	before := time.Now().Add(-j.backoff).UnixMilli()
	cnt, err := j.repo.SweepRetryable(ctx, before)
	if err != nil {
		return fmt.Errorf("重试清扫失败 %w", err)
	}
	if cnt > 0 {
		metrics.AddRetried(cnt)
		j.Logger.Info("重试清扫完成", slog.Int64("count", cnt))
	}
	return nil
}

func (j *RetrySweepJob) tryLock(ctx context.Context, key string) (func(), error) {
	return tryLock(ctx, j.lockClient, key)
}

// ReclaimJob 回收租约过期的 SENDING 任务。
// 持有者崩溃时没有机会记录结果，不回收任务就永远卡住。
// 代价是持有者只是慢的时候可能重复发送，这里选择至少一次语义。
type ReclaimJob struct {
	repo       repository.TaskRepository
	lockClient lock.Client
	Logger     *slog.Logger
}

func NewReclaimJob(repo repository.TaskRepository, lockClient lock.Client) *ReclaimJob {
	return &ReclaimJob{
		repo:       repo,
		lockClient: lockClient,
		Logger:     slog.Default(),
	}
}

func (j *ReclaimJob) Name() string {
	return "lease_reclaim"
}

func (j *ReclaimJob) Run(ctx context.Context) error {
	release, err := tryLock(ctx, j.lockClient, "email_ext:lease_reclaim")
	if err != nil || release == nil {
		return err
	}
	defer release()

	cnt, err := j.repo.ReclaimExpired(ctx)
	if err != nil {
		return fmt.Errorf("回收过期租约失败 %w", err)
	}
	if cnt > 0 {
		metrics.AddReclaimed(cnt)
		j.Logger.Warn("回收了过期租约", slog.Int64("count", cnt))
	}
	return nil
}

// tryLock 抢不到锁说明别的实例在干活，返回 (nil, nil)，不算错误。
// 锁只是避免多实例重复清扫，清扫本身是幂等的条件更新，不依赖锁保证正确性。
func tryLock(ctx context.Context, client lock.Client, key string) (func(), error) {
	l, err := client.NewLock(ctx, key, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("创建分布式锁失败 %w", err)
	}
	err = l.Lock(ctx)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, nil
		}
		return nil, fmt.Errorf("抢锁失败 %w", err)
	}
	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), time.Second*3)
		_ = l.Unlock(unlockCtx)
		cancel()
	}, nil
}
