package repository

import (
	"context"
	"errors"

	"github.com/meoying/email-ext/internal/task"
)

var ErrTaskNotFound = errors.New("任务不存在")

type TaskRepository interface {
	CreateTask(ctx context.Context, t task.Task) error
	// LeaseDue 和 LeaseScheduled 原子地认领一批任务，
	// 同一个任务不会被两个调用方同时认领到
	LeaseDue(ctx context.Context, limit int) ([]task.Task, error)
	LeaseScheduled(ctx context.Context, limit int) ([]task.Task, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	Cancel(ctx context.Context, queueID string) (bool, error)
	Retry(ctx context.Context, queueID string) (bool, error)
	SweepRetryable(ctx context.Context, utimeBefore int64) (int64, error)
	ReclaimExpired(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context, status task.Status) (int64, error)
	FindByQueueID(ctx context.Context, queueID string) (task.Task, error)
}
