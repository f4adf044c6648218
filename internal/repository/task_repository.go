package repository

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/ecodeclub/ekit/slice"
	"github.com/meoying/email-ext/internal/repository/dao"
	"github.com/meoying/email-ext/internal/task"
	"gorm.io/gorm"
)

type TaskRepositoryImpl struct {
	logger *slog.Logger
	dao    *dao.TaskDAO
}

func NewTaskRepository(d *dao.TaskDAO) *TaskRepositoryImpl {
	return &TaskRepositoryImpl{dao: d, logger: slog.Default()}
}

func (r *TaskRepositoryImpl) CreateTask(ctx context.Context, t task.Task) error {
	return r.dao.CreateTask(ctx, r.toEntity(t))
}

func (r *TaskRepositoryImpl) LeaseDue(ctx context.Context, limit int) ([]task.Task, error) {
	entities, err := r.dao.LeaseDue(ctx, limit)
	if err != nil {
		return nil, err
	}
	return r.toDomains(entities), nil
}

func (r *TaskRepositoryImpl) LeaseScheduled(ctx context.Context, limit int) ([]task.Task, error) {
	entities, err := r.dao.LeaseScheduled(ctx, limit)
	if err != nil {
		return nil, err
	}
	return r.toDomains(entities), nil
}

func (r *TaskRepositoryImpl) MarkSent(ctx context.Context, id int64) error {
	return r.dao.MarkSent(ctx, id)
}

func (r *TaskRepositoryImpl) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	return r.dao.MarkFailed(ctx, id, errMsg)
}

func (r *TaskRepositoryImpl) Cancel(ctx context.Context, queueID string) (bool, error) {
	return r.dao.Cancel(ctx, queueID)
}

func (r *TaskRepositoryImpl) Retry(ctx context.Context, queueID string) (bool, error) {
	return r.dao.Retry(ctx, queueID)
}

func (r *TaskRepositoryImpl) SweepRetryable(ctx context.Context, utimeBefore int64) (int64, error) {
	return r.dao.SweepRetryable(ctx, utimeBefore)
}

func (r *TaskRepositoryImpl) ReclaimExpired(ctx context.Context) (int64, error) {
	return r.dao.ReclaimExpired(ctx)
}

func (r *TaskRepositoryImpl) CountByStatus(ctx context.Context, status task.Status) (int64, error) {
	return r.dao.CountByStatus(ctx, uint8(status))
}

func (r *TaskRepositoryImpl) FindByQueueID(ctx context.Context, queueID string) (task.Task, error) {
	entity, err := r.dao.FindByQueueID(ctx, queueID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return task.Task{}, ErrTaskNotFound
		}
		return task.Task{}, err
	}
	return r.toDomain(entity), nil
}

func (r *TaskRepositoryImpl) toEntity(t task.Task) dao.EmailTask {
	var attachments []byte
	if len(t.Attachments) > 0 {
		attachments, _ = json.Marshal(t.Attachments)
	}
	return dao.EmailTask{
		QueueID:        t.QueueID,
		TemplateCode:   t.TemplateCode,
		RecipientEmail: t.RecipientEmail,
		RecipientName:  t.RecipientName,
		Subject:        t.Subject,
		Content:        t.Content,
		Attachments:    attachments,
		Priority:       t.Priority,
		MaxRetry:       t.MaxRetry,
		ScheduleTime:   t.ScheduleTime,
	}
}

func (r *TaskRepositoryImpl) toDomains(entities []dao.EmailTask) []task.Task {
	return slice.Map(entities, func(idx int, src dao.EmailTask) task.Task {
		return r.toDomain(src)
	})
}

func (r *TaskRepositoryImpl) toDomain(entity dao.EmailTask) task.Task {
	var attachments []task.Attachment
	if len(entity.Attachments) > 0 {
		err := json.Unmarshal(entity.Attachments, &attachments)
		if err != nil {
			// 附件解析失败不影响任务本身，发送时就当没有附件
			r.logger.Error("解析附件失败",
				slog.String("queue_id", entity.QueueID),
				slog.Any("err", err))
		}
	}
	return task.Task{
		ID:             entity.ID,
		QueueID:        entity.QueueID,
		TemplateCode:   entity.TemplateCode,
		RecipientEmail: entity.RecipientEmail,
		RecipientName:  entity.RecipientName,
		Subject:        entity.Subject,
		Content:        entity.Content,
		Attachments:    attachments,
		Status:         task.Status(entity.Status),
		Priority:       entity.Priority,
		RetryCount:     entity.RetryCount,
		MaxRetry:       entity.MaxRetry,
		ScheduleTime:   entity.ScheduleTime,
		ErrorMsg:       entity.ErrorMsg,
		SendTime:       entity.SendTime,
		Ctime:          entity.Ctime,
		Utime:          entity.Utime,
	}
}
