package dao

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// CancelMsg 取消任务时写入的失败原因
const CancelMsg = "任务已取消"

type TaskDAO struct {
	db *gorm.DB
	// 租约时长，认领后超过这个时间未出结果，任务可以被回收重发
	leaseTimeout time.Duration
}

func NewTaskDAO(db *gorm.DB, leaseTimeout time.Duration) *TaskDAO {
	return &TaskDAO{db: db, leaseTimeout: leaseTimeout}
}

func (d *TaskDAO) InitTable() error {
	return d.db.AutoMigrate(&EmailTask{})
}

func (d *TaskDAO) CreateTask(ctx context.Context, t EmailTask) error {
	now := time.Now().UnixMilli()
	t.Status = TaskStatusPending
	t.Ctime = now
	t.Utime = now
	return d.db.WithContext(ctx).Create(&t).Error
}

// LeaseDue 认领一批立即发送的任务（没有计划发送时间）
func (d *TaskDAO) LeaseDue(ctx context.Context, limit int) ([]EmailTask, error) {
	return d.lease(ctx, limit, "status = ? AND schedule_time = 0", TaskStatusPending)
}

// LeaseScheduled 认领一批计划发送时间已经到达的任务
func (d *TaskDAO) LeaseScheduled(ctx context.Context, limit int) ([]EmailTask, error) {
	now := time.Now().UnixMilli()
	return d.lease(ctx, limit,
		"status = ? AND schedule_time > 0 AND schedule_time <= ?", TaskStatusPending, now)
}

// lease 先查出候选任务，再逐条做条件更新抢占。
// 条件更新带上 status = PENDING，两个实例同时认领同一行时只有一个能成功，
// 失败的一方 RowsAffected 为 0，直接跳过即可，这不是错误。
func (d *TaskDAO) lease(ctx context.Context, limit int, query string, args ...any) ([]EmailTask, error) {
	var candidates []EmailTask
	err := d.db.WithContext(ctx).
		Where(query, args...).
		Order("priority ASC, ctime ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	now := time.Now().UnixMilli()
	leaseExpire := now + d.leaseTimeout.Milliseconds()
	claimed := make([]EmailTask, 0, len(candidates))
	for _, c := range candidates {
		res := d.db.WithContext(ctx).Model(&EmailTask{}).
			Where("id = ? AND status = ?", c.ID, TaskStatusPending).
			Updates(map[string]any{
				"status":            TaskStatusSending,
				"lease_expire_time": leaseExpire,
				"utime":             now,
			})
		if res.Error != nil {
			return claimed, res.Error
		}
		if res.RowsAffected == 0 {
			// 被别的实例抢走了
			continue
		}
		c.Status = TaskStatusSending
		c.LeaseExpireTime = leaseExpire
		c.Utime = now
		claimed = append(claimed, c)
	}
	return claimed, nil
}

func (d *TaskDAO) MarkSent(ctx context.Context, id int64) error {
	now := time.Now().UnixMilli()
	res := d.db.WithContext(ctx).Model(&EmailTask{}).
		Where("id = ? AND status = ?", id, TaskStatusSending).
		Updates(map[string]any{
			"status":    TaskStatusSent,
			"send_time": now,
			"error_msg": "",
			"utime":     now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (d *TaskDAO) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	res := d.db.WithContext(ctx).Model(&EmailTask{}).
		Where("id = ? AND status = ?", id, TaskStatusSending).
		Updates(map[string]any{
			"status":      TaskStatusFailed,
			"retry_count": gorm.Expr("retry_count + 1"),
			"error_msg":   errMsg,
			"utime":       time.Now().UnixMilli(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Cancel 只有还没被认领的任务才能取消。
// 取消是写一个终态的 FAILED，同时把 retry_count 顶到 max_retry，
// 这样重试清扫和手动重试都不会把它捞回来。
func (d *TaskDAO) Cancel(ctx context.Context, queueID string) (bool, error) {
	res := d.db.WithContext(ctx).Model(&EmailTask{}).
		Where("queue_id = ? AND status = ?", queueID, TaskStatusPending).
		Updates(map[string]any{
			"status":      TaskStatusFailed,
			"retry_count": gorm.Expr("max_retry"),
			"error_msg":   CancelMsg,
			"utime":       time.Now().UnixMilli(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Retry 手动重试，只对重试次数还没用完的 FAILED 任务生效
func (d *TaskDAO) Retry(ctx context.Context, queueID string) (bool, error) {
	res := d.db.WithContext(ctx).Model(&EmailTask{}).
		Where("queue_id = ? AND status = ? AND retry_count < max_retry",
			queueID, TaskStatusFailed).
		Updates(map[string]any{
			"status": TaskStatusPending,
			"utime":  time.Now().UnixMilli(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SweepRetryable 把退避窗口之外、重试次数没用完的 FAILED 任务批量置回 PENDING
func (d *TaskDAO) SweepRetryable(ctx context.Context, utimeBefore int64) (int64, error) {
	res := d.db.WithContext(ctx).Model(&EmailTask{}).
		Where("status = ? AND retry_count < max_retry AND utime <= ?",
			TaskStatusFailed, utimeBefore).
		Updates(map[string]any{
			"status": TaskStatusPending,
			"utime":  time.Now().UnixMilli(),
		})
	return res.RowsAffected, res.Error
}

// ReclaimExpired 回收租约已经过期的 SENDING 任务。
// 持有者可能已经崩溃，也可能只是慢，这里接受可能的重复发送。
func (d *TaskDAO) ReclaimExpired(ctx context.Context) (int64, error) {
	now := time.Now().UnixMilli()
	res := d.db.WithContext(ctx).Model(&EmailTask{}).
		Where("status = ? AND lease_expire_time <= ?", TaskStatusSending, now).
		Updates(map[string]any{
			"status": TaskStatusPending,
			"utime":  now,
		})
	return res.RowsAffected, res.Error
}

func (d *TaskDAO) CountByStatus(ctx context.Context, status uint8) (int64, error) {
	var cnt int64
	err := d.db.WithContext(ctx).Model(&EmailTask{}).
		Where("status = ?", status).Count(&cnt).Error
	return cnt, err
}

func (d *TaskDAO) FindByQueueID(ctx context.Context, queueID string) (EmailTask, error) {
	var res EmailTask
	err := d.db.WithContext(ctx).Where("queue_id = ?", queueID).First(&res).Error
	return res, err
}
