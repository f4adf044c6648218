package glock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/meoying/email-ext/internal/pkg/lock"
	"gorm.io/gorm"
)

// DistributedLock 基于数据库的分布式锁，一把锁一行
type DistributedLock struct {
	ID    int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Key   string `gorm:"column:lock_key;type:varchar(128);unique"`
	Owner string `gorm:"column:owner;type:varchar(64)"`
	// 过期之后任何人都可以抢占这把锁
	ExpireTime int64 `gorm:"column:expire_time"`
	Ctime      int64 `gorm:"column:ctime"`
	Utime      int64 `gorm:"column:utime"`
}

func (DistributedLock) TableName() string {
	return "distributed_locks"
}

type Client struct {
	db *gorm.DB
}

func NewClient(db *gorm.DB) *Client {
	return &Client{db: db}
}

func (c *Client) InitTable() error {
	return c.db.AutoMigrate(&DistributedLock{})
}

func (c *Client) NewLock(ctx context.Context, key string, expiration time.Duration) (lock.Lock, error) {
	return &gormLock{
		db:         c.db,
		key:        key,
		owner:      uuid.New().String(),
		expiration: expiration,
	}, nil
}

type gormLock struct {
	db         *gorm.DB
	key        string
	owner      string
	expiration time.Duration
}

func (l *gormLock) Lock(ctx context.Context) error {
	now := time.Now().UnixMilli()
	expire := now + l.expiration.Milliseconds()
	// 先尝试抢占已经过期的锁
	res := l.db.WithContext(ctx).Model(&DistributedLock{}).
		Where("lock_key = ? AND expire_time <= ?", l.key, now).
		Updates(map[string]any{
			"owner":       l.owner,
			"expire_time": expire,
			"utime":       now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	// 没有过期锁可以抢，尝试插入新锁
	err := l.db.WithContext(ctx).Create(&DistributedLock{
		Key:        l.key,
		Owner:      l.owner,
		ExpireTime: expire,
		Ctime:      now,
		Utime:      now,
	}).Error
	if err != nil {
		// 唯一索引冲突，说明锁被人持有且没过期
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return lock.ErrLocked
		}
		return err
	}
	return nil
}

func (l *gormLock) Unlock(ctx context.Context) error {
	return l.db.WithContext(ctx).
		Where("lock_key = ? AND owner = ?", l.key, l.owner).
		Delete(&DistributedLock{}).Error
}

func (l *gormLock) Refresh(ctx context.Context) error {
	now := time.Now().UnixMilli()
	res := l.db.WithContext(ctx).Model(&DistributedLock{}).
		Where("lock_key = ? AND owner = ?", l.key, l.owner).
		Updates(map[string]any{
			"expire_time": now + l.expiration.Milliseconds(),
			"utime":       now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return lock.ErrLocked
	}
	return nil
}
