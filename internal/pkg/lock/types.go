package lock

import (
	"context"
	"errors"
	"time"
)

// ErrLocked 抢锁时发现锁被别人持有且还没过期
var ErrLocked = errors.New("锁已被持有")

type Client interface {
	NewLock(ctx context.Context, key string, expiration time.Duration) (Lock, error)
}

type Lock interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
	// Refresh 续约，锁已经丢失时返回 ErrLocked
	Refresh(ctx context.Context) error
}
