package job

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	mu        sync.Mutex
	due       int
	scheduled int
}

func (f *fakeDispatcher) SendDueTasks(ctx context.Context, batchSize int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.due++
	return 0, nil
}

func (f *fakeDispatcher) SendScheduledTasks(ctx context.Context, batchSize int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled++
	return 0, nil
}

func (f *fakeDispatcher) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.due, f.scheduled
}

func TestPoller_Tick(t *testing.T) {
	svc := &fakeDispatcher{}
	p := NewPoller(svc, 10, time.Second)
	mockClock := clock.NewMock()
	p.clock = mockClock

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	// 等轮询 goroutine 把 ticker 建出来
	time.Sleep(time.Millisecond * 10)

	// 两个 tick，每个 tick 各领一次两个池子
	mockClock.Add(time.Second)
	mockClock.Add(time.Second)

	require.Eventually(t, func() bool {
		due, scheduled := svc.counts()
		return due == 2 && scheduled == 2
	}, time.Second*3, time.Millisecond*10)
}

func TestPoller_StartOnce(t *testing.T) {
	svc := &fakeDispatcher{}
	p := NewPoller(svc, 10, time.Second)
	mockClock := clock.NewMock()
	p.clock = mockClock

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// 重复 Start 不会再起一个轮询
	p.Start(ctx)
	p.Start(ctx)
	time.Sleep(time.Millisecond * 10)

	mockClock.Add(time.Second)
	require.Eventually(t, func() bool {
		due, _ := svc.counts()
		return due == 1
	}, time.Second*3, time.Millisecond*10)

	// 再等一会儿，确认没有第二个轮询在偷偷跑
	time.Sleep(time.Millisecond * 100)
	due, _ := svc.counts()
	assert.Equal(t, 1, due)
}
