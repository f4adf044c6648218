package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ecodeclub/ekit/syncx/atomicx"
)

type dispatcher interface {
	SendDueTasks(ctx context.Context, batchSize int) (int, error)
	SendScheduledTasks(ctx context.Context, batchSize int) (int, error)
}

// Poller 周期性地认领并发送到期的任务。
// 多个实例可以同时跑，不会重复发送，正确性由认领时的条件更新保证。
type Poller struct {
	svc       dispatcher
	batchSize int
	interval  time.Duration
	clock     clock.Clock
	started   *atomicx.Value[bool]
	Logger    *slog.Logger
}

func NewPoller(svc dispatcher, batchSize int, interval time.Duration) *Poller {
	return &Poller{
		svc:       svc,
		batchSize: batchSize,
		interval:  interval,
		clock:     clock.New(),
		started:   atomicx.NewValueOf(false),
		Logger:    slog.Default(),
	}
}

func (p *Poller) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	go p.loop(ctx)
}

func (p *Poller) loop(ctx context.Context) {
	ticker := p.clock.Ticker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.tick(ctx)
		case <-ctx.Done():
			p.Logger.Info("退出发送轮询")
			return
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	// 两个池子各领一批：立即发送的和定时时间已到的。
	// 单个任务的失败已经记到任务上了，这里只记日志，不中断轮询。
	cnt, err := p.svc.SendDueTasks(ctx, p.batchSize)
	if err != nil {
		p.Logger.Error("发送到期任务出错",
			slog.Int("count", cnt), slog.Any("err", err))
	}
	cnt, err = p.svc.SendScheduledTasks(ctx, p.batchSize)
	if err != nil {
		p.Logger.Error("发送定时任务出错",
			slog.Int("count", cnt), slog.Any("err", err))
	}
}
