package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

type namedJob interface {
	Name() string
	Run(ctx context.Context) error
}

type jobAdapter struct {
	job     namedJob
	timeout time.Duration
	logger  *slog.Logger
}

func NewJobAdapter(job namedJob, timeout time.Duration, logger *slog.Logger) cron.Job {
	return &jobAdapter{job: job, timeout: timeout, logger: logger}
}

func (a *jobAdapter) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	err := a.job.Run(ctx)
	cancel()
	if err != nil {
		a.logger.Error("运行定时任务失败",
			slog.String("job", a.job.Name()),
			slog.Any("err", err))
	}
}
