package transport

import (
	"context"

	"github.com/meoying/email-ext/internal/task"
)

// Transport 负责把一封邮件真正发出去。
// 发送失败通过 error 返回，由调用方决定任务的状态流转。
type Transport interface {
	Send(ctx context.Context, t task.Task) error
}
