package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meoying/email-ext/internal/ratelimit"
	"github.com/meoying/email-ext/internal/repository"
	"github.com/meoying/email-ext/internal/task"
	"github.com/meoying/email-ext/internal/test/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestQueueService_Enqueue(t *testing.T) {
	testCases := []struct {
		name    string
		req     task.EnqueueReq
		mock    func(ctrl *gomock.Controller, created *task.Task) (repository.TaskRepository, ratelimit.Limiter)
		check   func(t *testing.T, created task.Task)
		wantErr error
	}{
		{
			name: "入队成功",
			req: task.EnqueueReq{
				RecipientEmail: "user@example.com",
				RecipientName:  "张三",
				Subject:        "欢迎注册",
				Content:        "<p>欢迎</p>",
			},
			mock: func(ctrl *gomock.Controller, created *task.Task) (repository.TaskRepository, ratelimit.Limiter) {
				limiter := mocks.NewMockLimiter(ctrl)
				limiter.EXPECT().
					Allow(gomock.Any(), "email_ext:limit:recipient:user@example.com", 3).
					Return(true, nil)
				repo := mocks.NewMockTaskRepository(ctrl)
				repo.EXPECT().CreateTask(gomock.Any(), gomock.Any()).DoAndReturn(
					func(ctx context.Context, t task.Task) error {
						*created = t
						return nil
					})
				return repo, limiter
			},
			check: func(t *testing.T, created task.Task) {
				assert.NotEmpty(t, created.QueueID)
				assert.Equal(t, 5, created.Priority)
				assert.Equal(t, 3, created.MaxRetry)
				assert.Equal(t, int64(0), created.ScheduleTime)
			},
		},
		{
			name: "优先级超出范围被收敛",
			req: task.EnqueueReq{
				RecipientEmail: "user@example.com",
				Subject:        "标题",
				Content:        "内容",
				Priority:       99,
			},
			mock: func(ctrl *gomock.Controller, created *task.Task) (repository.TaskRepository, ratelimit.Limiter) {
				limiter := mocks.NewMockLimiter(ctrl)
				limiter.EXPECT().Allow(gomock.Any(), gomock.Any(), gomock.Any()).
					Return(true, nil)
				repo := mocks.NewMockTaskRepository(ctrl)
				repo.EXPECT().CreateTask(gomock.Any(), gomock.Any()).DoAndReturn(
					func(ctx context.Context, t task.Task) error {
						*created = t
						return nil
					})
				return repo, limiter
			},
			check: func(t *testing.T, created task.Task) {
				assert.Equal(t, 10, created.Priority)
			},
		},
		{
			name: "缺少收件人",
			req: task.EnqueueReq{
				Subject: "标题",
				Content: "内容",
			},
			mock: func(ctrl *gomock.Controller, created *task.Task) (repository.TaskRepository, ratelimit.Limiter) {
				return mocks.NewMockTaskRepository(ctrl), mocks.NewMockLimiter(ctrl)
			},
			wantErr: ErrInvalidRecipient,
		},
		{
			name: "收件人不是合法邮箱",
			req: task.EnqueueReq{
				RecipientEmail: "not-an-email",
				Subject:        "标题",
				Content:        "内容",
			},
			mock: func(ctrl *gomock.Controller, created *task.Task) (repository.TaskRepository, ratelimit.Limiter) {
				return mocks.NewMockTaskRepository(ctrl), mocks.NewMockLimiter(ctrl)
			},
			wantErr: ErrInvalidRecipient,
		},
		{
			name: "内容为空",
			req: task.EnqueueReq{
				RecipientEmail: "user@example.com",
				Subject:        "标题",
			},
			mock: func(ctrl *gomock.Controller, created *task.Task) (repository.TaskRepository, ratelimit.Limiter) {
				return mocks.NewMockTaskRepository(ctrl), mocks.NewMockLimiter(ctrl)
			},
			wantErr: ErrEmptyContent,
		},
		{
			name: "收件人维度被限流，任务不会被创建",
			req: task.EnqueueReq{
				RecipientEmail: "user@example.com",
				Subject:        "标题",
				Content:        "内容",
			},
			mock: func(ctrl *gomock.Controller, created *task.Task) (repository.TaskRepository, ratelimit.Limiter) {
				limiter := mocks.NewMockLimiter(ctrl)
				limiter.EXPECT().
					Allow(gomock.Any(), "email_ext:limit:recipient:user@example.com", 3).
					Return(false, nil)
				return mocks.NewMockTaskRepository(ctrl), limiter
			},
			wantErr: ErrRateLimited,
		},
		{
			name: "业务方维度被限流",
			req: task.EnqueueReq{
				RecipientEmail: "user@example.com",
				Subject:        "标题",
				Content:        "内容",
				Biz:            "verification_code",
			},
			mock: func(ctrl *gomock.Controller, created *task.Task) (repository.TaskRepository, ratelimit.Limiter) {
				limiter := mocks.NewMockLimiter(ctrl)
				limiter.EXPECT().
					Allow(gomock.Any(), "email_ext:limit:recipient:user@example.com", 3).
					Return(true, nil)
				limiter.EXPECT().
					Allow(gomock.Any(), "email_ext:limit:biz:verification_code", 100).
					Return(false, nil)
				return mocks.NewMockTaskRepository(ctrl), limiter
			},
			wantErr: ErrRateLimited,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()
			var created task.Task
			repo, limiter := tc.mock(ctrl, &created)

			svc := NewQueueService(repo, limiter, 3, 5, 3, 100)
			queueID, err := svc.Enqueue(context.Background(), tc.req)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Empty(t, queueID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, queueID, created.QueueID)
			if tc.check != nil {
				tc.check(t, created)
			}
		})
	}
}

func TestQueueService_EnqueueAt(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sendTime := time.Now().Add(time.Hour)
	limiter := mocks.NewMockLimiter(ctrl)
	limiter.EXPECT().Allow(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil)
	repo := mocks.NewMockTaskRepository(ctrl)
	var created task.Task
	repo.EXPECT().CreateTask(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, t task.Task) error {
			created = t
			return nil
		})

	svc := NewQueueService(repo, limiter, 3, 5, 3, 100)
	queueID, err := svc.EnqueueAt(context.Background(), task.EnqueueReq{
		RecipientEmail: "user@example.com",
		Subject:        "会议提醒",
		Content:        "别忘了",
	}, sendTime)
	require.NoError(t, err)
	assert.Equal(t, queueID, created.QueueID)
	assert.Equal(t, sendTime.UnixMilli(), created.ScheduleTime)
}

func TestQueueService_Control(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockTaskRepository(ctrl)
	repo.EXPECT().Cancel(gomock.Any(), "q1").Return(true, nil)
	repo.EXPECT().Retry(gomock.Any(), "q1").Return(false, nil)
	repo.EXPECT().CountByStatus(gomock.Any(), task.StatusPending).Return(int64(7), nil)
	repo.EXPECT().CountByStatus(gomock.Any(), task.StatusFailed).Return(int64(2), nil)
	repo.EXPECT().FindByQueueID(gomock.Any(), "missing").
		Return(task.Task{}, repository.ErrTaskNotFound)

	svc := NewQueueService(repo, mocks.NewMockLimiter(ctrl), 3, 5, 3, 100)

	ok, err := svc.Cancel(context.Background(), "q1")
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Retry(context.Background(), "q1")
	assert.NoError(t, err)
	assert.False(t, ok)

	pending, err := svc.CountPending(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int64(7), pending)

	failed, err := svc.CountFailed(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int64(2), failed)

	_, err = svc.Find(context.Background(), "missing")
	assert.True(t, errors.Is(err, repository.ErrTaskNotFound))
}
