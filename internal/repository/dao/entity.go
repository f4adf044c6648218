package dao

// EmailTask 队列中的一条发送任务
type EmailTask struct {
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// 对外暴露的任务标识，创建后不再变化
	QueueID        string `gorm:"column:queue_id;type:varchar(64);unique"`
	TemplateCode   string `gorm:"column:template_code;type:varchar(64)"`
	RecipientEmail string `gorm:"column:recipient_email;type:varchar(256);index"`
	RecipientName  string `gorm:"column:recipient_name;type:varchar(256)"`
	Subject        string `gorm:"column:subject;type:varchar(512)"`
	Content        string `gorm:"column:content;type:TEXT"`
	Attachments    []byte `gorm:"column:attachments;type:TEXT"`
	Status         uint8  `gorm:"column:status;default:0;index:idx_status_schedule_time"`
	// 1-10，数字越小越先被发送
	Priority   int `gorm:"column:priority;default:5;index:idx_priority_ctime"`
	RetryCount int `gorm:"column:retry_count"`
	MaxRetry   int `gorm:"column:max_retry"`
	// 计划发送时间，0 表示立即发送
	ScheduleTime int64 `gorm:"column:schedule_time;index:idx_status_schedule_time"`
	// 租约过期时间，只在 SENDING 状态下有意义
	LeaseExpireTime int64  `gorm:"column:lease_expire_time"`
	ErrorMsg        string `gorm:"column:error_msg;type:varchar(1024)"`
	SendTime        int64  `gorm:"column:send_time"`
	Ctime           int64  `gorm:"column:ctime;index:idx_priority_ctime"`
	Utime           int64  `gorm:"column:utime"`
}

func (EmailTask) TableName() string {
	return "email_tasks"
}

const (
	TaskStatusPending uint8 = 0 // 待发送
	TaskStatusSending uint8 = 1 // 已被认领，发送中
	TaskStatusSent    uint8 = 2 // 发送成功
	TaskStatusFailed  uint8 = 3 // 发送失败
)
