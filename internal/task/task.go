package task

import (
	"encoding/json"
)

type Status uint8

const (
	StatusPending Status = 0 // 待发送
	StatusSending Status = 1 // 发送中，已被某个实例认领
	StatusSent    Status = 2 // 发送成功
	StatusFailed  Status = 3 // 发送失败
)

// Task 代表一封待发送的邮件
type Task struct {
	ID             int64
	QueueID        string
	TemplateCode   string
	RecipientEmail string
	RecipientName  string
	Subject        string
	Content        string
	Attachments    []Attachment
	Status         Status
	Priority       int
	RetryCount     int
	MaxRetry       int
	// 计划发送时间，毫秒时间戳，0 表示立即发送
	ScheduleTime int64
	ErrorMsg     string
	SendTime     int64
	Ctime        int64
	Utime        int64
}

type Attachment struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// EnqueueReq 入队请求，也是 Kafka 接入时的消息体
type EnqueueReq struct {
	TemplateCode   string       `json:"template_code"`
	RecipientEmail string       `json:"recipient_email"`
	RecipientName  string       `json:"recipient_name"`
	Subject        string       `json:"subject"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments"`
	// 1-10，数字越小优先级越高，0 表示使用默认值
	Priority int `json:"priority"`
	// 业务方标识，用于来源维度的限流，可以为空
	Biz          string `json:"biz"`
	ScheduleTime int64  `json:"schedule_time"`
}

func (e EnqueueReq) Encode() []byte {
	data, _ := json.Marshal(e)
	return data
}
