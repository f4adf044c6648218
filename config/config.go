package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DataSource DB    `json:"dataSource" yaml:"dataSource"`
	Redis      Redis `json:"redis" yaml:"redis"`
	SMTP       SMTP  `json:"smtp" yaml:"smtp"`
	Kafka      Kafka `json:"kafka" yaml:"kafka"`
	Queue      Queue `json:"queue" yaml:"queue"`
}

type DB struct {
	DSN string `json:"dsn" yaml:"dsn"`
}

type Redis struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type SMTP struct {
	Addr     string `json:"addr" yaml:"addr"`
	From     string `json:"from" yaml:"from"`
	Helo     string `json:"helo" yaml:"helo"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// Kafka 可选的接入方式，Addr 为空时不启动消费者
type Kafka struct {
	Addr    string `json:"addr" yaml:"addr"`
	GroupID string `json:"groupID" yaml:"groupID"`
	Topic   string `json:"topic" yaml:"topic"`
}

type Queue struct {
	BatchSize       int           `json:"batchSize" yaml:"batchSize"`
	PollInterval    time.Duration `json:"pollInterval" yaml:"pollInterval"`
	MaxRetry        int           `json:"maxRetry" yaml:"maxRetry"`
	DefaultPriority int           `json:"defaultPriority" yaml:"defaultPriority"`
	// 失败之后至少隔这么久才会自动重试
	RetryBackoff  time.Duration `json:"retryBackoff" yaml:"retryBackoff"`
	SweepInterval time.Duration `json:"sweepInterval" yaml:"sweepInterval"`
	// 任务被认领之后超过这个时间没有结果，会被回收重发
	LeaseTimeout time.Duration `json:"leaseTimeout" yaml:"leaseTimeout"`
	SendTimeout  time.Duration `json:"sendTimeout" yaml:"sendTimeout"`
	// 限流窗口内单个收件人/业务方允许的入队次数
	RecipientLimit int           `json:"recipientLimit" yaml:"recipientLimit"`
	BizLimit       int           `json:"bizLimit" yaml:"bizLimit"`
	RateWindow     time.Duration `json:"rateWindow" yaml:"rateWindow"`
}

func Load(path string) (Config, error) {
	viper.SetConfigFile(path)
	err := viper.ReadInConfig()
	if err != nil {
		return Config{}, fmt.Errorf("读取配置失败 %w", err)
	}
	var c Config
	err = viper.Unmarshal(&c)
	if err != nil {
		return Config{}, fmt.Errorf("解析配置失败 %w", err)
	}
	return c, nil
}
