package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/smtp"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/meoying/email-ext/config"
	consumer2 "github.com/meoying/email-ext/internal/consumer"
	job2 "github.com/meoying/email-ext/internal/job"
	"github.com/meoying/email-ext/internal/metrics"
	glock "github.com/meoying/email-ext/internal/pkg/lock/gorm"
	"github.com/meoying/email-ext/internal/ratelimit"
	"github.com/meoying/email-ext/internal/repository"
	dao2 "github.com/meoying/email-ext/internal/repository/dao"
	"github.com/meoying/email-ext/internal/service"
	"github.com/meoying/email-ext/internal/transport"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func main() {
	cfgPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(err)
	}

	db, err := initDB(cfg)
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dao := dao2.NewTaskDAO(db, cfg.Queue.LeaseTimeout)
	err = dao.InitTable()
	if err != nil {
		panic(err)
	}
	lockCli := glock.NewClient(db)
	err = lockCli.InitTable()
	if err != nil {
		panic(err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	limiter := ratelimit.NewRedisLimiter(rdb, cfg.Queue.RateWindow)

	repo := repository.NewTaskRepository(dao)
	queueSvc := service.NewQueueService(repo, limiter,
		cfg.Queue.MaxRetry, cfg.Queue.DefaultPriority,
		cfg.Queue.RecipientLimit, cfg.Queue.BizLimit)

	smtpTransport, err := transport.NewSMTPTransport(
		cfg.SMTP.Addr, cfg.SMTP.From, cfg.SMTP.Helo, initAuth(cfg))
	if err != nil {
		panic(err)
	}
	producerSvc := service.NewProducerService(smtpTransport, repo)
	producerSvc.SendTimeout = cfg.Queue.SendTimeout

	// 可选的 Kafka 接入
	if cfg.Kafka.Addr != "" {
		consumerGroup, err1 := initConsumer(cfg)
		if err1 != nil {
			panic(err1)
		}
		delayConsumer := consumer2.NewEnqueueConsumer(queueSvc)
		go func() {
			err2 := consumerGroup.Consume(ctx, []string{cfg.Kafka.Topic}, delayConsumer)
			if err2 != nil {
				cancel()
				panic(err2)
			}
		}()
	}

	poller := job2.NewPoller(producerSvc, cfg.Queue.BatchSize, cfg.Queue.PollInterval)
	poller.Start(ctx)

	c := cron.New()
	sweepSpec := fmt.Sprintf("@every %s", cfg.Queue.SweepInterval)
	_, err = c.AddJob(sweepSpec, job2.NewJobAdapter(
		job2.NewRetrySweepJob(repo, lockCli, cfg.Queue.RetryBackoff),
		time.Second*30, slog.Default()))
	if err != nil {
		panic(err)
	}
	_, err = c.AddJob(sweepSpec, job2.NewJobAdapter(
		job2.NewReclaimJob(repo, lockCli),
		time.Second*30, slog.Default()))
	if err != nil {
		panic(err)
	}
	c.Start()

	metrics.Register()
	go func() {
		http.Handle("/metrics", metrics.Handler())
		err1 := http.ListenAndServe(":8081", nil)
		if err1 != nil && err1 != http.ErrServerClosed {
			slog.Error("metrics 服务退出", slog.Any("err", err1))
		}
	}()

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigchan // 阻塞等待信号
		cancel()
	}()

	<-ctx.Done()
	<-c.Stop().Done()
	// 等待全部goroutine退出
	time.Sleep(time.Second * 5)
}

func initDB(cfg config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DataSource.DSN), &gorm.Config{
		TranslateError: true,
	})
	return db, err
}

func initAuth(cfg config.Config) smtp.Auth {
	if cfg.SMTP.Username == "" {
		return nil
	}
	host, _, err := net.SplitHostPort(cfg.SMTP.Addr)
	if err != nil {
		host = cfg.SMTP.Addr
	}
	return smtp.PlainAuth("", cfg.SMTP.Username, cfg.SMTP.Password, host)
}

func initConsumer(cfg config.Config) (sarama.ConsumerGroup, error) {
	scfg := sarama.NewConfig()
	scfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	return sarama.NewConsumerGroup([]string{cfg.Kafka.Addr}, cfg.Kafka.GroupID, scfg)
}
