package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/feedsub/internal/config"
	"github.com/hitoshi/feedsub/internal/database"
	"github.com/hitoshi/feedsub/internal/feed"
	"github.com/hitoshi/feedsub/internal/jobstate"
	"github.com/hitoshi/feedsub/internal/metrics"
	"github.com/hitoshi/feedsub/internal/middleware"
	"github.com/hitoshi/feedsub/internal/model"
	"github.com/hitoshi/feedsub/internal/queue"
	"github.com/hitoshi/feedsub/internal/repository"
	"github.com/hitoshi/feedsub/internal/security"
	"github.com/hitoshi/feedsub/internal/subscription"
)

// taskQueue はserveとworkerが共有するタスクキューの操作。
type taskQueue interface {
	Enqueue(ctx context.Context, task model.SubscribeTask) error
	Run(ctx context.Context, handler queue.Handler, onExhausted queue.ExhaustedHandler) error
}

// components はserveとworkerの両方で使う依存関係をまとめたもの。
type components struct {
	db        *sql.DB
	nc        *nats.Conn
	registry  *prometheus.Registry
	metrics   *metrics.Collector
	sessions  *repository.PostgresSessionRepo
	jobStates *repository.PostgresJobStateRepo
	resolver  *subscription.Resolver
	tracker   *jobstate.Tracker
	queue     taskQueue
}

// buildComponents はDB接続、メトリクス、フィード取得、リゾルバ、ジョブ状態、キューを組み立てる。
func buildComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, cfg.DBMaxOpenConns)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(ctx, db, 5*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("database connection established")

	c := &components{db: db}

	// 2. メトリクス
	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.metrics = metrics.NewCollector(c.registry)

	// 3. リポジトリ
	feedRepo := repository.NewPostgresFeedRepo(db)
	subRepo := repository.NewPostgresSubscriptionRepo(db)
	c.sessions = repository.NewPostgresSessionRepo(db)
	c.jobStates = repository.NewPostgresJobStateRepo(db)

	// 4. フィード取得とリゾルバ
	guard := security.NewSSRFGuard(cfg.FetchAllowedPorts...)
	client := feed.NewClient(guard, security.NewEntrySanitizer(), c.metrics, logger, feed.ClientConfig{
		Timeout:     cfg.FetchTimeout,
		MaxBodySize: cfg.FetchMaxSize,
	})
	c.resolver = subscription.NewResolver(feedRepo, subRepo, client, logger)
	c.tracker = jobstate.NewTracker(c.jobStates, c.metrics, logger)

	// 5. タスクキュー
	if err := c.openQueue(ctx, cfg, logger); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

func (c *components) openQueue(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	switch cfg.TaskQueue {
	case config.TaskQueueNATS:
		nc, err := queue.Connect(cfg.NATSURL)
		if err != nil {
			return err
		}
		c.nc = nc
		q, err := queue.NewJetStreamQueue(ctx, nc, queue.JetStreamConfig{
			Stream:        cfg.NATSStream,
			Subject:       cfg.NATSSubject,
			Durable:       cfg.NATSDurable,
			Concurrency:   cfg.WorkerConcurrency,
			AckWait:       cfg.QueueVisibilityTimeout,
			MaxDeliver:    cfg.QueueMaxAttempts,
			RetryDelay:    cfg.QueueRetryDelay,
			MaxRetryDelay: cfg.QueueMaxRetryDelay,
		}, c.metrics, logger)
		if err != nil {
			return err
		}
		c.queue = q
	default:
		c.queue = queue.NewPostgresQueue(c.db, queue.PostgresConfig{
			Concurrency:       cfg.WorkerConcurrency,
			PollInterval:      cfg.QueuePollInterval,
			VisibilityTimeout: cfg.QueueVisibilityTimeout,
			MaxAttempts:       cfg.QueueMaxAttempts,
			RetryDelay:        cfg.QueueRetryDelay,
			MaxRetryDelay:     cfg.QueueMaxRetryDelay,
		}, c.metrics, logger)
	}
	return nil
}

// Close はNATS接続とDB接続を閉じる。
func (c *components) Close() {
	if c.nc != nil {
		// 未送信のメッセージを送り切ってから閉じる
		if err := c.nc.Drain(); err != nil {
			c.nc.Close()
		}
	}
	c.db.Close()
}

// rateLimiterConfig は req/min 単位の設定値をレートリミッターの設定に変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rl.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitSubscribe > 0 {
		rl.SubscribeRate = rate.Limit(float64(cfg.RateLimitSubscribe) / 60.0)
		rl.SubscribeBurst = cfg.RateLimitSubscribe * 2
	}
	return rl
}
