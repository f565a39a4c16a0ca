package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/feedsub/internal/config"
	"github.com/hitoshi/feedsub/internal/database"
	"github.com/hitoshi/feedsub/internal/handler"
	"github.com/hitoshi/feedsub/internal/logger"
	"github.com/hitoshi/feedsub/internal/metrics"
	"github.com/hitoshi/feedsub/internal/middleware"
	"github.com/hitoshi/feedsub/internal/worker/cleanup"
	"github.com/hitoshi/feedsub/internal/worker/subscribe"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("task_queue", cfg.TaskQueue),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングしてHTTPサーバーを起動し、
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	c, err := buildComponents(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	dispatcher := subscribe.NewDispatcher(c.resolver, c.tracker, c.queue, log)

	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg), log)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:            log,
		SessionFinder:     c.sessions,
		RateLimiter:       rateLimiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		HealthChecker:     c.db,
		MetricsHandler:    metrics.Handler(c.registry),
		Subscriptions:     handler.NewSubscriptionHandler(c.resolver, c.metrics, log),
		JobStates:         handler.NewJobStateHandler(dispatcher, c.tracker, log),
	}
	if cfg.CSRFEnabled {
		deps.CSRF = &middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		}
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilDone(ctx, server, "API server")
}

// runWorker はワーカーモードで起動する。
// 購読タスクのコンシューマとジョブ状態のクリーンアップジョブを起動し、
// シグナル受信後は処理中のタスクの完了を待って終了する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	c, err := buildComponents(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	worker := subscribe.NewWorker(c.resolver, c.tracker, c.metrics, log)

	cleanupJob := cleanup.NewCleanupJob(c.jobStates, c.metrics, log)
	cleanupJob.RetentionDays = cfg.JobStateRetentionDays
	go cleanupJob.Start(ctx, cfg.CleanupInterval)

	if cfg.WorkerMetricsPort != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(c.registry))
		mux.Handle("/health", handler.NewHealthHandler(c.db, log))
		server := &http.Server{
			Addr:              ":" + cfg.WorkerMetricsPort,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := serveUntilDone(ctx, server, "worker metrics server"); err != nil {
				log.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	log.Info("worker starting",
		slog.String("task_queue", cfg.TaskQueue),
		slog.Int("concurrency", cfg.WorkerConcurrency),
		slog.Int("retention_days", cfg.JobStateRetentionDays),
	)

	if err := c.queue.Run(ctx, worker.Handle, worker.Exhausted); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("task consumer stopped: %w", err)
	}

	log.Info("worker stopped gracefully")
	return nil
}

// serveUntilDone はHTTPサーバーを起動し、ctxがキャンセルされたらシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	report, err := database.RunMigrations(cfg.DatabaseURL, slog.Default())
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if !report.Applied() {
		slog.Info("database schema is up to date",
			slog.Uint64("version", uint64(report.To)),
		)
		return nil
	}
	slog.Info("database migrations completed successfully",
		slog.Uint64("from_version", uint64(report.From)),
		slog.Uint64("to_version", uint64(report.To)),
		slog.Uint64("latest_version", uint64(report.Latest)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	u.RawQuery = ""
	return u.Redacted()
}
