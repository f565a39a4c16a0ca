package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/feedsub/internal/metrics"
	"github.com/hitoshi/feedsub/internal/model"
)

// claimedTask は取得済み（処理権を得た）タスク。
type claimedTask struct {
	ID       string
	Payload  []byte
	Attempts int
}

// taskStore はタスクテーブルへのアクセスを抽象化する。
type taskStore interface {
	insert(ctx context.Context, id string, payload []byte, now time.Time) error
	claim(ctx context.Context, limit int, visibility time.Duration) ([]claimedTask, error)
	complete(ctx context.Context, id string) error
	release(ctx context.Context, id, lastError string, retryAfter time.Duration) error
}

// PostgresConfig はPostgresQueueの設定。
type PostgresConfig struct {
	Concurrency       int           // 同時に処理するタスク数
	PollInterval      time.Duration // タスクテーブルのポーリング間隔
	VisibilityTimeout time.Duration // 取得後この時間内に完了しないタスクは再取得される
	MaxAttempts       int           // この回数失敗したタスクはExhaustedHandlerに渡して削除する
	RetryDelay        time.Duration // 初回失敗時の再取得までの待ち時間。失敗のたびに倍になる
	MaxRetryDelay     time.Duration // 再取得までの待ち時間の上限
}

// PostgresQueue はsubscribe_tasksテーブルを使うタスクキュー。
// FOR UPDATE SKIP LOCKEDで複数ワーカープロセス間の重複取得を防ぎ、
// semaphoreで1プロセス内の並列数を制御する。
type PostgresQueue struct {
	store   taskStore
	cfg     PostgresConfig
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time
}

// NewPostgresQueue はPostgresQueueを生成する。
func NewPostgresQueue(db *sql.DB, cfg PostgresConfig, mc metrics.MetricsCollector, logger *slog.Logger) *PostgresQueue {
	return newPostgresQueue(&postgresTaskStore{db: db}, cfg, mc, logger)
}

func newPostgresQueue(store taskStore, cfg PostgresConfig, mc metrics.MetricsCollector, logger *slog.Logger) *PostgresQueue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = 5 * time.Minute
	}
	return &PostgresQueue{
		store:   store,
		cfg:     cfg,
		metrics: mc,
		logger:  logger,
		now:     time.Now,
	}
}

// Enqueue はタスクをテーブルに追加する。
func (q *PostgresQueue) Enqueue(ctx context.Context, task model.SubscribeTask) error {
	payload, err := encodeTask(task)
	if err != nil {
		return err
	}
	if err := q.store.insert(ctx, uuid.New().String(), payload, q.now()); err != nil {
		return err
	}
	q.metrics.RecordTaskEnqueued(BackendPostgres, task.IsPartOfBulkImport)
	return nil
}

// Run はコンテキストがキャンセルされるまでタスクを取得して処理する。
// 取得できるタスクがある間はポーリング間隔を待たずに続けて取得する。
func (q *PostgresQueue) Run(ctx context.Context, handler Handler, onExhausted ExhaustedHandler) error {
	q.logger.Info("PostgreSQLタスクキューの処理を開始しました",
		slog.Int("concurrency", q.cfg.Concurrency),
		slog.Duration("poll_interval", q.cfg.PollInterval),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("PostgreSQLタスクキューの処理を停止しました")
			return nil
		case <-timer.C:
		}

		n, err := q.RunOnce(ctx, handler, onExhausted)
		if err != nil && ctx.Err() == nil {
			q.logger.Error("タスクの取得に失敗しました",
				slog.String("error", err.Error()),
			)
		}

		wait := q.cfg.PollInterval
		if n > 0 && err == nil {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// RunOnce は最大Concurrency件のタスクを取得し、並列に処理して完了を待つ。
// 処理したタスク数を返す。
func (q *PostgresQueue) RunOnce(ctx context.Context, handler Handler, onExhausted ExhaustedHandler) (int, error) {
	tasks, err := q.store.claim(ctx, q.cfg.Concurrency, q.cfg.VisibilityTimeout)
	if err != nil {
		return 0, err
	}
	if len(tasks) == 0 {
		return 0, nil
	}

	sem := make(chan struct{}, q.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, t := range tasks {
		wg.Add(1)
		sem <- struct{}{}

		go func(t claimedTask) {
			defer wg.Done()
			defer func() { <-sem }()
			q.process(ctx, t, handler, onExhausted)
		}(t)
	}

	wg.Wait()
	return len(tasks), nil
}

// process は1件のタスクを処理し、結果に応じて削除または解放する。
// MaxAttempts回目の失敗、または最後の試行が完了しないまま再取得された場合は
// onExhaustedを呼んでから削除する。
func (q *PostgresQueue) process(ctx context.Context, t claimedTask, handler Handler, onExhausted ExhaustedHandler) {
	task, err := decodeTask(t.Payload)
	if err != nil {
		// 再配信しても処理できないため破棄する
		q.logger.Error("不正なタスクを破棄します",
			slog.String("task_id", t.ID),
			slog.String("error", err.Error()),
		)
		if err := q.store.complete(ctx, t.ID); err != nil {
			q.logger.Error("不正なタスクの削除に失敗しました",
				slog.String("task_id", t.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	if t.Attempts > q.cfg.MaxAttempts {
		q.logger.Error("最後の試行が完了しなかったためタスクを破棄します",
			slog.String("task_id", t.ID),
			slog.String("job_state_id", task.JobStateID),
			slog.Int("attempts", t.Attempts),
		)
		q.metrics.RecordTaskProcessed(BackendPostgres, false)
		q.discard(ctx, t, task, ErrAbandoned, onExhausted)
		return
	}

	if err := handler(ctx, task); err != nil {
		q.metrics.RecordTaskProcessed(BackendPostgres, false)
		if t.Attempts >= q.cfg.MaxAttempts {
			q.logger.Error("最大試行回数に達したためタスクを破棄します",
				slog.String("task_id", t.ID),
				slog.String("job_state_id", task.JobStateID),
				slog.Int("attempts", t.Attempts),
				slog.String("error", err.Error()),
			)
			q.discard(ctx, t, task, err, onExhausted)
			return
		}
		q.logger.Warn("タスクの処理に失敗しました。再配信されます",
			slog.String("task_id", t.ID),
			slog.String("job_state_id", task.JobStateID),
			slog.Int("attempts", t.Attempts),
			slog.String("error", err.Error()),
		)
		// キャンセル後も解放できるよう、親コンテキストのキャンセルを引き継がない
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		retryAfter := retryBackoff(q.cfg.RetryDelay, q.cfg.MaxRetryDelay, t.Attempts)
		if err := q.store.release(releaseCtx, t.ID, err.Error(), retryAfter); err != nil {
			q.logger.Error("タスクの解放に失敗しました",
				slog.String("task_id", t.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	q.metrics.RecordTaskProcessed(BackendPostgres, true)
	if err := q.store.complete(ctx, t.ID); err != nil {
		// 可視性タイムアウト後に再配信されるが、ハンドラは冪等
		q.logger.Error("完了したタスクの削除に失敗しました",
			slog.String("task_id", t.ID),
			slog.String("error", err.Error()),
		)
	}
}

// discard はonExhaustedを呼んだ後にタスクを削除する。
func (q *PostgresQueue) discard(ctx context.Context, t claimedTask, task model.SubscribeTask, cause error, onExhausted ExhaustedHandler) {
	notifyExhausted(ctx, onExhausted, task, cause)

	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := q.store.complete(deleteCtx, t.ID); err != nil {
		q.logger.Error("破棄するタスクの削除に失敗しました",
			slog.String("task_id", t.ID),
			slog.String("error", err.Error()),
		)
	}
}

// postgresTaskStore はsubscribe_tasksテーブルの実装。
type postgresTaskStore struct {
	db *sql.DB
}

func (s *postgresTaskStore) insert(ctx context.Context, id string, payload []byte, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribe_tasks (id, payload, created_at) VALUES ($1, $2, $3)`,
		id, payload, now,
	)
	if err != nil {
		return fmt.Errorf("タスクの登録に失敗しました: %w", err)
	}
	return nil
}

// claim は未取得または可視性タイムアウトを過ぎたタスクのうち、
// 再取得の待ち時間が経過したものを古い順に取得する。
func (s *postgresTaskStore) claim(ctx context.Context, limit int, visibility time.Duration) ([]claimedTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE subscribe_tasks
		 SET claimed_at = now(), attempts = attempts + 1
		 WHERE id IN (
		     SELECT id FROM subscribe_tasks
		     WHERE (claimed_at IS NULL OR claimed_at < now() - $1 * interval '1 second')
		       AND available_at <= now()
		     ORDER BY created_at
		     LIMIT $2
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, payload, attempts`,
		visibility.Seconds(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("タスクの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var tasks []claimedTask
	for rows.Next() {
		var t claimedTask
		if err := rows.Scan(&t.ID, &t.Payload, &t.Attempts); err != nil {
			return nil, fmt.Errorf("タスク行の読み取りに失敗しました: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("タスクの走査に失敗しました: %w", err)
	}
	return tasks, nil
}

func (s *postgresTaskStore) complete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM subscribe_tasks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("タスクの削除に失敗しました: %w", err)
	}
	return nil
}

func (s *postgresTaskStore) release(ctx context.Context, id, lastError string, retryAfter time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscribe_tasks
		 SET claimed_at = NULL, last_error = $2, available_at = now() + $3 * interval '1 second'
		 WHERE id = $1`,
		id, lastError, retryAfter.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("タスクの解放に失敗しました: %w", err)
	}
	return nil
}
