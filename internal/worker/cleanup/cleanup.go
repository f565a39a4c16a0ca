// Package cleanup は終了済みジョブ状態の自動削除ジョブを提供する。
// 保持期間（デフォルト14日）を超過したSUCCESS/ERRORのジョブ状態を定期的に削除する。
// RUNNINGのジョブ状態は削除しない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/feedsub/internal/metrics"
)

// Purger は終端状態のジョブ状態を削除する。repository.PostgresJobStateRepoが実装する。
type Purger interface {
	DeleteTerminatedBefore(ctx context.Context, before, now time.Time) (int64, error)
}

// CleanupJob は保持期間を超過したジョブ状態の自動削除ジョブ。
// 冪等であり、複数プロセスで同時に実行しても問題ない。
type CleanupJob struct {
	purger        Purger
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int // ジョブ状態の保持日数（デフォルト: 14）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は14日。
func NewCleanupJob(purger Purger, mc metrics.MetricsCollector, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		purger:        purger,
		metrics:       mc,
		logger:        logger,
		now:           time.Now,
		RetentionDays: 14,
	}
}

// Run は作成からRetentionDays日を超えた終端状態のジョブ状態を削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	now := j.now()
	before := now.AddDate(0, 0, -j.RetentionDays)

	deletedCount, err := j.purger.DeleteTerminatedBefore(ctx, before, now)
	if err != nil {
		j.logger.Error("ジョブ状態クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("ジョブ状態クリーンアップの実行に失敗: %w", err)
	}

	j.metrics.RecordJobStatesPurged(deletedCount)

	duration := time.Since(start)
	j.logger.Info("ジョブ状態クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は指定間隔でRunを繰り返す。起動直後に1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("ジョブ状態クリーンアップを開始しました",
		slog.Duration("interval", interval),
		slog.Int("retention_days", j.RetentionDays),
	)

	// エラーはRun内でログ出力済み
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("ジョブ状態クリーンアップを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
