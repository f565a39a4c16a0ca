package subscribe

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/feedsub/internal/model"
)

// Dispatcher は購読ジョブを作成してタスクキューに投入する。
type Dispatcher struct {
	resolver SubscriptionResolver
	tracker  JobStateTracker
	queue    TaskQueue
	logger   *slog.Logger
}

// NewDispatcher はDispatcherを生成する。
func NewDispatcher(resolver SubscriptionResolver, tracker JobStateTracker, queue TaskQueue, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		resolver: resolver,
		tracker:  tracker,
		queue:    queue,
		logger:   logger,
	}
}

// EnqueueSubscribe は購読ジョブを作成して返す。
//
// ユーザーが既に同一フィードを購読している場合は、SUCCESS状態のジョブ状態を作成し、タスクは投入しない。
// それ以外はRUNNING状態のジョブ状態を作成してタスクを1件投入する。
// 投入に失敗した場合はジョブ状態をERROR（ENQUEUE_FAILED）に遷移させ、ENQUEUE_FAILEDを返す。
func (d *Dispatcher) EnqueueSubscribe(ctx context.Context, userID, fetchURL string, folderID *string, isPartOfBulkImport bool) (*model.JobState, error) {
	feed, err := d.resolver.FindSubscribedFeed(ctx, userID, fetchURL)
	if err != nil {
		return nil, fmt.Errorf("購読済みフィードの確認に失敗しました: %w", err)
	}
	if feed != nil {
		return d.tracker.StartSucceeded(ctx, userID, fetchURL, feed.ID)
	}

	js, err := d.tracker.Start(ctx, userID, fetchURL)
	if err != nil {
		return nil, err
	}

	task := model.SubscribeTask{
		UserID:             userID,
		FetchURL:           fetchURL,
		FolderID:           folderID,
		IsPartOfBulkImport: isPartOfBulkImport,
		JobStateID:         js.ID,
	}
	if err := d.queue.Enqueue(ctx, task); err != nil {
		d.logger.Error("購読タスクの投入に失敗しました",
			slog.String("job_state_id", js.ID),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		if _, failErr := d.tracker.Fail(ctx, js.ID, model.ErrCodeEnqueueFailed, err.Error()); failErr != nil {
			d.logger.Error("投入失敗したジョブ状態の更新に失敗しました",
				slog.String("job_state_id", js.ID),
				slog.String("error", failErr.Error()),
			)
		}
		return nil, model.NewEnqueueFailedError()
	}

	d.logger.Info("購読タスクを投入しました",
		slog.String("job_state_id", js.ID),
		slog.String("user_id", userID),
		slog.Bool("bulk_import", isPartOfBulkImport),
	)
	return js, nil
}
