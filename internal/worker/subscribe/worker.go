package subscribe

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/feedsub/internal/metrics"
	"github.com/hitoshi/feedsub/internal/model"
)

// Worker はキューから受け取った購読タスクを実行し、結果をジョブ状態に記録する。
type Worker struct {
	resolver SubscriptionResolver
	tracker  JobStateTracker
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
}

// NewWorker はWorkerを生成する。
func NewWorker(resolver SubscriptionResolver, tracker JobStateTracker, mc metrics.MetricsCollector, logger *slog.Logger) *Worker {
	return &Worker{
		resolver: resolver,
		tracker:  tracker,
		metrics:  mc,
		logger:   logger,
	}
}

// Handle は1件のタスクを処理する。queue.Handlerとして使う。
//
// ジョブ状態が削除済み、または終端状態（再配信）の場合は何もせずnilを返す。
// 購読処理の結果はSUCCESSまたはERRORとして記録する。
// 一時的な内部エラー（ストア障害など）はエラーを返して再配信させる。
// 再試行しても結果が変わらない内部エラーはINTERNAL_ERRORとして記録する。
func (w *Worker) Handle(ctx context.Context, task model.SubscribeTask) error {
	js, err := w.tracker.Get(ctx, task.UserID, task.JobStateID)
	if model.IsAPIErrorCode(err, model.ErrCodeJobStateNotFound) {
		w.logger.Info("ジョブ状態が削除済みのためタスクをスキップします",
			slog.String("job_state_id", task.JobStateID),
			slog.String("user_id", task.UserID),
		)
		return nil
	}
	if err != nil {
		return err
	}
	if js.State.IsTerminal() {
		w.logger.Info("ジョブ状態が終了済みのためタスクをスキップします",
			slog.String("job_state_id", task.JobStateID),
			slog.String("state", string(js.State)),
		)
		return nil
	}

	feed, err := w.resolver.SubscribeWithFolder(ctx, task.UserID, task.FetchURL, task.Folder())
	result := ResultLabel(feed, err)
	if result == ResultError && retryable(err) {
		w.logger.Warn("購読処理で内部エラーが発生しました",
			slog.String("job_state_id", task.JobStateID),
			slog.String("error", err.Error()),
		)
		return err
	}
	w.metrics.RecordSubscribe(ModeAsync, result)

	switch {
	case err != nil:
		code, detail := errorCodeAndDetail(err)
		_, err = w.tracker.Fail(ctx, task.JobStateID, code, detail)
	case feed == nil:
		_, err = w.tracker.Fail(ctx, task.JobStateID, model.ErrCodeFeedUnresolved,
			model.NewFeedUnresolvedError(task.FetchURL).Message)
	default:
		_, err = w.tracker.Succeed(ctx, task.JobStateID, feed.ID)
	}

	if errors.Is(err, model.ErrInvalidTransition) || errors.Is(err, model.ErrJobStateNotFound) {
		// 処理中に削除された、または並行して終了した
		return nil
	}
	return err
}

// Exhausted は最大試行回数まで成功しなかったタスクのジョブ状態をERRORにする。
// queue.ExhaustedHandlerとして使う。
func (w *Worker) Exhausted(ctx context.Context, task model.SubscribeTask, cause error) {
	w.metrics.RecordSubscribe(ModeAsync, ResultError)

	_, err := w.tracker.Fail(ctx, task.JobStateID, model.ErrCodeInternal, cause.Error())
	switch {
	case err == nil:
		w.logger.Error("再試行を打ち切りジョブ状態をERRORにしました",
			slog.String("job_state_id", task.JobStateID),
			slog.String("user_id", task.UserID),
			slog.String("error", cause.Error()),
		)
	case errors.Is(err, model.ErrInvalidTransition) || errors.Is(err, model.ErrJobStateNotFound):
		// 既に終了済み、または削除済み
	default:
		w.logger.Error("ジョブ状態をERRORにできませんでした",
			slog.String("job_state_id", task.JobStateID),
			slog.String("error", err.Error()),
		)
	}
}

// retryable は内部エラーが再配信で解消しうるかを返す。
func retryable(err error) bool {
	return !errors.Is(err, model.ErrFeedIdentityConflict)
}

func errorCodeAndDetail(err error) (string, string) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Message
	}
	return model.ErrCodeInternal, err.Error()
}
