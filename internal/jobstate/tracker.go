// Package jobstate は非同期購読ジョブの状態を管理する。
package jobstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/feedsub/internal/metrics"
	"github.com/hitoshi/feedsub/internal/model"
	"github.com/hitoshi/feedsub/internal/repository"
)

// Tracker はジョブ状態の作成・遷移・参照・削除を行う。
// 遷移はRUNNINGから終端状態（SUCCESS/ERROR）への1回のみ許可する。
type Tracker struct {
	repo    repository.JobStateRepository
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time
}

// NewTracker はTrackerを生成する。
func NewTracker(repo repository.JobStateRepository, mc metrics.MetricsCollector, logger *slog.Logger) *Tracker {
	return &Tracker{
		repo:    repo,
		metrics: mc,
		logger:  logger,
		now:     time.Now,
	}
}

// Start はRUNNING状態のジョブ状態を作成する。
func (t *Tracker) Start(ctx context.Context, userID, fetchURL string) (*model.JobState, error) {
	return t.create(ctx, userID, fetchURL, model.JobStatusRunning, "")
}

// StartSucceeded は既に購読済みの場合に、SUCCESS状態のジョブ状態を直接作成する。
func (t *Tracker) StartSucceeded(ctx context.Context, userID, fetchURL, feedID string) (*model.JobState, error) {
	return t.create(ctx, userID, fetchURL, model.JobStatusSuccess, feedID)
}

func (t *Tracker) create(ctx context.Context, userID, fetchURL string, state model.JobStatus, feedID string) (*model.JobState, error) {
	now := t.now()
	js := &model.JobState{
		ID:        uuid.New().String(),
		UserID:    userID,
		FetchURL:  fetchURL,
		State:     state,
		FeedID:    feedID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.repo.Create(ctx, js); err != nil {
		return nil, fmt.Errorf("ジョブ状態の作成に失敗しました: %w", err)
	}

	t.metrics.RecordJobTransition(string(state), "")
	t.logger.Info("ジョブ状態を作成しました",
		slog.String("job_state_id", js.ID),
		slog.String("user_id", userID),
		slog.String("state", string(state)),
	)
	return js, nil
}

// Succeed はジョブ状態をSUCCESSに遷移させる。
func (t *Tracker) Succeed(ctx context.Context, id, feedID string) (*model.JobState, error) {
	return t.transition(ctx, id, model.JobTransition{To: model.JobStatusSuccess, FeedID: feedID})
}

// Fail はジョブ状態をERRORに遷移させる。
func (t *Tracker) Fail(ctx context.Context, id, code, detail string) (*model.JobState, error) {
	return t.transition(ctx, id, model.JobTransition{To: model.JobStatusError, ErrorCode: code, ErrorDetail: detail})
}

// transition は終端状態への遷移を行う。
// 終端状態からの遷移はmodel.ErrInvalidTransition、存在しない場合はmodel.ErrJobStateNotFoundを返す。
func (t *Tracker) transition(ctx context.Context, id string, tr model.JobTransition) (*model.JobState, error) {
	js, err := t.repo.Transition(ctx, id, tr, t.now())
	if err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			t.logger.Error("終端状態のジョブ状態を遷移しようとしました",
				slog.String("job_state_id", id),
				slog.String("to", string(tr.To)),
			)
		}
		return nil, err
	}

	t.metrics.RecordJobTransition(string(tr.To), tr.ErrorCode)
	t.logger.Info("ジョブ状態を遷移しました",
		slog.String("job_state_id", id),
		slog.String("user_id", js.UserID),
		slog.String("state", string(js.State)),
		slog.String("error_code", js.ErrorCode),
	)
	return js, nil
}

// List はユーザーのジョブ状態一覧を返す。
func (t *Tracker) List(ctx context.Context, userID string) ([]*model.JobState, error) {
	states, err := t.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ジョブ状態一覧の取得に失敗しました: %w", err)
	}
	return states, nil
}

// Get はユーザーが所有するジョブ状態を返す。
// 存在しない、または他ユーザーの所有の場合はJOB_STATE_NOT_FOUNDを返す。
func (t *Tracker) Get(ctx context.Context, userID, id string) (*model.JobState, error) {
	js, err := t.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ジョブ状態の取得に失敗しました: %w", err)
	}
	if js == nil || js.UserID != userID {
		return nil, model.NewJobStateNotFoundError(id)
	}
	return js, nil
}

// Delete はユーザーが所有するジョブ状態を削除する。
// 存在しない、または他ユーザーの所有の場合はJOB_STATE_NOT_FOUNDを返す。
func (t *Tracker) Delete(ctx context.Context, userID, id string) error {
	err := t.repo.DeleteByUserAndID(ctx, userID, id, t.now())
	if errors.Is(err, model.ErrJobStateNotFound) {
		return model.NewJobStateNotFoundError(id)
	}
	if err != nil {
		return fmt.Errorf("ジョブ状態の削除に失敗しました: %w", err)
	}

	t.logger.Info("ジョブ状態を削除しました",
		slog.String("job_state_id", id),
		slog.String("user_id", userID),
	)
	return nil
}

// Watermark はユーザーのジョブ状態が最後に変更された日時を返す。
// 一度も変更がない場合はゼロ値を返す。
func (t *Tracker) Watermark(ctx context.Context, userID string) (time.Time, error) {
	wm, err := t.repo.Watermark(ctx, userID)
	if err != nil {
		return time.Time{}, fmt.Errorf("ウォーターマークの取得に失敗しました: %w", err)
	}
	return wm, nil
}
