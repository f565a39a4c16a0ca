// Package subscribe は非同期購読ジョブの投入（Dispatcher）と実行（Worker）を提供する。
package subscribe

import (
	"context"

	"github.com/hitoshi/feedsub/internal/model"
)

// TaskQueue は購読タスクの投入先。queue.PostgresQueueとqueue.JetStreamQueueが実装する。
type TaskQueue interface {
	Enqueue(ctx context.Context, task model.SubscribeTask) error
}

// SubscriptionResolver は購読の解決処理。subscription.Resolverが実装する。
type SubscriptionResolver interface {
	SubscribeWithFolder(ctx context.Context, userID, rawURL, folderID string) (*model.Feed, error)
	FindSubscribedFeed(ctx context.Context, userID, rawURL string) (*model.Feed, error)
}

// JobStateTracker はジョブ状態の操作。jobstate.Trackerが実装する。
type JobStateTracker interface {
	Start(ctx context.Context, userID, fetchURL string) (*model.JobState, error)
	StartSucceeded(ctx context.Context, userID, fetchURL, feedID string) (*model.JobState, error)
	Succeed(ctx context.Context, id, feedID string) (*model.JobState, error)
	Fail(ctx context.Context, id, code, detail string) (*model.JobState, error)
	Get(ctx context.Context, userID, id string) (*model.JobState, error)
}

// 購読メトリクスのラベル値
const (
	ModeSync  = "sync"
	ModeAsync = "async"

	ResultSubscribed          = "subscribed"
	ResultAlreadySubscribed   = "already_subscribed"
	ResultAutodiscoveryFailed = "autodiscovery_failed"
	ResultUnresolved          = "unresolved"
	ResultInvalidURL          = "invalid_url"
	ResultError               = "error"
)

// ResultLabel は購読処理の戻り値をメトリクスのラベル値に変換する。
func ResultLabel(feed *model.Feed, err error) string {
	switch {
	case err == nil && feed != nil:
		return ResultSubscribed
	case err == nil:
		return ResultUnresolved
	case model.IsAPIErrorCode(err, model.ErrCodeAlreadySubscribed):
		return ResultAlreadySubscribed
	case model.IsAPIErrorCode(err, model.ErrCodeFeedAutodiscoveryFailed):
		return ResultAutodiscoveryFailed
	case model.IsAPIErrorCode(err, model.ErrCodeInvalidURL):
		return ResultInvalidURL
	default:
		return ResultError
	}
}
