// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/feedsub/internal/model"
)

// SessionRepository はセッションデータの参照インターフェース。
// セッションの発行・削除は外部の認証システムが行う。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// FeedRepository はフィードの同一性管理（フィードレジストリ）の永続化インターフェース。
type FeedRepository interface {
	// FindByIdentity は正規化キーに一致するフィードを取得する。
	// fetch_urlとurlの両方の正規化キーと照合し、fetch_urlの一致を優先する。
	// 見つからない場合はnilを返す。
	// url側で複数のフィードが一致した場合はmodel.ErrFeedIdentityConflictを返す。
	FindByIdentity(ctx context.Context, key string) (*model.Feed, error)

	// Create はフィードと記事を同一トランザクションで作成する。
	// 正規化済みfetch_urlが既に登録されている場合はmodel.ErrDuplicateFeedを返す。
	Create(ctx context.Context, feed *model.Feed, entries []model.Entry) error
}

// SubscriptionRepository は購読データの永続化インターフェース。
type SubscriptionRepository interface {
	// FindByUserAndFeed はユーザーIDとフィードIDで購読を検索する。見つからない場合はnilを返す。
	FindByUserAndFeed(ctx context.Context, userID, feedID string) (*model.Subscription, error)

	// Create は購読を作成する。
	// 同じユーザーが同じフィードを既に購読している場合はmodel.ErrDuplicateSubscriptionを返す。
	Create(ctx context.Context, subscription *model.Subscription) error
}

// JobStateRepository は非同期購読ジョブ状態の永続化インターフェース。
// 作成・遷移・削除はいずれも所有ユーザーのウォーターマーク更新と同一トランザクションで行う。
type JobStateRepository interface {
	// Create はジョブ状態を作成する。
	Create(ctx context.Context, js *model.JobState) error

	// FindByID は指定IDのジョブ状態を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.JobState, error)

	// ListByUserID はユーザーのジョブ状態を作成日時の昇順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.JobState, error)

	// Transition はRUNNING状態のジョブ状態を終端状態に遷移させ、遷移後の状態を返す。
	// 存在しない場合はmodel.ErrJobStateNotFound、
	// 既に終端状態の場合はmodel.ErrInvalidTransitionを返す。
	Transition(ctx context.Context, id string, t model.JobTransition, now time.Time) (*model.JobState, error)

	// DeleteByUserAndID はユーザーが所有するジョブ状態を削除する。
	// 存在しない、または他ユーザーの所有の場合はmodel.ErrJobStateNotFoundを返す。
	DeleteByUserAndID(ctx context.Context, userID, id string, now time.Time) error

	// Watermark はユーザーのジョブ状態が最後に変更された日時を返す。
	// 一度も変更がない場合はゼロ値を返す。
	Watermark(ctx context.Context, userID string) (time.Time, error)
}
