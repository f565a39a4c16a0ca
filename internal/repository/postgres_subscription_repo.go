package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/feedsub/internal/model"
)

// subscriptionsUserFeedConstraint は(user_id, feed_id)の一意制約名。
const subscriptionsUserFeedConstraint = "subscriptions_user_id_feed_id_key"

// PostgresSubscriptionRepo はPostgreSQLを使用した購読リポジトリ。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

// FindByUserAndFeed はユーザーIDとフィードIDで購読を検索する。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByUserAndFeed(ctx context.Context, userID, feedID string) (*model.Subscription, error) {
	sub := &model.Subscription{}
	var folderID sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, feed_id, folder_id, created_at
		 FROM subscriptions WHERE user_id = $1 AND feed_id = $2`,
		userID, feedID,
	).Scan(&sub.ID, &sub.UserID, &sub.FeedID, &folderID, &sub.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーとフィードによる購読の検索に失敗しました: %w", err)
	}

	sub.FolderID = nullStringValue(folderID)
	return sub, nil
}

// Create は購読を作成する。
// (user_id, feed_id)の一意制約違反はErrDuplicateSubscriptionとして返す。
func (r *PostgresSubscriptionRepo) Create(ctx context.Context, sub *model.Subscription) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, user_id, feed_id, folder_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		sub.ID, sub.UserID, sub.FeedID, nullString(sub.FolderID), sub.CreatedAt,
	)
	if isUniqueViolation(err, subscriptionsUserFeedConstraint) {
		return fmt.Errorf("%w: user_id=%s feed_id=%s", model.ErrDuplicateSubscription, sub.UserID, sub.FeedID)
	}
	if err != nil {
		return fmt.Errorf("購読の作成に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
