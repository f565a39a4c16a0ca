package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/feedsub/internal/feedurl"
	"github.com/hitoshi/feedsub/internal/model"
)

// feedsFetchURLKeyConstraint はfeeds.fetch_url_keyの一意制約名。
const feedsFetchURLKeyConstraint = "feeds_fetch_url_key_key"

// PostgresFeedRepo はPostgreSQLを使用したフィードリポジトリ。
// 同一性判定用にfetch_url_keyとurl_keyを保存時に計算して保持する。
type PostgresFeedRepo struct {
	db *sql.DB
}

// NewPostgresFeedRepo はPostgresFeedRepoを生成する。
func NewPostgresFeedRepo(db *sql.DB) *PostgresFeedRepo {
	return &PostgresFeedRepo{db: db}
}

// FindByIdentity は正規化キーでフィードを検索する。見つからない場合はnilを返す。
// fetch_url_keyは一意なので、fetch_urlでの一致があればそれを返す。
// url_keyのみで複数一致した場合はデータ不整合としてErrFeedIdentityConflictを返す。
func (r *PostgresFeedRepo) FindByIdentity(ctx context.Context, key string) (*model.Feed, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, url, fetch_url, title, created_at, updated_at, fetch_url_key = $1
		 FROM feeds
		 WHERE fetch_url_key = $1 OR url_key = $1
		 ORDER BY (fetch_url_key = $1) DESC, created_at ASC
		 LIMIT 2`,
		key,
	)
	if err != nil {
		return nil, fmt.Errorf("正規化キーによるフィードの検索に失敗しました: %w", err)
	}
	defer rows.Close()

	var feeds []*model.Feed
	var fetchURLMatch []bool
	for rows.Next() {
		feed := &model.Feed{}
		var siteURL sql.NullString
		var byFetchURL bool
		if err := rows.Scan(&feed.ID, &siteURL, &feed.FetchURL, &feed.Title,
			&feed.CreatedAt, &feed.UpdatedAt, &byFetchURL); err != nil {
			return nil, fmt.Errorf("フィード行の読み取りに失敗しました: %w", err)
		}
		feed.URL = nullStringValue(siteURL)
		feeds = append(feeds, feed)
		fetchURLMatch = append(fetchURLMatch, byFetchURL)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フィードの走査に失敗しました: %w", err)
	}

	switch {
	case len(feeds) == 0:
		return nil, nil
	case fetchURLMatch[0] || len(feeds) == 1:
		return feeds[0], nil
	default:
		return nil, fmt.Errorf("%w: key=%s feed_ids=[%s %s]",
			model.ErrFeedIdentityConflict, key, feeds[0].ID, feeds[1].ID)
	}
}

// Create はフィードと記事を同一トランザクションで作成する。
// fetch_url_keyの一意制約違反はErrDuplicateFeedとして返す。
func (r *PostgresFeedRepo) Create(ctx context.Context, feed *model.Feed, entries []model.Entry) error {
	fetchKey, err := feedurl.Key(feed.FetchURL)
	if err != nil {
		return fmt.Errorf("fetch_urlの正規化に失敗しました: %w", err)
	}
	// サイトURLは正規化できない場合は同一性判定に使用しない
	var urlKey sql.NullString
	if feed.URL != "" {
		if k, err := feedurl.Key(feed.URL); err == nil {
			urlKey = nullString(k)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO feeds (id, url, fetch_url, title, fetch_url_key, url_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		feed.ID, nullString(feed.URL), feed.FetchURL, feed.Title,
		fetchKey, urlKey, feed.CreatedAt, feed.UpdatedAt,
	)
	if isUniqueViolation(err, feedsFetchURLKeyConstraint) {
		return fmt.Errorf("%w: %s", model.ErrDuplicateFeed, fetchKey)
	}
	if err != nil {
		return fmt.Errorf("フィードの作成に失敗しました: %w", err)
	}

	for _, e := range entries {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO entries (id, feed_id, guid, title, url, summary, content, author, published_at, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (feed_id, guid) DO NOTHING`,
			e.ID, feed.ID, e.GUID, e.Title, nullString(e.URL),
			nullString(e.Summary), nullString(e.Content), nullString(e.Author),
			e.PublishedAt, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("記事の作成に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ FeedRepository = (*PostgresFeedRepo)(nil)
