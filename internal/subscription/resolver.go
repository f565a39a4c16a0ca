// Package subscription はURLからフィードを解決して購読を作成する。
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/feedsub/internal/feedurl"
	"github.com/hitoshi/feedsub/internal/model"
	"github.com/hitoshi/feedsub/internal/repository"
)

// Fetcher はURLからフィードを取得する。feed.Clientが実装する。
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, autodiscover bool) model.FetchResult
}

// Resolver はユーザー入力のURLを正規のフィードに解決し、購読を作成する。
//
// 既存フィードとの同一性は正規化キーで判定し、既存フィードがあれば取得しない。
// 新規フィードの同時登録はfetch_url_keyの一意制約で検出し、既存フィードの再検索で回復する。
type Resolver struct {
	feeds   repository.FeedRepository
	subs    repository.SubscriptionRepository
	fetcher Fetcher
	logger  *slog.Logger
	now     func() time.Time
}

// NewResolver はResolverを生成する。
func NewResolver(feeds repository.FeedRepository, subs repository.SubscriptionRepository, fetcher Fetcher, logger *slog.Logger) *Resolver {
	return &Resolver{
		feeds:   feeds,
		subs:    subs,
		fetcher: fetcher,
		logger:  logger,
		now:     time.Now,
	}
}

// Subscribe はrawURLのフィードをユーザーに購読させ、購読したフィードを返す。
// 取得を試みたが利用可能なフィードが得られなかった場合は(nil, nil)を返す。
// エラーは INVALID_URL, ALREADY_SUBSCRIBED, FEED_AUTODISCOVERY_FAILED の*model.APIErrorか、
// ストア障害などの内部エラー。
func (r *Resolver) Subscribe(ctx context.Context, userID, rawURL string) (*model.Feed, error) {
	return r.SubscribeWithFolder(ctx, userID, rawURL, "")
}

// SubscribeWithFolder はSubscribeと同じ処理を行い、購読にフォルダIDを記録する。
func (r *Resolver) SubscribeWithFolder(ctx context.Context, userID, rawURL, folderID string) (*model.Feed, error) {
	n, err := feedurl.Normalize(rawURL)
	if err != nil {
		return nil, err
	}

	existing, err := r.feeds.FindByIdentity(ctx, n.Key)
	if err != nil {
		return nil, fmt.Errorf("フィードの同一性確認に失敗しました: %w", err)
	}
	if existing != nil {
		return r.subscribeExisting(ctx, userID, existing, folderID)
	}

	result := r.fetcher.Fetch(ctx, n.URL, true)
	switch result.Outcome {
	case model.FetchAutodiscoveryFailed:
		return nil, result.Err
	case model.FetchUnresolved:
		r.logger.Info("フィードを解決できませんでした",
			slog.String("user_id", userID),
			slog.String("url", n.URL),
		)
		return nil, nil
	}

	return r.registerAndSubscribe(ctx, userID, result, folderID)
}

// FindSubscribedFeed はrawURLと同一のフィードをユーザーが既に購読していれば、そのフィードを返す。
// URLが不正、フィードが未登録、未購読のいずれかの場合はnilを返す。フィードの取得は行わない。
func (r *Resolver) FindSubscribedFeed(ctx context.Context, userID, rawURL string) (*model.Feed, error) {
	n, err := feedurl.Normalize(rawURL)
	if err != nil {
		return nil, nil
	}

	feed, err := r.feeds.FindByIdentity(ctx, n.Key)
	if err != nil {
		return nil, fmt.Errorf("フィードの同一性確認に失敗しました: %w", err)
	}
	if feed == nil {
		return nil, nil
	}

	sub, err := r.subs.FindByUserAndFeed(ctx, userID, feed.ID)
	if err != nil {
		return nil, fmt.Errorf("購読の確認に失敗しました: %w", err)
	}
	if sub == nil {
		return nil, nil
	}
	return feed, nil
}

// registerAndSubscribe は取得したフィードを登録して購読する。
// 取得結果のfetch URLで既存フィードが見つかった場合は、取得内容を破棄して既存フィードを使う。
func (r *Resolver) registerAndSubscribe(ctx context.Context, userID string, result model.FetchResult, folderID string) (*model.Feed, error) {
	fetched := result.Feed

	key, err := feedurl.Key(fetched.FetchURL)
	if err != nil {
		r.logger.Warn("取得したフィードのURLを正規化できませんでした",
			slog.String("user_id", userID),
			slog.String("fetch_url", fetched.FetchURL),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}

	existing, err := r.feeds.FindByIdentity(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("フィードの同一性確認に失敗しました: %w", err)
	}
	if existing != nil {
		return r.subscribeExisting(ctx, userID, existing, folderID)
	}

	err = r.feeds.Create(ctx, fetched, result.Entries)
	if errors.Is(err, model.ErrDuplicateFeed) {
		// 同じフィードが同時に登録された
		existing, err = r.feeds.FindByIdentity(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("登録競合後のフィード検索に失敗しました: %w", err)
		}
		if existing == nil {
			return nil, fmt.Errorf("登録競合後にフィードが見つかりません: key=%s", key)
		}
		r.logger.Info("フィードの同時登録を検出し、既存フィードを使用します",
			slog.String("user_id", userID),
			slog.String("feed_id", existing.ID),
		)
		return r.subscribeExisting(ctx, userID, existing, folderID)
	}
	if err != nil {
		return nil, fmt.Errorf("フィードの登録に失敗しました: %w", err)
	}

	r.logger.Info("フィードを登録しました",
		slog.String("feed_id", fetched.ID),
		slog.String("fetch_url", fetched.FetchURL),
		slog.Int("entries", len(result.Entries)),
	)
	return r.subscribe(ctx, userID, fetched, folderID)
}

// subscribeExisting は登録済みフィードを購読する。既に購読していればALREADY_SUBSCRIBEDを返す。
func (r *Resolver) subscribeExisting(ctx context.Context, userID string, feed *model.Feed, folderID string) (*model.Feed, error) {
	sub, err := r.subs.FindByUserAndFeed(ctx, userID, feed.ID)
	if err != nil {
		return nil, fmt.Errorf("購読の確認に失敗しました: %w", err)
	}
	if sub != nil {
		return nil, model.NewAlreadySubscribedError()
	}
	return r.subscribe(ctx, userID, feed, folderID)
}

func (r *Resolver) subscribe(ctx context.Context, userID string, feed *model.Feed, folderID string) (*model.Feed, error) {
	sub := &model.Subscription{
		ID:        uuid.New().String(),
		UserID:    userID,
		FeedID:    feed.ID,
		FolderID:  folderID,
		CreatedAt: r.now(),
	}
	err := r.subs.Create(ctx, sub)
	if errors.Is(err, model.ErrDuplicateSubscription) {
		return nil, model.NewAlreadySubscribedError()
	}
	if err != nil {
		return nil, fmt.Errorf("購読の作成に失敗しました: %w", err)
	}

	r.logger.Info("フィードを購読しました",
		slog.String("user_id", userID),
		slog.String("feed_id", feed.ID),
		slog.String("subscription_id", sub.ID),
	)
	return feed, nil
}
