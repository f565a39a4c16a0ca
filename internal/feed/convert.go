package feed

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/feedsub/internal/model"
)

// convertItems はgofeedの記事をmodel.Entryに変換する。
// 同一フィード内でGUIDが重複する記事は先頭のみ残す。
func convertItems(feed *model.Feed, items []*gofeed.Item, now time.Time) []model.Entry {
	entries := make([]model.Entry, 0, len(items))
	seen := make(map[string]struct{}, len(items))

	for _, item := range items {
		if item == nil {
			continue
		}

		e := model.Entry{
			ID:        uuid.New().String(),
			FeedID:    feed.ID,
			Title:     item.Title,
			URL:       resolveLink(feed.FetchURL, item.Link),
			Summary:   item.Description,
			Content:   item.Content,
			CreatedAt: now,
		}

		if item.Author != nil {
			e.Author = item.Author.Name
		}
		if e.Author == "" && len(item.Authors) > 0 && item.Authors[0] != nil {
			e.Author = item.Authors[0].Name
		}

		switch {
		case item.PublishedParsed != nil:
			t := *item.PublishedParsed
			e.PublishedAt = &t
		case item.UpdatedParsed != nil:
			t := *item.UpdatedParsed
			e.PublishedAt = &t
		}

		if e.Content == "" {
			e.Content = item.Description
		}

		// GUIDがURL形式でリンクがない場合はGUIDをリンクとして使う
		if e.URL == "" && (strings.HasPrefix(item.GUID, "http://") || strings.HasPrefix(item.GUID, "https://")) {
			e.URL = item.GUID
		}

		e.GUID = entryGUID(item, e.URL)
		if _, dup := seen[e.GUID]; dup {
			continue
		}
		seen[e.GUID] = struct{}{}
		entries = append(entries, e)
	}
	return entries
}

// entryGUID は記事の一意キーを決める。
// GUID、リンクの順に使い、どちらもなければタイトルと本文から導出する。
func entryGUID(item *gofeed.Item, link string) string {
	if g := strings.TrimSpace(item.GUID); g != "" {
		return g
	}
	if link != "" {
		return link
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(item.Title+"\x00"+item.Content+"\x00"+item.Description)).String()
}
