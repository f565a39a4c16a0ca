package feed

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/feedsub/internal/metrics"
	"github.com/hitoshi/feedsub/internal/model"
)

const (
	userAgent    = "feedsub/1.0 (+feed subscription resolver)"
	acceptHeader = "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.9, text/html;q=0.8, */*;q=0.5"
)

// URLGuard は取得先URLの検証とSSRF防止付きHTTPクライアントの生成を抽象化する。
type URLGuard interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// Sanitizer は記事の保存前サニタイズを抽象化する。
type Sanitizer interface {
	SanitizeText(raw string) string
	SanitizeEntry(e *model.Entry)
}

// ClientConfig はClientの設定。
type ClientConfig struct {
	Timeout     time.Duration
	MaxBodySize int64
}

// Client はURLからフィードを取得する。
// 取得できなかった場合もエラーではなくmodel.FetchResultの種別で結果を返す。
type Client struct {
	guard       URLGuard
	sanitizer   Sanitizer
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64
	now         func() time.Time
}

// NewClient はClientを生成する。
func NewClient(guard URLGuard, sanitizer Sanitizer, mc metrics.MetricsCollector, logger *slog.Logger, cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 5 * 1024 * 1024
	}
	return &Client{
		guard:       guard,
		sanitizer:   sanitizer,
		metrics:     mc,
		logger:      logger,
		timeout:     cfg.Timeout,
		maxBodySize: cfg.MaxBodySize,
		now:         time.Now,
	}
}

// Fetch はrawURLを取得してフィードに解決する。
// autodiscoverがtrueでHTMLが返った場合は、head内のフィードリンクを1段だけ辿る。
//   - フィードを取得・パースできた: FetchResolved（Feed.FetchURLは実際に取得したURL）
//   - HTMLにフィードリンクがない、またはフィードでもHTMLでもない: FetchAutodiscoveryFailed
//   - SSRFブロック、通信エラー、タイムアウト、200以外、パース失敗: FetchUnresolved
func (c *Client) Fetch(ctx context.Context, rawURL string, autodiscover bool) model.FetchResult {
	start := time.Now()
	result := c.fetch(ctx, rawURL, autodiscover)
	c.metrics.RecordFetch(result.Outcome.String(), time.Since(start))

	c.logger.Info("フィード取得が完了しました",
		slog.String("url", rawURL),
		slog.String("outcome", result.Outcome.String()),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return result
}

func (c *Client) fetch(ctx context.Context, rawURL string, autodiscover bool) model.FetchResult {
	body, contentType, ok := c.get(ctx, rawURL)
	if !ok {
		return model.Unresolved()
	}

	switch classifyContent(contentType, body) {
	case kindFeed:
		return c.parse(rawURL, body)

	case kindHTML:
		if !autodiscover {
			c.logger.Warn("フィードリンク先がHTMLでした",
				slog.String("url", rawURL),
			)
			return model.Unresolved()
		}
		best := SelectBest(DiscoverLinks(body, rawURL), rawURL)
		if best == nil {
			return model.AutodiscoveryFailed(model.NewFeedAutodiscoveryError(rawURL))
		}
		c.logger.Info("HTMLからフィードリンクを検出しました",
			slog.String("url", rawURL),
			slog.String("feed_url", best.URL),
			slog.String("type", string(best.Type)),
		)
		return c.fetch(ctx, best.URL, false)

	default:
		if autodiscover {
			return model.AutodiscoveryFailed(model.NewFeedAutodiscoveryError(rawURL))
		}
		return model.Unresolved()
	}
}

// get はrawURLをGETしてボディとContent-Typeを返す。
// 取得できなかった場合はokがfalseとなり、理由はログに記録する。
func (c *Client) get(ctx context.Context, rawURL string) (body []byte, contentType string, ok bool) {
	if err := c.guard.ValidateURL(rawURL); err != nil {
		c.logger.Warn("SSRF検証により取得を拒否しました",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return nil, "", false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		c.logger.Warn("リクエストの作成に失敗しました",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return nil, "", false
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := c.guard.NewSafeClient(c.timeout).Do(req)
	if err != nil {
		c.logger.Warn("HTTPリクエストに失敗しました",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return nil, "", false
	}
	defer resp.Body.Close()

	c.metrics.RecordHTTPStatus(resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("フィード取得先が200以外を返しました",
			slog.String("url", rawURL),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, "", false
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize+1))
	if err != nil {
		c.logger.Warn("レスポンスボディの読み取りに失敗しました",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return nil, "", false
	}
	if int64(len(body)) > c.maxBodySize {
		c.logger.Warn("レスポンスボディが上限サイズを超えました",
			slog.String("url", rawURL),
			slog.Int64("max_body_size", c.maxBodySize),
		)
		return nil, "", false
	}

	return body, resp.Header.Get("Content-Type"), true
}

// parse はフィード本文をパースしてFeedと記事に変換する。
func (c *Client) parse(fetchURL string, body []byte) model.FetchResult {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		c.logger.Warn("フィードのパースに失敗しました",
			slog.String("url", fetchURL),
			slog.String("error", err.Error()),
		)
		return model.Unresolved()
	}

	now := c.now()
	feed := &model.Feed{
		ID:        uuid.New().String(),
		URL:       resolveLink(fetchURL, parsed.Link),
		FetchURL:  fetchURL,
		Title:     c.sanitizer.SanitizeText(parsed.Title),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if feed.Title == "" {
		feed.Title = fetchURL
	}

	entries := convertItems(feed, parsed.Items, now)
	for i := range entries {
		c.sanitizer.SanitizeEntry(&entries[i])
	}
	return model.Resolved(feed, entries)
}

// resolveLink はフィード内のサイトURLを取得元URL基準で絶対URLにする。
func resolveLink(base, link string) string {
	if link == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return link
	}
	ref, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return b.ResolveReference(ref).String()
}
