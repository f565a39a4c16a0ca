package security

import (
	"strings"

	"github.com/hitoshi/feedsub/internal/model"
	"github.com/microcosm-cc/bluemonday"
)

// EntrySanitizer は新規フィードの記事を保存前にサニタイズする。
// 本文と要約は許可リストのHTMLのみ残し、タイトルと著者はテキストのみ残す。
// bluemondayのポリシーはスレッドセーフなので、1つのインスタンスを共有してよい。
type EntrySanitizer struct {
	html *bluemonday.Policy
	text *bluemonday.Policy
}

// NewEntrySanitizer はEntrySanitizerを生成する。
//   - 許可タグ: p, br, a, ul, ol, li, blockquote, pre, code, strong, em, img
//   - URLはhttp/httpsの絶対URLのみ
//   - aにはtarget="_blank"とrel="noreferrer noopener"を付与
func NewEntrySanitizer() *EntrySanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemes("http", "https")

	return &EntrySanitizer{
		html: p,
		text: bluemonday.StrictPolicy(),
	}
}

// SanitizeHTML はHTMLコンテンツをサニタイズする。
func (s *EntrySanitizer) SanitizeHTML(raw string) string {
	return s.html.Sanitize(raw)
}

// SanitizeText はタグをすべて除去し、前後の空白を取り除く。
func (s *EntrySanitizer) SanitizeText(raw string) string {
	return strings.TrimSpace(s.text.Sanitize(raw))
}

// SanitizeEntry は記事の各フィールドをサニタイズする。
func (s *EntrySanitizer) SanitizeEntry(e *model.Entry) {
	e.Title = s.SanitizeText(e.Title)
	e.Author = s.SanitizeText(e.Author)
	e.Summary = s.SanitizeHTML(e.Summary)
	e.Content = s.SanitizeHTML(e.Content)
}
