// Package feedurl はフィードURLの正規化を提供する。
//
// ユーザー入力のURL（スキームなし、feed:スキーム、末尾スラッシュの有無）を
// 同一性判定用の正規化キーと、実際のリクエストに使うURLに変換する。
package feedurl

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/purell"

	"github.com/hitoshi/feedsub/internal/model"
)

// keyFlags はスキームとホスト部分に適用するpurellフラグ。
// パスはpurellに渡さず、エスケープ済みの形のまま使う（%2F と / は別のパス）。
const keyFlags = purell.FlagLowercaseScheme | purell.FlagLowercaseHost

// schemePattern は "scheme://" で始まるURLに一致する。
var schemePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.\-]*://`)

// Normalized は正規化結果を表す。
type Normalized struct {
	// Key は同一性判定にのみ使用する比較キー。
	Key string
	// URL は保存・リクエストに使用するURL。末尾スラッシュは入力のまま保持する。
	URL string
}

// Normalize は生のURL文字列を正規化する。
// 1. 先頭の feed:// または feed: を除去する
// 2. スキームがなければ http:// を付与する
// 3. Keyはスキーム・ホストを小文字化し、末尾スラッシュを1つ除去したもの
// 4. URLは手順2までの結果
//
// URIとして解釈できない、またはホストが空の場合はINVALID_URLエラーを返す。
func Normalize(raw string) (Normalized, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Normalized{}, model.NewInvalidURLError("URLが入力されていません")
	}

	s = stripFeedScheme(s)
	if !schemePattern.MatchString(s) {
		s = "http://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return Normalized{}, model.NewInvalidURLError(err.Error())
	}
	if u.Host == "" {
		return Normalized{}, model.NewInvalidURLError("ホストがありません: " + raw)
	}

	return Normalized{Key: identityKey(u), URL: s}, nil
}

// identityKey はスキームとホストを小文字化し、エスケープ済みパスの末尾スラッシュを
// 1つだけ除去したキーを返す。パス・クエリ・フラグメントのエスケープは入力のまま保持する。
func identityKey(u *url.URL) string {
	authority := &url.URL{Scheme: u.Scheme, User: u.User, Host: u.Host}
	key := purell.NormalizeURL(authority, keyFlags)

	key += strings.TrimSuffix(u.EscapedPath(), "/")
	if u.ForceQuery || u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	if u.Fragment != "" {
		key += "#" + u.EscapedFragment()
	}
	return key
}

// Key はURLの正規化キーのみを返す。
func Key(raw string) (string, error) {
	n, err := Normalize(raw)
	if err != nil {
		return "", err
	}
	return n.Key, nil
}

// stripFeedScheme は先頭の feed:// または feed: を大文字小文字を区別せずに除去する。
func stripFeedScheme(s string) string {
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "feed://"):
		return s[len("feed://"):]
	case strings.HasPrefix(lower, "feed:"):
		return s[len("feed:"):]
	}
	return s
}
