// Package feed はフィードの取得、自動検出、パースを提供する。
package feed

import (
	"bytes"
	"mime"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// LinkType はHTMLから検出したフィードリンクの種類。
type LinkType string

const (
	LinkTypeRSS  LinkType = "rss"
	LinkTypeAtom LinkType = "atom"
)

// Candidate はHTMLのlink要素から検出されたフィード候補。
type Candidate struct {
	URL   string
	Type  LinkType
	Title string
}

// contentKind はレスポンスの内容の分類。
type contentKind int

const (
	kindOther contentKind = iota
	kindFeed
	kindHTML
)

// sniffSize はボディ判定で検査する先頭バイト数。
const sniffSize = 4096

// classifyContent はContent-Typeとボディの先頭からレスポンスを分類する。
// フィード用のContent-Typeはそのままフィードとし、それ以外はボディを見て判定する。
// text/plainやapplication/octet-streamで配信されるフィードもあるため。
func classifyContent(contentType string, body []byte) contentKind {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	mediaType = strings.ToLower(mediaType)

	switch mediaType {
	case "application/rss+xml", "application/atom+xml", "application/rdf+xml":
		return kindFeed
	case "text/html", "application/xhtml+xml":
		if looksLikeFeed(body) {
			return kindFeed
		}
		return kindHTML
	}

	if looksLikeFeed(body) {
		return kindFeed
	}
	if looksLikeHTML(body) {
		return kindHTML
	}
	return kindOther
}

func sniffPrefix(body []byte) string {
	n := len(body)
	if n > sniffSize {
		n = sniffSize
	}
	return strings.ToLower(string(body[:n]))
}

// looksLikeFeed はボディ先頭にRSS/RDF/Atomのルート要素があるかを判定する。
func looksLikeFeed(body []byte) bool {
	prefix := sniffPrefix(body)
	if strings.Contains(prefix, "<html") {
		return false
	}
	if strings.Contains(prefix, "<rss") || strings.Contains(prefix, "<rdf:rdf") {
		return true
	}
	return strings.Contains(prefix, "<feed") && strings.Contains(prefix, "http://www.w3.org/2005/atom")
}

func looksLikeHTML(body []byte) bool {
	prefix := sniffPrefix(body)
	return strings.Contains(prefix, "<!doctype html") || strings.Contains(prefix, "<html")
}

// DiscoverLinks はHTMLのhead内にある rel="alternate" のRSS/Atomリンクを返す。
// 相対URLはbaseURLを基準に解決する。
func DiscoverLinks(htmlBody []byte, baseURL string) []Candidate {
	var candidates []Candidate

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	z := html.NewTokenizer(bytes.NewReader(htmlBody))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return candidates

		case html.EndTagToken:
			if tn, _ := z.TagName(); string(tn) == "head" {
				return candidates
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := z.TagName()
			switch string(tn) {
			case "body":
				return candidates
			case "link":
				if !hasAttr {
					continue
				}
				if c, ok := linkCandidate(z, base); ok {
					candidates = append(candidates, c)
				}
			}
		}
	}
}

// linkCandidate はlink要素の属性からフィード候補を組み立てる。
func linkCandidate(z *html.Tokenizer, base *url.URL) (Candidate, bool) {
	var rels []string
	var linkType, href, title string
	for {
		key, val, more := z.TagAttr()
		switch strings.ToLower(string(key)) {
		case "rel":
			rels = strings.Fields(strings.ToLower(string(val)))
		case "type":
			linkType = strings.ToLower(strings.TrimSpace(string(val)))
		case "href":
			href = strings.TrimSpace(string(val))
		case "title":
			title = string(val)
		}
		if !more {
			break
		}
	}

	alternate := false
	for _, r := range rels {
		if r == "alternate" {
			alternate = true
		}
	}
	if !alternate || href == "" {
		return Candidate{}, false
	}

	var lt LinkType
	switch linkType {
	case "application/rss+xml", "application/rdf+xml":
		lt = LinkTypeRSS
	case "application/atom+xml":
		lt = LinkTypeAtom
	default:
		return Candidate{}, false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return Candidate{}, false
	}
	return Candidate{URL: base.ResolveReference(ref).String(), Type: lt, Title: title}, true
}

// SelectBest はフィード候補から1つを選ぶ。
// 優先順位: 入力URLと同一ホスト > Atom > 文書中の出現順。
func SelectBest(candidates []Candidate, inputURL string) *Candidate {
	if len(candidates) == 0 {
		return nil
	}

	inputHost := hostOf(inputURL)
	bestIdx, bestScore := 0, -1
	for i, c := range candidates {
		score := 0
		if inputHost != "" && hostOf(c.URL) == inputHost {
			score += 100
		}
		if c.Type == LinkTypeAtom {
			score += 10
		}
		if score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	return &candidates[bestIdx]
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
