// Package model はドメインモデルを定義する。
package model

import "time"

// Feed はRSS/Atomフィードを表す。
// FetchURLが実際の取得先であり、フィードの同一性キーとなる。
type Feed struct {
	ID        string
	URL       string // サイトURL（自動検出前は空の場合がある）
	FetchURL  string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Entry はフィードから取得した記事を表す。
// 購読処理では内容を解釈せず、新規フィードと一緒に保存するだけである。
type Entry struct {
	ID          string
	FeedID      string
	GUID        string
	Title       string
	URL         string
	Summary     string // サニタイズ済み
	Content     string // サニタイズ済み
	Author      string
	PublishedAt *time.Time
	CreatedAt   time.Time
}

// Subscription はユーザーとフィードの購読関係を表す。
// 作成後は変更されない。
type Subscription struct {
	ID        string
	UserID    string
	FeedID    string
	FolderID  string // 空文字列はフォルダなし
	CreatedAt time.Time
}
