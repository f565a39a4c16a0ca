package model

// FetchOutcome はフィード取得結果の種別を表す。
type FetchOutcome int

const (
	// FetchUnresolved は取得を試みたが利用可能なフィードが得られなかったことを表す。
	// ネットワーク障害、タイムアウト、パース失敗などが該当する。エラーではない。
	FetchUnresolved FetchOutcome = iota
	// FetchResolved はフィードを取得できたことを表す。
	FetchResolved
	// FetchAutodiscoveryFailed は対象URLからフィードを検出できなかったことを表す。
	FetchAutodiscoveryFailed
)

// String は結果種別の名前を返す。ログとメトリクスのラベルに使用する。
func (o FetchOutcome) String() string {
	switch o {
	case FetchResolved:
		return "resolved"
	case FetchAutodiscoveryFailed:
		return "autodiscovery_failed"
	default:
		return "unresolved"
	}
}

// FetchResult はフィード取得の3通りの結果を表す。
// OutcomeがFetchResolvedの場合のみFeedとEntriesが設定され、
// FetchAutodiscoveryFailedの場合のみErrが設定される。
type FetchResult struct {
	Outcome FetchOutcome
	Feed    *Feed
	Entries []Entry
	Err     error
}

// Resolved は取得成功の結果を生成する。
func Resolved(feed *Feed, entries []Entry) FetchResult {
	return FetchResult{Outcome: FetchResolved, Feed: feed, Entries: entries}
}

// Unresolved は取得失敗（エラー扱いしない）の結果を生成する。
func Unresolved() FetchResult {
	return FetchResult{Outcome: FetchUnresolved}
}

// AutodiscoveryFailed は自動検出失敗の結果を生成する。
func AutodiscoveryFailed(err error) FetchResult {
	return FetchResult{Outcome: FetchAutodiscoveryFailed, Err: err}
}
