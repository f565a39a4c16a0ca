// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, feed, job, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidURL              = "INVALID_URL"
	ErrCodeAlreadySubscribed       = "ALREADY_SUBSCRIBED"
	ErrCodeFeedAutodiscoveryFailed = "FEED_AUTODISCOVERY_FAILED"
	ErrCodeFeedUnresolved          = "FEED_UNRESOLVED"
	ErrCodeJobStateNotFound        = "JOB_STATE_NOT_FOUND"
	ErrCodeEnqueueFailed           = "ENQUEUE_FAILED"
	// ErrCodeInternal はジョブ状態にのみ記録される。購読処理が内部エラーで完了できなかったことを表す。
	ErrCodeInternal = "INTERNAL_ERROR"
)

// リポジトリ層・ドメイン層で使用する内部エラー。
// いずれもerrors.Isで判定し、APIErrorとしては直接返さない。
var (
	// ErrDuplicateFeed は正規化済みfetch_urlの一意制約違反を表す。
	// 同一フィードの同時登録で発生し、既存フィードの再検索で回復する。
	ErrDuplicateFeed = errors.New("duplicate feed identity")

	// ErrDuplicateSubscription は(user_id, feed_id)の一意制約違反を表す。
	ErrDuplicateSubscription = errors.New("duplicate subscription")

	// ErrFeedIdentityConflict は1つの正規化キーに複数のフィードが一致したことを表す。
	// データ不整合であり、黙って解決してはならない。
	ErrFeedIdentityConflict = errors.New("feed identity conflict")

	// ErrInvalidTransition は終端状態のジョブ状態を遷移しようとしたことを表す。
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrJobStateNotFound はジョブ状態レコードが存在しないことを表す。
	ErrJobStateNotFound = errors.New("job state not found")
)

// IsAPIErrorCode はerrがAPIErrorであり、指定コードを持つかを判定する。
func IsAPIErrorCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（例: example.com/feed や https://example.com/feed）を入力してください。",
	}
}

// NewAlreadySubscribedError は既に購読済みのフィードを再度購読しようとした場合のエラーを生成する。
func NewAlreadySubscribedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadySubscribed,
		Message:  "このフィードは既に購読しています。",
		Category: "feed",
		Action:   "購読一覧から該当フィードを確認してください。",
	}
}

// NewFeedAutodiscoveryError はフィード自動検出に失敗した場合のエラーを生成する。
func NewFeedAutodiscoveryError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeFeedAutodiscoveryFailed,
		Message:  fmt.Sprintf("指定されたURLからRSS/Atomフィードを検出できませんでした: %s", url),
		Category: "feed",
		Action:   "RSS/AtomフィードのURLを直接入力するか、フィードが公開されているページのURLを確認してください。",
	}
}

// NewFeedUnresolvedError はフェッチを試みたが利用可能なフィードが得られなかった場合のエラーを生成する。
// リゾルバ自体はこの場合nilを返し、呼び出し側がこのエラーに変換する。
func NewFeedUnresolvedError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeFeedUnresolved,
		Message:  fmt.Sprintf("フィードを取得できませんでした: %s", url),
		Category: "feed",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewJobStateNotFoundError はジョブ状態が見つからない場合のエラーを生成する。
func NewJobStateNotFoundError(jobStateID string) *APIError {
	return &APIError{
		Code:     ErrCodeJobStateNotFound,
		Message:  fmt.Sprintf("指定された購読ジョブが見つかりません: %s", jobStateID),
		Category: "job",
		Action:   "購読ジョブIDを確認してください。",
	}
}

// NewEnqueueFailedError はバックグラウンドジョブの投入に失敗した場合のエラーを生成する。
func NewEnqueueFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeEnqueueFailed,
		Message:  "購読ジョブの登録に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
