package model

import (
	"fmt"
	"time"
)

// JobStatus は非同期購読ジョブの状態を表す。
type JobStatus string

const (
	// JobStatusRunning は処理中。
	JobStatusRunning JobStatus = "RUNNING"
	// JobStatusSuccess は購読完了（終端状態）。
	JobStatusSuccess JobStatus = "SUCCESS"
	// JobStatusError は購読失敗（終端状態）。
	JobStatusError JobStatus = "ERROR"
)

// IsTerminal は終端状態かどうかを返す。
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccess || s == JobStatusError
}

// JobState は1回の非同期購読の試行とその結果を表す。
// 作成したユーザーのみが所有する。
type JobState struct {
	ID          string
	UserID      string
	FetchURL    string
	State       JobStatus
	FeedID      string // SUCCESS時に購読したフィード
	ErrorCode   string
	ErrorDetail string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// JobTransition は終端状態への遷移内容を表す。
type JobTransition struct {
	To          JobStatus
	FeedID      string
	ErrorCode   string
	ErrorDetail string
}

// Apply はRUNNINGから終端状態への遷移を適用する。
// 遷移元が終端状態、または遷移先がRUNNINGの場合はErrInvalidTransitionを返す。
func (j *JobState) Apply(t JobTransition, now time.Time) error {
	if j.State != JobStatusRunning || !t.To.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s (job_state_id=%s)", ErrInvalidTransition, j.State, t.To, j.ID)
	}
	j.State = t.To
	j.FeedID = t.FeedID
	j.ErrorCode = t.ErrorCode
	j.ErrorDetail = t.ErrorDetail
	j.UpdatedAt = now
	return nil
}

// SubscribeTask はタスクキューに投入される非同期購読の作業単位。
type SubscribeTask struct {
	UserID             string  `json:"user_id"`
	FetchURL           string  `json:"fetch_url"`
	FolderID           *string `json:"folder_id"`
	IsPartOfBulkImport bool    `json:"is_part_of_bulk_import"`
	JobStateID         string  `json:"job_state_id"`
}

// Folder はFolderIDを文字列で返す。未指定の場合は空文字列。
func (t SubscribeTask) Folder() string {
	if t.FolderID == nil {
		return ""
	}
	return *t.FolderID
}
