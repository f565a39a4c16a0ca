// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/feedsub/internal/middleware"
	"github.com/hitoshi/feedsub/internal/model"
)

// maxRequestBodySize はJSONリクエストボディの上限。
const maxRequestBodySize = 64 << 10

// feedResponse はフィード情報のAPIレスポンス。
type feedResponse struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	FetchURL  string    `json:"fetch_url"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

func toFeedResponse(f *model.Feed) feedResponse {
	return feedResponse{
		ID:        f.ID,
		URL:       f.URL,
		FetchURL:  f.FetchURL,
		Title:     f.Title,
		CreatedAt: f.CreatedAt,
	}
}

// jobStateResponse はジョブ状態のAPIレスポンス。
type jobStateResponse struct {
	ID          string    `json:"id"`
	FetchURL    string    `json:"fetch_url"`
	State       string    `json:"state"`
	FeedID      string    `json:"feed_id,omitempty"`
	ErrorCode   string    `json:"error_code,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toJobStateResponse(js *model.JobState) jobStateResponse {
	return jobStateResponse{
		ID:          js.ID,
		FetchURL:    js.FetchURL,
		State:       string(js.State),
		FeedID:      js.FeedID,
		ErrorCode:   js.ErrorCode,
		ErrorDetail: js.ErrorDetail,
		CreatedAt:   js.CreatedAt,
		UpdatedAt:   js.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("レスポンスの書き込みに失敗しました", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをvにデコードする。失敗時は400を書き込んでfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     middleware.ErrCodeInvalidRequest,
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

// requireUserID はセッションミドルウェアが注入したユーザーIDを返す。
// 取得できない場合は401を書き込んでfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return "", false
	}
	return userID, true
}
