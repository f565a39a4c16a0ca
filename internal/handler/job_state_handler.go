package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/feedsub/internal/middleware"
	"github.com/hitoshi/feedsub/internal/model"
)

// JobDispatcher は非同期購読ジョブの投入。subscribe.Dispatcherが実装する。
type JobDispatcher interface {
	EnqueueSubscribe(ctx context.Context, userID, fetchURL string, folderID *string, isPartOfBulkImport bool) (*model.JobState, error)
}

// JobStateService はジョブ状態の参照と削除。jobstate.Trackerが実装する。
type JobStateService interface {
	List(ctx context.Context, userID string) ([]*model.JobState, error)
	Get(ctx context.Context, userID, id string) (*model.JobState, error)
	Delete(ctx context.Context, userID, id string) error
	Watermark(ctx context.Context, userID string) (time.Time, error)
}

// JobStateHandler は購読ジョブの投入とジョブ状態照会のHTTPハンドラー。
// 一覧と個別取得はETag/Last-Modifiedによる条件付きGETに対応する。
type JobStateHandler struct {
	dispatcher JobDispatcher
	states     JobStateService
	logger     *slog.Logger
}

// NewJobStateHandler はJobStateHandlerを生成する。
func NewJobStateHandler(dispatcher JobDispatcher, states JobStateService, logger *slog.Logger) *JobStateHandler {
	return &JobStateHandler{
		dispatcher: dispatcher,
		states:     states,
		logger:     logger,
	}
}

// enqueueRequest は購読ジョブ投入リクエストのボディ。
type enqueueRequest struct {
	URL        string  `json:"url"`
	FolderID   *string `json:"folder_id"`
	BulkImport bool    `json:"bulk_import"`
}

// Create は購読ジョブを投入し、作成したジョブ状態を返す。
// POST /api/subscribe_job_states
func (h *JobStateHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req enqueueRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	js, err := h.dispatcher.EnqueueSubscribe(r.Context(), userID, req.URL, req.FolderID, req.BulkImport)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusAccepted, toJobStateResponse(js))
}

// List はユーザーのジョブ状態一覧を返す。
// GET /api/subscribe_job_states
//
// 最終変更日時（ウォーターマーク）が条件ヘッダーと一致すれば304、
// ジョブ状態が1件もなければ404を返す。
func (h *JobStateHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	wm, err := h.states.Watermark(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	if !wm.IsZero() && notModified(r, wm) {
		writeNotModified(w, wm)
		return
	}

	states, err := h.states.List(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	if len(states) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	resp := make([]jobStateResponse, 0, len(states))
	for _, js := range states {
		resp = append(resp, toJobStateResponse(js))
	}
	if !wm.IsZero() {
		setValidators(w, wm)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get はジョブ状態を1件返す。
// GET /api/subscribe_job_states/{id}
func (h *JobStateHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	js, err := h.states.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	if notModified(r, js.UpdatedAt) {
		writeNotModified(w, js.UpdatedAt)
		return
	}

	setValidators(w, js.UpdatedAt)
	writeJSON(w, http.StatusOK, toJobStateResponse(js))
}

// Delete はジョブ状態を削除する（通知の消去）。成功時はボディなしの200を返す。
// DELETE /api/subscribe_job_states/{id}
func (h *JobStateHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.states.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}
