package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/feedsub/internal/metrics"
	"github.com/hitoshi/feedsub/internal/middleware"
	"github.com/hitoshi/feedsub/internal/model"
	"github.com/hitoshi/feedsub/internal/worker/subscribe"
)

// SubscriptionResolver は同期購読に必要なインターフェース。subscription.Resolverが実装する。
type SubscriptionResolver interface {
	SubscribeWithFolder(ctx context.Context, userID, rawURL, folderID string) (*model.Feed, error)
}

// SubscriptionHandler は同期購読のHTTPハンドラー。
type SubscriptionHandler struct {
	resolver SubscriptionResolver
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
}

// NewSubscriptionHandler はSubscriptionHandlerを生成する。
func NewSubscriptionHandler(resolver SubscriptionResolver, mc metrics.MetricsCollector, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		resolver: resolver,
		metrics:  mc,
		logger:   logger,
	}
}

// subscribeRequest は購読リクエストのボディ。
type subscribeRequest struct {
	URL      string  `json:"url"`
	FolderID *string `json:"folder_id"`
}

// Subscribe はURLのフィードを購読する。
// POST /api/subscriptions
//
// 201: 購読したフィード、400: 不正なURL、404: フィードを取得できない、
// 409: 購読済み、422: HTMLからフィードを検出できない。
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req subscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	folderID := ""
	if req.FolderID != nil {
		folderID = *req.FolderID
	}

	feed, err := h.resolver.SubscribeWithFolder(r.Context(), userID, req.URL, folderID)
	h.metrics.RecordSubscribe(subscribe.ModeSync, subscribe.ResultLabel(feed, err))
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	if feed == nil {
		middleware.WriteError(w, h.logger, model.NewFeedUnresolvedError(req.URL))
		return
	}

	writeJSON(w, http.StatusCreated, toFeedResponse(feed))
}
