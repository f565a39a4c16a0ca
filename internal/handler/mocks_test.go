package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/feedsub/internal/middleware"
	"github.com/hitoshi/feedsub/internal/model"
)

// --- モック定義 ---

type mockResolver struct {
	subscribeFn func(ctx context.Context, userID, rawURL, folderID string) (*model.Feed, error)
}

func (m *mockResolver) SubscribeWithFolder(ctx context.Context, userID, rawURL, folderID string) (*model.Feed, error) {
	if m.subscribeFn != nil {
		return m.subscribeFn(ctx, userID, rawURL, folderID)
	}
	return nil, nil
}

type mockDispatcher struct {
	enqueueFn func(ctx context.Context, userID, fetchURL string, folderID *string, bulk bool) (*model.JobState, error)
}

func (m *mockDispatcher) EnqueueSubscribe(ctx context.Context, userID, fetchURL string, folderID *string, bulk bool) (*model.JobState, error) {
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, userID, fetchURL, folderID, bulk)
	}
	return nil, nil
}

type mockJobStates struct {
	listFn      func(ctx context.Context, userID string) ([]*model.JobState, error)
	getFn       func(ctx context.Context, userID, id string) (*model.JobState, error)
	deleteFn    func(ctx context.Context, userID, id string) error
	watermarkFn func(ctx context.Context, userID string) (time.Time, error)
}

func (m *mockJobStates) List(ctx context.Context, userID string) ([]*model.JobState, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockJobStates) Get(ctx context.Context, userID, id string) (*model.JobState, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID, id)
	}
	return nil, model.NewJobStateNotFoundError(id)
}

func (m *mockJobStates) Delete(ctx context.Context, userID, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, id)
	}
	return nil
}

func (m *mockJobStates) Watermark(ctx context.Context, userID string) (time.Time, error) {
	if m.watermarkFn != nil {
		return m.watermarkFn(ctx, userID)
	}
	return time.Time{}, nil
}

type mockMetrics struct {
	subscribes []string
}

func (m *mockMetrics) RecordFetch(string, time.Duration) {}
func (m *mockMetrics) RecordHTTPStatus(int) {}
func (m *mockMetrics) RecordJobTransition(string, string) {}
func (m *mockMetrics) RecordTaskEnqueued(string, bool) {}
func (m *mockMetrics) RecordTaskProcessed(string, bool) {}
func (m *mockMetrics) RecordJobStatesPurged(int64) {}
func (m *mockMetrics) RecordSubscribe(mode, result string) {
	m.subscribes = append(m.subscribes, mode+":"+result)
}

type mockSessionFinder struct{}

func (mockSessionFinder) FindByID(_ context.Context, id string) (*model.Session, error) {
	if id == "valid-session" {
		return &model.Session{ID: id, UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	return nil, nil
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(context.Context) error { return m.err }

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// authedRequest はユーザーIDとchiのURLパラメータを注入したリクエストを生成する。
func authedRequest(method, target, body string, params map[string]string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	ctx := middleware.ContextWithUserID(req.Context(), "user-1")
	if len(params) > 0 {
		rctx := chi.NewRouteContext()
		for k, v := range params {
			rctx.URLParams.Add(k, v)
		}
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	return req.WithContext(ctx)
}
