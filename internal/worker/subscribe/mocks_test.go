package subscribe

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/hitoshi/feedsub/internal/model"
)

// --- モック定義 ---

type mockResolver struct {
	subscribeFunc          func(ctx context.Context, userID, rawURL, folderID string) (*model.Feed, error)
	findSubscribedFeedFunc func(ctx context.Context, userID, rawURL string) (*model.Feed, error)
}

func (m *mockResolver) SubscribeWithFolder(ctx context.Context, userID, rawURL, folderID string) (*model.Feed, error) {
	if m.subscribeFunc != nil {
		return m.subscribeFunc(ctx, userID, rawURL, folderID)
	}
	return nil, nil
}

func (m *mockResolver) FindSubscribedFeed(ctx context.Context, userID, rawURL string) (*model.Feed, error) {
	if m.findSubscribedFeedFunc != nil {
		return m.findSubscribedFeedFunc(ctx, userID, rawURL)
	}
	return nil, nil
}

// transitionCall はFail/Succeedの呼び出し記録。
type transitionCall struct {
	id     string
	state  model.JobStatus
	feedID string
	code   string
	detail string
}

type mockTracker struct {
	jobs        map[string]*model.JobState
	getErr      error
	startErr    error
	transErr    error
	transitions []transitionCall
	started     []*model.JobState
}

func newMockTracker() *mockTracker {
	return &mockTracker{jobs: make(map[string]*model.JobState)}
}

func (m *mockTracker) create(userID, fetchURL string, state model.JobStatus, feedID string) *model.JobState {
	js := &model.JobState{
		ID:        "job-" + string(rune('a'+len(m.started))),
		UserID:    userID,
		FetchURL:  fetchURL,
		State:     state,
		FeedID:    feedID,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.jobs[js.ID] = js
	m.started = append(m.started, js)
	return js
}

func (m *mockTracker) Start(_ context.Context, userID, fetchURL string) (*model.JobState, error) {
	if m.startErr != nil {
		return nil, m.startErr
	}
	return m.create(userID, fetchURL, model.JobStatusRunning, ""), nil
}

func (m *mockTracker) StartSucceeded(_ context.Context, userID, fetchURL, feedID string) (*model.JobState, error) {
	return m.create(userID, fetchURL, model.JobStatusSuccess, feedID), nil
}

func (m *mockTracker) Succeed(_ context.Context, id, feedID string) (*model.JobState, error) {
	m.transitions = append(m.transitions, transitionCall{id: id, state: model.JobStatusSuccess, feedID: feedID})
	return m.apply(id, model.JobStatusSuccess)
}

func (m *mockTracker) Fail(_ context.Context, id, code, detail string) (*model.JobState, error) {
	m.transitions = append(m.transitions, transitionCall{id: id, state: model.JobStatusError, code: code, detail: detail})
	return m.apply(id, model.JobStatusError)
}

func (m *mockTracker) apply(id string, state model.JobStatus) (*model.JobState, error) {
	if m.transErr != nil {
		return nil, m.transErr
	}
	js, ok := m.jobs[id]
	if !ok {
		return nil, model.ErrJobStateNotFound
	}
	if js.State.IsTerminal() {
		return nil, model.ErrInvalidTransition
	}
	js.State = state
	return js, nil
}

func (m *mockTracker) Get(_ context.Context, userID, id string) (*model.JobState, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	js, ok := m.jobs[id]
	if !ok || js.UserID != userID {
		return nil, model.NewJobStateNotFoundError(id)
	}
	return js, nil
}

type mockQueue struct {
	tasks []model.SubscribeTask
	err   error
}

func (m *mockQueue) Enqueue(_ context.Context, task model.SubscribeTask) error {
	if m.err != nil {
		return m.err
	}
	m.tasks = append(m.tasks, task)
	return nil
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
func (m *mockMetrics) RecordSubscribe(mode, result string) { m.subscribes = append(m.subscribes, mode+":"+result) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
