package queue

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// recordingMetrics はタスク関連のメトリクス呼び出しを記録する。
type recordingMetrics struct {
	mu        sync.Mutex
	enqueued  []bool
	processed []bool
}

func (m *recordingMetrics) RecordFetch(string, time.Duration) {}
func (m *recordingMetrics) RecordHTTPStatus(int) {}
func (m *recordingMetrics) RecordSubscribe(string, string) {}
func (m *recordingMetrics) RecordJobTransition(string, string) {}
func (m *recordingMetrics) RecordJobStatesPurged(int64) {}

func (m *recordingMetrics) RecordTaskEnqueued(_ string, bulk bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueued = append(m.enqueued, bulk)
}

func (m *recordingMetrics) RecordTaskProcessed(_ string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed = append(m.processed, ok)
}

func (m *recordingMetrics) processedCounts() (ok, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.processed {
		if p {
			ok++
		} else {
			failed++
		}
	}
	return ok, failed
}
