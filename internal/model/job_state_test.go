package model

import (
	"errors"
	"testing"
	"time"
)

func TestJobState_Apply_RunningToTerminal(t *testing.T) {
	tests := []struct {
		name string
		tr   JobTransition
	}{
		{"SUCCESS", JobTransition{To: JobStatusSuccess, FeedID: "feed-1"}},
		{"ERROR", JobTransition{To: JobStatusError, ErrorCode: ErrCodeFeedUnresolved, ErrorDetail: "failed"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Now()
			js := &JobState{ID: "job-1", State: JobStatusRunning}
			if err := js.Apply(tt.tr, now); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if js.State != tt.tr.To {
				t.Errorf("State = %q, want %q", js.State, tt.tr.To)
			}
			if !js.UpdatedAt.Equal(now) {
				t.Errorf("UpdatedAt = %v, want %v", js.UpdatedAt, now)
			}
		})
	}
}

// 終端状態からの遷移は拒否されることを検証
func TestJobState_Apply_RejectsFromTerminal(t *testing.T) {
	for _, from := range []JobStatus{JobStatusSuccess, JobStatusError} {
		js := &JobState{ID: "job-1", State: from}
		err := js.Apply(JobTransition{To: JobStatusError}, time.Now())
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("from %s: err = %v, want ErrInvalidTransition", from, err)
		}
		if js.State != from {
			t.Errorf("state changed to %s", js.State)
		}
	}
}

func TestJobState_Apply_RejectsRunningTarget(t *testing.T) {
	js := &JobState{ID: "job-1", State: JobStatusRunning}
	if err := js.Apply(JobTransition{To: JobStatusRunning}, time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestIsAPIErrorCode(t *testing.T) {
	err := NewAlreadySubscribedError()
	if !IsAPIErrorCode(err, ErrCodeAlreadySubscribed) {
		t.Error("expected ALREADY_SUBSCRIBED")
	}
	if IsAPIErrorCode(errors.New("plain"), ErrCodeAlreadySubscribed) {
		t.Error("plain error must not match")
	}
}
