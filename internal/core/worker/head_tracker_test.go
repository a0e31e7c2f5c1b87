package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type mockSource struct {
	mu     sync.Mutex
	head   uint64
	err    error
	calls  int
	called chan struct{}
}

func (m *mockSource) BlockNumber(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.called != nil {
		select {
		case m.called <- struct{}{}:
		default:
		}
	}
	return m.head, m.err
}

func (m *mockSource) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestHeadTracker_CachesResult(t *testing.T) {
	source := &mockSource{head: 1000}
	tracker := NewHeadTracker(source, time.Minute, nil)
	ctx := context.Background()

	first, err := tracker.BlockNumber(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, _ := tracker.BlockNumber(ctx)

	if first != 1000 || second != 1000 {
		t.Errorf("expected 1000, got %d and %d", first, second)
	}
	if source.Calls() != 1 {
		t.Errorf("expected 1 source call, got %d", source.Calls())
	}
}

func TestHeadTracker_Invalidate(t *testing.T) {
	source := &mockSource{head: 1000}
	tracker := NewHeadTracker(source, time.Minute, nil)
	ctx := context.Background()

	tracker.BlockNumber(ctx)
	tracker.Invalidate()
	tracker.BlockNumber(ctx)

	if source.Calls() != 2 {
		t.Errorf("expected 2 source calls after invalidate, got %d", source.Calls())
	}
}

func TestHeadTracker_ErrorIsNotCached(t *testing.T) {
	source := &mockSource{err: errors.New("rpc down")}
	tracker := NewHeadTracker(source, time.Minute, nil)
	ctx := context.Background()

	if _, err := tracker.BlockNumber(ctx); err == nil {
		t.Fatal("expected error")
	}
	if tracker.LastError() == nil {
		t.Error("expected last error to be recorded")
	}

	source.mu.Lock()
	source.err = nil
	source.head = 42
	source.mu.Unlock()

	head, err := tracker.BlockNumber(ctx)
	if err != nil || head != 42 {
		t.Errorf("expected 42, got %d (%v)", head, err)
	}
	if tracker.LastError() != nil {
		t.Errorf("expected last error cleared, got %v", tracker.LastError())
	}
}

func TestHeadTracker_StartPollsUntilCancelled(t *testing.T) {
	source := &mockSource{head: 7, called: make(chan struct{}, 1)}
	tracker := NewHeadTracker(source, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		tracker.Start(ctx)
		close(done)
	}()

	select {
	case <-source.called:
	case <-time.After(time.Second):
		t.Fatal("initial refresh did not run")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}

	head, _ := tracker.BlockNumber(context.Background())
	if head != 7 {
		t.Errorf("expected cached head 7, got %d", head)
	}
}
