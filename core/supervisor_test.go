package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSupervisorRunStopsOnCancel(t *testing.T) {
	store := newFakePendingStore()
	incoming := func(ctx context.Context, msg Message, source PendingSource, seen *SeenIDs, retrying bool) (bool, error) {
		return true, nil
	}
	jobs := NewJobs(store, incoming, DefaultChaindataExtractor, quietLogger())
	jobs.SweepInterval = 10 * time.Millisecond

	s := NewSupervisor(jobs, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
}

func TestSupervisorRetryLockIsExclusive(t *testing.T) {
	s := NewSupervisor(NewJobs(newFakePendingStore(), nil, nil, quietLogger()), quietLogger())

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		s.WithRetryLock(context.Background(), func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	// A second holder must block until the first releases.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.WithRetryLock(ctx, func() error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded while the lock is held", err)
	}

	close(release)
	if err := s.WithRetryLock(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("WithRetryLock() after release error: %v", err)
	}
}
