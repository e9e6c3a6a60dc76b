package core

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Supervisor spawns and restarts the two pending-work jobs and integrates
// with a shutdown signal. The process-wide FIFO retry lock guarding
// cross-sweep exclusion lives here as a private field rather than as a
// package global.
type Supervisor struct {
	jobs      *Jobs
	logger    *logrus.Logger
	retryLock *semaphore.Weighted
}

// NewSupervisor wires a Supervisor around jobs.
func NewSupervisor(jobs *Jobs, logger *logrus.Logger) *Supervisor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Supervisor{
		jobs:      jobs,
		logger:    logger,
		retryLock: semaphore.NewWeighted(1),
	}
}

// Run starts RetryMessagesTask and HandleTxsTask, plus any additional
// listener tasks (e.g. from Context.ListenerTasks), and blocks until ctx is
// cancelled and every task has observed it at its next cooperative yield.
func (s *Supervisor) Run(ctx context.Context, listeners ...func(context.Context) error) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.jobs.RetryMessagesTask(ctx)
	}()
	go func() {
		defer wg.Done()
		s.jobs.HandleTxsTask(ctx)
	}()

	for _, listener := range listeners {
		listener := listener
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := listener(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warnf("listener task exited: %v", err)
			}
		}()
	}

	wg.Wait()
}

// WithRetryLock runs fn while holding the fair FIFO retry lock, guarding
// any operation that must not overlap across sweeps.
func (s *Supervisor) WithRetryLock(ctx context.Context, fn func() error) error {
	if err := s.retryLock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.retryLock.Release(1)
	return fn()
}
