// Package scheduler runs the periodic personal space sweep.
package scheduler

import (
	"context"
	"sync"
	"time"

	"atrium/api/internal/logger"
)

const sweepBatchSize = 500

// SpaceChecker reconciles one user's personal space.
type SpaceChecker interface {
	CheckPersonalSpace(ctx context.Context, userID string) error
}

type userLister interface {
	ListActiveUserIDs(ctx context.Context, since time.Time, limit int) ([]string, error)
}

// Sweeper periodically reconciles the spaces of recently active users, the
// backstop for users who stay signed in across long sessions and so never
// hit the signin-time check.
type Sweeper struct {
	users    userLister
	checker  SpaceChecker
	interval time.Duration
	window   time.Duration
	log      logger.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewSweeper(users userLister, checker SpaceChecker, interval, window time.Duration, log logger.Logger) *Sweeper {
	return &Sweeper{
		users:    users,
		checker:  checker,
		interval: interval,
		window:   window,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop. It returns immediately.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RunOnce(context.Background())
			case <-s.stopCh:
				return
			}
		}
	}()
	s.log.Info("personal space sweeper started",
		logger.Duration("interval", s.interval), logger.Duration("window", s.window))
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// RunOnce sweeps every user active within the window. One failing user does
// not stop the pass.
func (s *Sweeper) RunOnce(ctx context.Context) {
	since := time.Now().Add(-s.window)
	userIDs, err := s.users.ListActiveUserIDs(ctx, since, sweepBatchSize)
	if err != nil {
		s.log.Error("list users for sweep", logger.Error(err))
		return
	}

	failed := 0
	for _, userID := range userIDs {
		if err := s.checker.CheckPersonalSpace(ctx, userID); err != nil {
			failed++
			s.log.Warn("sweep personal space",
				logger.String("user_id", userID), logger.Error(err))
		}
	}
	s.log.Info("personal space sweep done",
		logger.Int("users", len(userIDs)), logger.Int("failed", failed))
}
