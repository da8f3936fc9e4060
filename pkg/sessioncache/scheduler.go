package sessioncache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// RetryInterval is the wait after a failed sweep.
const RetryInterval = time.Minute

// NextInterval maps the number of stored sessions to the wait before the next
// sweep: busier caches are swept more often.
func NextInterval(sessions int) time.Duration {
	switch {
	case sessions < 100:
		return 5 * time.Minute
	case sessions < 1000:
		return 2 * time.Minute
	case sessions < 10000:
		return time.Minute
	default:
		return 30 * time.Second
	}
}

// Sweeper is the part of the cache the scheduler drives.
type Sweeper interface {
	Len() int
	Sweep(now time.Time) int
}

// Scheduler periodically evicts expired sessions. At most one sweep runs at a
// time; a tick that finds a sweep in progress is skipped.
type Scheduler struct {
	cache    Sweeper
	permit   *semaphore.Weighted
	logger   *zap.Logger
	now      func() time.Time
	interval atomic.Int64
}

func NewScheduler(cache Sweeper, logger *zap.Logger) *Scheduler {
	s := &Scheduler{
		cache:  cache,
		permit: semaphore.NewWeighted(1),
		logger: logger,
		now:    time.Now,
	}
	s.interval.Store(int64(NextInterval(cache.Len())))
	return s
}

// Interval is the wait currently scheduled before the next tick.
func (s *Scheduler) Interval() time.Duration {
	return time.Duration(s.interval.Load())
}

// Run loops until ctx is cancelled. Cached entries are left untouched on exit.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("session cleanup scheduler started", zap.Duration("interval", s.Interval()))
	timer := time.NewTimer(s.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session cleanup scheduler stopped")
			return
		case <-timer.C:
			timer.Reset(s.tick())
		}
	}
}

// TriggerSweep runs one guarded sweep now. It returns false without doing
// anything when another sweep holds the permit.
func (s *Scheduler) TriggerSweep() (ran bool, removed int, err error) {
	if !s.permit.TryAcquire(1) {
		return false, 0, nil
	}
	defer s.permit.Release(1)

	removed, err = s.sweep()
	return true, removed, err
}

func (s *Scheduler) tick() time.Duration {
	ran, removed, err := s.TriggerSweep()
	switch {
	case !ran:
		s.logger.Debug("session sweep skipped, previous sweep still running")
	case err != nil:
		s.logger.Error("session sweep failed, retrying", zap.Error(err), zap.Duration("retry_in", RetryInterval))
		s.interval.Store(int64(RetryInterval))
		return RetryInterval
	case removed > 0:
		s.logger.Info("expired sessions removed", zap.Int("removed", removed))
	}

	next := NextInterval(s.cache.Len())
	s.interval.Store(int64(next))
	return next
}

func (s *Scheduler) sweep() (removed int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panicked: %v", r)
		}
	}()
	return s.cache.Sweep(s.now()), nil
}
