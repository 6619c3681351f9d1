/*
scheduler.go - Background auto-checkout sweeper

PURPOSE:
  Periodically finds active sessions whose expected check-out deadline
  has passed and closes them through the tracker's sweep operation.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Delegates to Tracker.CheckoutExpired, which is safe to re-run over
    overlapping windows
  - Per-target failures are logged and never abort the pass

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 15 minutes)
  - BatchLimit: Max sessions closed per pass (default: 100)
  - Enabled: Whether the sweeper is active (default: true)

USAGE:
  sweeper := NewSweepScheduler(tracker, tenantID, log)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - attendance/session.go: CheckoutExpired semantics
  - handlers.go: Sweep endpoint (manual trigger)
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/attendance-engine/attendance"
)

// SweepScheduler closes expired sessions on a fixed interval.
type SweepScheduler struct {
	Tracker       *attendance.Tracker
	TenantID      string
	CheckInterval time.Duration
	BatchLimit    int
	Enabled       bool

	log    *logrus.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweepScheduler creates a new sweeper for the given tenant.
func NewSweepScheduler(tracker *attendance.Tracker, tenantID string, log *logrus.Logger) *SweepScheduler {
	if log == nil {
		log = logrus.New()
	}
	return &SweepScheduler{
		Tracker:       tracker,
		TenantID:      tenantID,
		CheckInterval: 15 * time.Minute,
		BatchLimit:    100,
		Enabled:       true,
		log:           log,
		stop:          make(chan struct{}),
	}
}

// Start begins the sweeper.
func (s *SweepScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info("sweep scheduler disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	s.log.WithField("interval", s.CheckInterval.String()).Info("sweep scheduler started")
}

// Stop stops the sweeper and waits for an in-flight pass to finish.
func (s *SweepScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.log.Info("sweep scheduler stopped")
	}
}

func (s *SweepScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.sweep()

	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *SweepScheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.CheckInterval)
	defer cancel()

	result, err := s.Tracker.CheckoutExpired(ctx, attendance.SweepRequest{
		TenantID: s.TenantID,
		Limit:    s.BatchLimit,
	})
	if err != nil {
		s.log.WithError(err).Error("sweep pass failed")
		return
	}

	found, cleaned := 0, 0
	for _, n := range result.Found {
		found += n
	}
	for _, n := range result.Cleaned {
		cleaned += n
	}

	for _, sweepErr := range result.Errors {
		s.log.WithFields(logrus.Fields{
			"targetModel": sweepErr.Target.TargetModel,
			"targetId":    sweepErr.Target.TargetID,
		}).WithField("error", sweepErr.Error).Warn("auto-checkout failed for target")
	}

	if found > 0 {
		s.log.WithFields(logrus.Fields{
			"found":   found,
			"cleaned": cleaned,
			"errors":  len(result.Errors),
		}).Info("sweep pass completed")
	}
}

// RunNow triggers an immediate pass (for testing/admin).
func (s *SweepScheduler) RunNow() {
	s.sweep()
}
