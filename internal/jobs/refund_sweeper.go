package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/civicdrive/backend/internal/config"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// RefundRetrier applies refunds whose first attempt failed.
type RefundRetrier interface {
	RetryPendingRefunds(ctx context.Context, limit, maxAttempts int) (int, error)
}

// RefundSweeper periodically retries pending refunds on a cron schedule.
// Sweeps never overlap.
type RefundSweeper struct {
	retrier RefundRetrier
	cfg     config.RefundConfig
	timeout time.Duration
	cron    *cron.Cron
	mu      sync.Mutex
}

func NewRefundSweeper(retrier RefundRetrier, cfg config.RefundConfig) *RefundSweeper {
	return &RefundSweeper{
		retrier: retrier,
		cfg:     cfg,
		timeout: 30 * time.Second,
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
	}
}

// Start schedules the sweep. It returns an error for an invalid schedule.
func (s *RefundSweeper) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.SweepSchedule, func() { s.Sweep(context.Background()) }); err != nil {
		return fmt.Errorf("schedule refund sweep %q: %w", s.cfg.SweepSchedule, err)
	}
	s.cron.Start()
	logrus.WithField("schedule", s.cfg.SweepSchedule).Info("[REFUND] sweeper started")
	return nil
}

// Stop waits for a running sweep to finish or ctx to expire.
func (s *RefundSweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Sweep runs one retry pass and returns how many refunds were applied.
// A sweep that starts while another is running is skipped.
func (s *RefundSweeper) Sweep(ctx context.Context) int {
	if !s.mu.TryLock() {
		logrus.Debug("[REFUND] sweep already running, skipping")
		return 0
	}
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	applied, err := s.retrier.RetryPendingRefunds(ctx, s.cfg.BatchSize, s.cfg.MaxAttempts)
	log := logrus.WithFields(logrus.Fields{
		"applied":  applied,
		"duration": time.Since(start).String(),
	})
	if err != nil {
		log.WithError(err).Error("[REFUND] sweep failed")
		return applied
	}
	if applied > 0 {
		log.Info("[REFUND] pending refunds applied")
	}
	return applied
}
