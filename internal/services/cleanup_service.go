package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/seoulchess/backend/internal/metrics"
	"go.uber.org/zap"
)

// Purger removes expired rows and reports how many were deleted.
type Purger func(ctx context.Context) (int64, error)

// CleanupService runs the purge jobs on a cron schedule.
type CleanupService struct {
	cron    *cron.Cron
	jobs    map[string]Purger
	timeout time.Duration
}

func NewCleanupService(schedule string, verification *VerificationService, auth *AuthService) (*CleanupService, error) {
	s := &CleanupService{
		cron:    cron.New(),
		jobs:    map[string]Purger{},
		timeout: time.Minute,
	}
	if verification != nil {
		s.jobs["verification_codes"] = verification.PurgeExpired
	}
	if auth != nil {
		s.jobs["refresh_tokens"] = auth.PurgeExpiredRefreshTokens
	}

	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	return s, nil
}

// RunOnce runs every purge job and returns the deleted row counts by table.
func (s *CleanupService) RunOnce(ctx context.Context) map[string]int64 {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	deleted := make(map[string]int64, len(s.jobs))
	for table, purge := range s.jobs {
		n, err := purge(ctx)
		if err != nil {
			zap.L().Error("Cleanup job failed", zap.String("table", table), zap.Error(err))
			continue
		}
		deleted[table] = n
		metrics.CleanupDeleted.WithLabelValues(table).Add(float64(n))
		if n > 0 {
			zap.L().Info("Cleanup removed expired rows", zap.String("table", table), zap.Int64("deleted", n))
		}
	}
	return deleted
}

// Run starts the scheduler and blocks until ctx is done.
func (s *CleanupService) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
