package auth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Janitor periodically deletes expired sessions. Expired rows are already
// rejected by the validator; this only reclaims space.
type Janitor struct {
	service  *Service
	interval time.Duration
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewJanitor(service *Service, interval time.Duration, logger *zap.Logger) *Janitor {
	return &Janitor{
		service:  service,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the sweep loop. A non-positive interval disables it.
func (j *Janitor) Start() {
	if j.interval <= 0 {
		j.logger.Info("session cleanup disabled")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.Sweep(ctx)
			}
		}
	}()
}

func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
}

// Sweep runs one cleanup pass and returns the number of removed sessions.
func (j *Janitor) Sweep(ctx context.Context) int64 {
	removed, err := j.service.CleanupExpiredSessions(ctx)
	if err != nil {
		j.logger.Error("failed to remove expired sessions", zap.Error(err))
		return 0
	}
	if removed > 0 {
		j.logger.Info("removed expired sessions", zap.Int64("count", removed))
	}
	return removed
}
