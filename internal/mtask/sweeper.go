package mtask

import (
	"context"
	"log"
	"time"
)

// SweepNow runs SweepExpired against the engine clock.
func (e *Engine) SweepNow(ctx context.Context) (SweepResult, error) {
	now := e.now()
	n, err := e.SweepExpired(ctx, now)
	if err != nil {
		return SweepResult{}, err
	}
	return SweepResult{ExpiredCount: n, CheckedAt: now}, nil
}

// Sweeper periodically returns overdue TAKEN tasks to the pool.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
}

func NewSweeper(e *Engine, interval time.Duration) *Sweeper {
	return &Sweeper{engine: e, interval: interval}
}

// Run blocks until ctx is done. A non-positive interval disables the loop.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		log.Printf("expiry sweeper disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("expiry sweeper running every %s", s.interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("expiry sweeper stopped")
			return
		case <-ticker.C:
			res, err := s.engine.SweepNow(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("failed to sweep expired tasks: %v", err)
				continue
			}
			if res.ExpiredCount > 0 {
				log.Printf("released %d expired task(s)", res.ExpiredCount)
			}
		}
	}
}
