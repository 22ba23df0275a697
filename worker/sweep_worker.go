package worker

import (
	"context"
	"log"
	"time"

	"outreachly/engine"
)

// SweepWorker drives the scheduler: every interval it asks the sweeper to
// advance all due enrollments.
type SweepWorker struct {
	Sweeper  *engine.Sweeper
	Interval time.Duration
	Logger   *log.Logger
}

func NewSweepWorker(sweeper *engine.Sweeper, interval time.Duration, logger *log.Logger) *SweepWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SweepWorker{
		Sweeper:  sweeper,
		Interval: interval,
		Logger:   logger,
	}
}

func (sw *SweepWorker) Start(ctx context.Context) {
	sw.Logger.Println("Sweep worker started")

	ticker := time.NewTicker(sw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.Logger.Println("Sweep worker shutting down...")
			return
		case <-ticker.C:
			result, err := sw.Sweeper.Tick(ctx, time.Now())
			if err != nil {
				sw.Logger.Printf("Sweep tick error: %v", err)
				continue
			}
			if result.Advanced > 0 || result.Failed > 0 {
				sw.Logger.Printf("Sweep tick: %d advanced, %d failed", result.Advanced, result.Failed)
			}
		}
	}
}
