package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Runner is one bounded, idempotent pass (dispatch cycle, retry sweep,
// compliance reload). Passes are safe to invoke repeatedly.
type Runner func(ctx context.Context) error

type Job struct {
	name   string
	ticker *time.Ticker
	quit   chan struct{}
	run    Runner
	logger zerolog.Logger

	mu        sync.Mutex
	isRunning bool
}

func NewJob(name string, interval time.Duration, run Runner, logger zerolog.Logger) *Job {
	return &Job{
		name:   name,
		ticker: time.NewTicker(interval),
		quit:   make(chan struct{}),
		run:    run,
		logger: logger,
	}
}

func (j *Job) Start(ctx context.Context, wg *sync.WaitGroup) {
	j.logger.Info().Str("job", j.name).Msg("job started")
	go func() {
		// the goroutine owns the wg slot: exactly one Done whichever way
		// it exits
		defer wg.Done()

		// run once immediately rather than waiting a full interval
		j.runOnce(ctx)

		for {
			select {
			case <-j.ticker.C:
				j.runOnce(ctx)
			case <-j.quit:
				j.ticker.Stop()
				j.logger.Info().Str("job", j.name).Msg("job stopped by toggle")
				return
			case <-ctx.Done():
				j.ticker.Stop()
				j.logger.Info().Str("job", j.name).Msg("job stopped by shutdown")
				return
			}
		}
	}()
}

func (j *Job) Stop() {
	close(j.quit)
}

func (j *Job) runOnce(ctx context.Context) {
	j.mu.Lock()
	if j.isRunning {
		j.logger.Debug().Str("job", j.name).Msg("previous run still in progress, skipping")
		j.mu.Unlock()
		return
	}
	j.isRunning = true
	j.mu.Unlock()

	defer func() {
		j.mu.Lock()
		j.isRunning = false
		j.mu.Unlock()
	}()

	if err := j.run(ctx); err != nil {
		j.logger.Error().Err(err).Str("job", j.name).Msg("job run failed")
	}
}
