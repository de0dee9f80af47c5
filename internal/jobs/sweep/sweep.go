package sweep

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/ivankudzin/anonmod/internal/metrics"
)

// RunFunc performs one sweep and reports how many rows it transitioned.
type RunFunc func(ctx context.Context) (int, error)

// Task runs one sweep on a fixed interval. A failed run is retried with
// jittered exponential backoff capped at the interval; it never stops the
// loop.
type Task struct {
	name     string
	interval time.Duration
	run      RunFunc
	backoff  *backoff.ExponentialBackOff
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) bool
}

func New(name string, interval time.Duration, run RunFunc, logger *zap.Logger) *Task {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min(time.Second, interval)
	b.MaxInterval = interval
	b.Multiplier = 2
	b.RandomizationFactor = 0.5

	return &Task{
		name:     name,
		interval: interval,
		run:      run,
		backoff:  b,
		logger:   logger.With(zap.String("task", name)),
		sleep:    sleepContext,
	}
}

func (t *Task) Name() string {
	return t.name
}

// Run sweeps once right away and then keeps going until ctx is done.
func (t *Task) Run(ctx context.Context) error {
	if t.run == nil {
		return nil
	}

	t.logger.Info("sweep task started", zap.Duration("interval", t.interval))
	for {
		wait := t.interval
		if err := t.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait = min(t.backoff.NextBackOff(), t.interval)
			t.logger.Warn("sweep failed, retrying", zap.Duration("retry_in", wait), zap.Error(err))
		} else {
			t.backoff.Reset()
		}

		if !t.sleep(ctx, wait) {
			t.logger.Info("sweep task stopped")
			return nil
		}
	}
}

func (t *Task) RunOnce(ctx context.Context) error {
	started := time.Now()
	n, err := t.run(ctx)
	if n > 0 {
		metrics.SweepReaped.WithLabelValues(t.name).Add(float64(n))
	}
	if err != nil {
		metrics.SweepRuns.WithLabelValues(t.name, "error").Inc()
		return err
	}

	metrics.SweepRuns.WithLabelValues(t.name, "ok").Inc()
	if n > 0 {
		t.logger.Info("sweep completed", zap.Int("reaped", n), zap.Duration("took", time.Since(started)))
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
