package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Config configures retry behavior with exponential backoff
type Config struct {
	MaxAttempts int           // total attempts including the first (default: 3)
	BaseDelay   time.Duration // delay before the first retry (default: 1s)
	MaxDelay    time.Duration // cap on the computed delay (default: 30s)
	Multiplier  float64       // exponential backoff multiplier (default: 2.0)
	Jitter      bool          // randomize delays to avoid synchronized retries
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// Do runs op until it succeeds, returns a non-retryable error, exhausts
// the attempt budget, or the context ends. retryable nil means every
// error is retryable. The last error is returned on failure.
func Do(ctx context.Context, cfg Config, op func() error, retryable func(error) bool) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var err error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if werr := wait(ctx, cfg.delay(attempt)); werr != nil {
				return err
			}
		}
		if err = op(); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
	}
	return err
}

// delay computes the backoff before the given retry attempt (1-based).
func (cfg Config) delay(attempt int) time.Duration {
	d := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if limit := float64(cfg.MaxDelay); cfg.MaxDelay > 0 && d > limit {
		d = limit
	}
	if cfg.Jitter {
		// 50%-100% of the computed delay.
		d = d/2 + rand.Float64()*d/2
	}
	return time.Duration(d)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
