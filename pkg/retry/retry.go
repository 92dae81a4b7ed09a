package retry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// ShouldRetry decides whether an error is transient. A nil func retries
	// every error.
	ShouldRetry func(error) bool
	Logger      *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Logger:       zap.NewNop(),
	}
}

// Do runs operation until it succeeds, the error is not retryable, the
// attempts are exhausted, or the context ends.
func Do(ctx context.Context, cfg Config, operation func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 200 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 2.0
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		if cfg.ShouldRetry != nil && !cfg.ShouldRetry(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		cfg.Logger.Warn("Operation failed, retrying",
			zap.Error(lastErr),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return lastErr
}
