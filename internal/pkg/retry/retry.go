// internal/pkg/retry/retry.go
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"math"
	"time"
)

// Config holds the bounded exponential backoff used for transient storage faults.
type Config struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	JitterFraction    float64
}

// DefaultConfig returns a small bound suitable for lock contention inside a request.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialBackoff:    20 * time.Millisecond,
		MaxBackoff:        250 * time.Millisecond,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.2,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or attempts run out.
// The last error is returned unchanged.
func Do(ctx context.Context, cfg Config, retryable func(error) bool, fn func(attempt int) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err = fn(attempt)
		if err == nil || !retryable(err) || attempt == cfg.MaxAttempts {
			return err
		}

		timer := time.NewTimer(cfg.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// Backoff returns the wait before retrying after the given (1-based) attempt.
func (c Config) Backoff(attempt int) time.Duration {
	mult := c.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	base := float64(c.InitialBackoff) * math.Pow(mult, float64(attempt-1))
	if c.MaxBackoff > 0 && base > float64(c.MaxBackoff) {
		base = float64(c.MaxBackoff)
	}
	if c.JitterFraction > 0 {
		base += base * c.JitterFraction * (cryptoFloat64()*2 - 1)
	}
	if base < 0 {
		return 0
	}
	return time.Duration(base)
}

func cryptoFloat64() float64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0.5
	}
	return float64(binary.BigEndian.Uint64(b[:])>>11) / float64(1<<53)
}
