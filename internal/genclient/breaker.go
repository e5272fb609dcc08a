package genclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

type BreakerConfig struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Name: "generation", ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second}
}

// BreakerGenerator stops calling the upstream after a run of failures. Open
// state errors read as "unavailable" so the retry executor treats them as
// transient.
type BreakerGenerator struct {
	next Generator
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerGenerator(next Generator, cfg BreakerConfig, logger *slog.Logger) *BreakerGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultBreakerConfig().ConsecutiveFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultBreakerConfig().OpenTimeout
	}
	if cfg.Name == "" {
		cfg.Name = DefaultBreakerConfig().Name
	}
	threshold := cfg.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("generation breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	return &BreakerGenerator{next: next, cb: cb}
}

func (b *BreakerGenerator) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerGenerator) OpenStream(ctx context.Context, req Request) (Stream, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.next.OpenStream(ctx, req)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return out.(Stream), nil
}

func (b *BreakerGenerator) Complete(ctx context.Context, req Request) (*Response, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.next.Complete(ctx, req)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return out.(*Response), nil
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("generation service unavailable: %w", err)
	}
	return err
}
