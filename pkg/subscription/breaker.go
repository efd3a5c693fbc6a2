package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dmitrymomot/subsync/pkg/logger"
)

// BreakerConfig configures the circuit breaker around provider API calls.
type BreakerConfig struct {
	MaxRequests      uint32        `env:"PROVIDER_BREAKER_MAX_REQUESTS" envDefault:"1"`
	Interval         time.Duration `env:"PROVIDER_BREAKER_INTERVAL" envDefault:"1m"`
	Timeout          time.Duration `env:"PROVIDER_BREAKER_TIMEOUT" envDefault:"30s" validate:"gt=0"`
	FailureThreshold uint32        `env:"PROVIDER_BREAKER_FAILURES" envDefault:"5" validate:"gte=1"`
}

type breakerProvider struct {
	next Provider
	cb   *gobreaker.CircuitBreaker
}

// WithCircuitBreaker wraps a provider so consecutive API failures open the circuit
// and subsequent calls fail fast. Not-found responses do not count as failures.
func WithCircuitBreaker(next Provider, cfg BreakerConfig, log *slog.Logger) Provider {
	if next == nil {
		panic("subscription: provider is required")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "payment-provider",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				logger.Component(name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return &breakerProvider{next: next, cb: cb}
}

func (b *breakerProvider) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	return execute(b.cb, func() (*Customer, error) {
		return b.next.GetCustomer(ctx, customerID)
	})
}

func (b *breakerProvider) GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	return execute(b.cb, func() (*ProviderSubscription, error) {
		return b.next.GetSubscription(ctx, subscriptionID)
	})
}

func (b *breakerProvider) UpdateSubscriptionStatus(ctx context.Context, subscriptionID string, update SubscriptionUpdate) (*ProviderSubscription, error) {
	return execute(b.cb, func() (*ProviderSubscription, error) {
		return b.next.UpdateSubscriptionStatus(ctx, subscriptionID, update)
	})
}

func execute[T any](cb *gobreaker.CircuitBreaker, fn func() (*T, error)) (*T, error) {
	var notFound error
	res, err := cb.Execute(func() (interface{}, error) {
		v, err := fn()
		if errors.Is(err, ErrProviderNotFound) {
			notFound = err
			return nil, nil
		}
		return v, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, errors.Join(ErrProviderError, err)
		}
		return nil, err
	}
	if notFound != nil {
		return nil, notFound
	}
	v, _ := res.(*T)
	return v, nil
}
