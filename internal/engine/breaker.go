package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// ErrEmbedderUnavailable is returned while the breaker is open.
var ErrEmbedderUnavailable = errors.New("embedding service unavailable")

// BreakerEmbedder stops calling a failing embedding service until it recovers.
// After maxFailures consecutive failures calls fail fast for cooldown, then a
// single trial call decides whether to close again.
type BreakerEmbedder struct {
	inner   Embedder
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerEmbedder wraps inner. Zero values pick 3 failures and a 30s cooldown.
func NewBreakerEmbedder(inner Embedder, maxFailures uint32, cooldown time.Duration) *BreakerEmbedder {
	if maxFailures == 0 {
		maxFailures = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        inner.Model(),
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// Bad input is the caller's fault, not the service's.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrEmptyText)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("embed: breaker %s %s -> %s", name, from, to)
		},
	}

	return &BreakerEmbedder{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (b *BreakerEmbedder) Model() string  { return b.inner.Model() }
func (b *BreakerEmbedder) Dimensions() int { return b.inner.Dimensions() }

// Embed calls the wrapped embedder unless the breaker is open.
func (b *BreakerEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	out, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.Embed(ctx, text)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrEmbedderUnavailable
	}
	if err != nil {
		return nil, err
	}
	return out.([]float64), nil
}

// State reports the breaker state ("closed", "open" or "half-open").
func (b *BreakerEmbedder) State() string {
	return b.breaker.State().String()
}
