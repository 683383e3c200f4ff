package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/settlement-service/internal/domain"
	"github.com/sony/gobreaker/v2"
)

// GuardedLookup bounds every lookup with a timeout and a circuit breaker.
// A missing product is a normal answer; everything else that goes wrong is
// reported as domain.ErrTransient.
type GuardedLookup struct {
	next    Lookup
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[Product]
}

func NewGuardedLookup(next Lookup, timeout time.Duration) *GuardedLookup {
	cb := gobreaker.NewCircuitBreaker[Product](gobreaker.Settings{
		Name:        "catalog",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrProductNotFound)
		},
	})

	return &GuardedLookup{next: next, timeout: timeout, cb: cb}
}

func (g *GuardedLookup) Resolve(ctx context.Context, productID string) (Product, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	p, err := g.cb.Execute(func() (Product, error) {
		return g.next.Resolve(ctx, productID)
	})
	if err == nil || errors.Is(err, ErrProductNotFound) {
		return p, err
	}
	return Product{}, fmt.Errorf("%w: resolve product %s: %w", domain.ErrTransient, productID, err)
}

func (g *GuardedLookup) State() gobreaker.State {
	return g.cb.State()
}
