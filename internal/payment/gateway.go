package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/settlement-service/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
)

type PushRequest struct {
	Phone      string
	Amount     decimal.Decimal
	AccountRef string
}

// PushResult is the gateway's answer to a payment prompt. CheckoutRequestID
// is the reference the settlement callback will carry later.
type PushResult struct {
	CheckoutRequestID string
	Completed         bool
	Description       string
}

// Gateway sends a payment prompt to the buyer's phone.
type Gateway interface {
	Push(ctx context.Context, req PushRequest) (PushResult, error)
}

// DemoGateway settles every prompt immediately without contacting a payment
// network.
type DemoGateway struct{}

func (DemoGateway) Push(ctx context.Context, _ PushRequest) (PushResult, error) {
	if err := ctx.Err(); err != nil {
		return PushResult{}, err
	}
	return PushResult{
		CheckoutRequestID: "demo_" + uuid.NewString(),
		Completed:         true,
		Description:       "Payment successful! Thank you for your purchase.",
	}, nil
}

// DeferredGateway accepts every prompt and leaves the outcome to the
// settlement callback, the way a real STK push behaves.
type DeferredGateway struct{}

func (DeferredGateway) Push(ctx context.Context, _ PushRequest) (PushResult, error) {
	if err := ctx.Err(); err != nil {
		return PushResult{}, err
	}
	return PushResult{
		CheckoutRequestID: "ws_CO_" + uuid.NewString(),
		Description:       "Success. Request accepted for processing",
	}, nil
}

// GuardedGateway bounds gateway calls with a timeout and a circuit breaker and
// reports every failure as domain.ErrTransient.
type GuardedGateway struct {
	next    Gateway
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[PushResult]
}

func NewGuardedGateway(next Gateway, timeout time.Duration) *GuardedGateway {
	cb := gobreaker.NewCircuitBreaker[PushResult](gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &GuardedGateway{next: next, timeout: timeout, cb: cb}
}

func (g *GuardedGateway) Push(ctx context.Context, req PushRequest) (PushResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res, err := g.cb.Execute(func() (PushResult, error) {
		return g.next.Push(ctx, req)
	})
	if err != nil {
		if errors.Is(err, domain.ErrTransient) {
			return PushResult{}, err
		}
		return PushResult{}, fmt.Errorf("%w: payment gateway: %w", domain.ErrTransient, err)
	}
	return res, nil
}
