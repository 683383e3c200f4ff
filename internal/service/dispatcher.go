package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/fjod/go_cart/settlement-service/internal/domain"
	"github.com/fjod/go_cart/settlement-service/internal/metrics"
	"github.com/fjod/go_cart/settlement-service/internal/payment"
	"github.com/fjod/go_cart/settlement-service/internal/repository"
)

// EventPublisher delivers order events to buyers and downstream consumers.
// Delivery is best effort; a failed publish never fails the operation that
// produced the event.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.OrderEvent) error
}

// CartStore is the slice of the cart service that checkout and settlement
// need.
type CartStore interface {
	Snapshot(ctx context.Context, userID string) (*domain.Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

type CheckoutResult struct {
	Order        *domain.Order
	Instructions payment.Instructions
}

type Dispatcher struct {
	carts   CartStore
	factory *OrderFactory
	orders  repository.OrderRepository
	methods payment.Methods
	events  EventPublisher
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewDispatcher(
	carts CartStore,
	factory *OrderFactory,
	orders repository.OrderRepository,
	methods payment.Methods,
	events EventPublisher,
	log *slog.Logger,
	m *metrics.Metrics,
) *Dispatcher {
	return &Dispatcher{
		carts:   carts,
		factory: factory,
		orders:  orders,
		methods: methods,
		events:  events,
		log:     log.With("component", "dispatcher"),
		metrics: m,
	}
}

// Checkout turns the buyer's cart into an order and starts its payment.
//
// Input is validated before anything is written. On success exactly one order
// has been stored and the cart has been cleared once. The order is stored
// pending unless the method settled it immediately; a pending mobile money
// order is finished later by the Reconciler.
func (d *Dispatcher) Checkout(ctx context.Context, userID string, req payment.Request) (*CheckoutResult, error) {
	start := time.Now()
	res, err := d.checkout(ctx, userID, req)

	outcome := "error"
	if err == nil {
		outcome = res.Order.PaymentStatus.String()
	}
	d.metrics.Checkout(methodLabel(req.Method), outcome, time.Since(start).Seconds())
	return res, err
}

// methodLabel keeps buyer input out of metric label values.
func methodLabel(method string) string {
	switch m := domain.PaymentMethod(method); m {
	case domain.PaymentMethodMobileMoney, domain.PaymentMethodPayPal, domain.PaymentMethodBankTransfer:
		return string(m)
	default:
		return "unknown"
	}
}

func (d *Dispatcher) checkout(ctx context.Context, userID string, req payment.Request) (*CheckoutResult, error) {
	method, err := d.methods.Parse(req)
	if err != nil {
		return nil, err
	}

	cart, err := d.carts.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	order, err := d.factory.CreateOrder(ctx, cart, method.Kind())
	if err != nil {
		return nil, err
	}

	outcome, err := method.Settle(ctx, order)
	if err != nil {
		d.log.WarnContext(ctx, "payment settle failed",
			"order_id", order.ID, "method", method.Kind(), "error", err)
		return nil, err
	}
	applyOutcome(order, outcome)

	if err := d.orders.CreateOrder(ctx, order); err != nil {
		d.log.ErrorContext(ctx, "failed to persist order", "order_id", order.ID, "error", err)
		return nil, err
	}
	d.log.InfoContext(ctx, "order placed",
		"order_id", order.ID,
		"user_id", userID,
		"method", order.PaymentMethod,
		"status", order.PaymentStatus,
		"external_ref", order.ExternalRef,
		"total", order.TotalAmount.StringFixed(2))

	// The order exists now; a cart that fails to clear is stale, not wrong.
	if err := d.carts.ClearCart(context.WithoutCancel(ctx), userID); err != nil {
		d.log.ErrorContext(ctx, "failed to clear cart after checkout", "order_id", order.ID, "error", err)
	}

	d.publish(ctx, domain.NewOrderEvent(domain.EventOrderPlaced, order))

	return &CheckoutResult{Order: order, Instructions: outcome.Instructions}, nil
}

func applyOutcome(order *domain.Order, out payment.Outcome) {
	order.PaymentStatus = out.Status
	order.ExternalRef = out.ExternalRef
	order.PaymentReference = out.PaymentReference
	if out.Status.IsTerminal() {
		settled := order.CreatedAt
		order.SettledAt = &settled
		order.ResultDetail = out.Instructions.Message
	}
}

func (d *Dispatcher) publish(ctx context.Context, event domain.OrderEvent) {
	if d.events == nil {
		return
	}
	if err := d.events.Publish(context.WithoutCancel(ctx), event); err != nil {
		d.log.WarnContext(ctx, "failed to publish order event",
			"order_id", event.OrderID, "type", event.Type, "error", err)
	}
}
