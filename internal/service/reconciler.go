package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fjod/go_cart/settlement-service/internal/domain"
	"github.com/fjod/go_cart/settlement-service/internal/metrics"
	"github.com/fjod/go_cart/settlement-service/internal/repository"
)

// ResultCodeSuccess is the provider's result code for a completed payment.
const ResultCodeSuccess = 0

// Callback is a settlement notification from the payment provider.
type Callback struct {
	ExternalRef  string
	ResultCode   int
	ResultDetail string
}

type ReconcileOutcome string

const (
	OutcomeCompleted    ReconcileOutcome = "completed"
	OutcomeFailed       ReconcileOutcome = "failed"
	OutcomeUnknownRef   ReconcileOutcome = "unknown_ref"
	OutcomeDuplicate    ReconcileOutcome = "duplicate"
	OutcomeInvalid      ReconcileOutcome = "invalid"
	OutcomeStorageError ReconcileOutcome = "storage_error"
)

// Reconciler applies settlement callbacks to stored orders. It talks to the
// Dispatcher only through the order store, so callbacks may arrive in any
// order, more than once, or before the order is written.
type Reconciler struct {
	orders  repository.OrderRepository
	carts   CartStore
	events  EventPublisher
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewReconciler(orders repository.OrderRepository, carts CartStore, events EventPublisher, log *slog.Logger, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		orders:  orders,
		carts:   carts,
		events:  events,
		log:     log.With("component", "reconciler"),
		metrics: m,
	}
}

// Reconcile never reports failure to its caller. Unknown references and
// already settled orders are logged and dropped; the first terminal status
// written wins.
func (r *Reconciler) Reconcile(ctx context.Context, cb Callback) ReconcileOutcome {
	outcome := r.reconcile(ctx, cb)
	r.metrics.Callback(string(outcome))
	return outcome
}

func (r *Reconciler) reconcile(ctx context.Context, cb Callback) ReconcileOutcome {
	log := r.log.With("external_ref", cb.ExternalRef, "result_code", cb.ResultCode)

	if cb.ExternalRef == "" {
		log.WarnContext(ctx, "callback without transaction reference, dropped")
		return OutcomeInvalid
	}

	order, err := r.orders.GetOrderByExternalRef(ctx, cb.ExternalRef)
	if errors.Is(err, domain.ErrOrderNotFound) {
		log.WarnContext(ctx, "no order for callback reference, dropped")
		return OutcomeUnknownRef
	}
	if err != nil {
		log.ErrorContext(ctx, "order lookup failed, callback dropped", "error", err)
		return OutcomeStorageError
	}
	if order.PaymentStatus.IsTerminal() {
		log.InfoContext(ctx, "order already settled, duplicate callback dropped",
			"order_id", order.ID, "status", order.PaymentStatus)
		return OutcomeDuplicate
	}

	status := domain.PaymentStatusFailed
	if cb.ResultCode == ResultCodeSuccess {
		status = domain.PaymentStatusCompleted
	}

	settled, err := r.orders.SettleOrder(ctx, cb.ExternalRef, status, cb.ResultDetail)
	if errors.Is(err, repository.ErrOrderNotPending) {
		log.InfoContext(ctx, "order settled concurrently, callback dropped", "order_id", order.ID)
		return OutcomeDuplicate
	}
	if err != nil {
		log.ErrorContext(ctx, "failed to settle order", "order_id", order.ID, "error", err)
		return OutcomeStorageError
	}

	log.InfoContext(ctx, "order settled",
		"order_id", settled.ID, "status", settled.PaymentStatus, "detail", cb.ResultDetail)

	if settled.PaymentStatus == domain.PaymentStatusCompleted {
		// Whatever the buyer added since checkout goes too.
		if err := r.carts.ClearCart(ctx, settled.UserID); err != nil {
			log.ErrorContext(ctx, "failed to clear cart after settlement", "order_id", settled.ID, "error", err)
		}
	}

	if r.events != nil {
		if err := r.events.Publish(ctx, domain.NewOrderEvent(domain.EventOrderSettled, settled)); err != nil {
			log.WarnContext(ctx, "failed to publish settlement event", "order_id", settled.ID, "error", err)
		}
	}

	if settled.PaymentStatus == domain.PaymentStatusCompleted {
		return OutcomeCompleted
	}
	return OutcomeFailed
}
