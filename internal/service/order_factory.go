package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fjod/go_cart/settlement-service/internal/catalog"
	"github.com/fjod/go_cart/settlement-service/internal/domain"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const maxConcurrentLookups = 8

// lineRemover drops cart lines whose product has disappeared.
type lineRemover interface {
	RemoveItem(ctx context.Context, userID, productID string) (*domain.Cart, error)
}

type OrderFactory struct {
	catalog catalog.Lookup
	carts   lineRemover
	log     *slog.Logger
}

func NewOrderFactory(lookup catalog.Lookup, carts lineRemover, log *slog.Logger) *OrderFactory {
	return &OrderFactory{
		catalog: lookup,
		carts:   carts,
		log:     log.With("component", "order_factory"),
	}
}

// CreateOrder snapshots the cart into a pending, unsaved order.
//
// Lines whose product no longer resolves are left out. When that leaves
// nothing, those lines are removed from the cart as well and
// domain.ErrCartCleared is returned. A catalog failure aborts with
// domain.ErrTransient before anything is written.
func (f *OrderFactory) CreateOrder(ctx context.Context, cart *domain.Cart, method domain.PaymentMethod) (*domain.Order, error) {
	if cart.IsEmpty() {
		return nil, domain.ErrEmptyCart
	}

	resolved := make([]*catalog.Product, len(cart.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)
	for i, line := range cart.Items {
		g.Go(func() error {
			p, err := f.catalog.Resolve(gctx, line.ProductID)
			if errors.Is(err, catalog.ErrProductNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			resolved[i] = &p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		f.log.WarnContext(ctx, "catalog lookup failed", "user_id", cart.UserID, "error", err)
		if !errors.Is(err, domain.ErrTransient) {
			return nil, errors.Join(domain.ErrTransient, err)
		}
		return nil, err
	}

	items := make([]domain.OrderItem, 0, len(cart.Items))
	var stale []string
	for i, line := range cart.Items {
		p := resolved[i]
		if p == nil {
			stale = append(stale, line.ProductID)
			continue
		}
		// Cents only, so the stored total is exactly the sum of its lines.
		items = append(items, domain.OrderItem{
			ProductID: line.ProductID,
			Name:      p.Name,
			UnitPrice: p.Price.Round(2),
			Quantity:  line.Quantity,
		})
	}

	if len(items) == 0 {
		f.dropStaleLines(ctx, cart.UserID, stale)
		return nil, domain.ErrCartCleared
	}
	if len(stale) > 0 {
		f.log.InfoContext(ctx, "dropping unavailable products from order",
			"user_id", cart.UserID, "product_ids", stale)
	}

	total := domain.CalculateTotal(items)
	if !total.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	now := time.Now().UTC()
	return &domain.Order{
		ID:            uuid.New(),
		UserID:        cart.UserID,
		Items:         items,
		TotalAmount:   total,
		PaymentMethod: method,
		PaymentStatus: domain.PaymentStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (f *OrderFactory) dropStaleLines(ctx context.Context, userID string, productIDs []string) {
	for _, id := range productIDs {
		if _, err := f.carts.RemoveItem(ctx, userID, id); err != nil {
			f.log.ErrorContext(ctx, "failed to drop unavailable product from cart",
				"user_id", userID, "product_id", id, "error", err)
		}
	}
	f.log.InfoContext(ctx, "cart held only unavailable products, cleared",
		"user_id", userID, "product_ids", productIDs)
}
