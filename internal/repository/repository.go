package repository

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/settlement-service/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrCartNotFound = errors.New("cart not found")
	// ErrOrderNotPending is returned by SettleOrder when the order has already
	// reached a terminal status.
	ErrOrderNotPending = errors.New("order is not pending")
	ErrDuplicateOrder  = errors.New("order already exists")
)

// CartRepository is the per-buyer cart store. Every method is a single atomic
// line-level write; none of them replaces the whole document.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	AddItem(ctx context.Context, userID, productID string, quantity int) error
	SetItemQuantity(ctx context.Context, userID, productID string, quantity int) error
	RemoveItem(ctx context.Context, userID, productID string) error
	ClearCart(ctx context.Context, userID string) error
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByExternalRef(ctx context.Context, ref string) (*domain.Order, error)
	ListOrdersByUserID(ctx context.Context, userID string) ([]*domain.Order, error)
	// SettleOrder moves a pending order to a terminal status. It is a single
	// conditional write, so of two concurrent calls for the same ref only one
	// succeeds; the other gets ErrOrderNotPending.
	SettleOrder(ctx context.Context, ref string, status domain.PaymentStatus, detail string) (*domain.Order, error)
}
