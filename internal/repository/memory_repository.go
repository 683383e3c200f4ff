package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_cart/settlement-service/internal/domain"
	"github.com/google/uuid"
)

// MemoryCartRepository keeps carts in process. One mutex serializes all
// mutations, which gives the same per-buyer atomicity as the Mongo updates.
type MemoryCartRepository struct {
	mu    sync.Mutex
	carts map[string]*domain.Cart
}

func NewMemoryCartRepository() *MemoryCartRepository {
	return &MemoryCartRepository{carts: make(map[string]*domain.Cart)}
}

func (r *MemoryCartRepository) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.carts[userID]
	if !ok {
		return nil, ErrCartNotFound
	}
	return copyCart(cart), nil
}

func (r *MemoryCartRepository) AddItem(_ context.Context, userID, productID string, quantity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	cart, ok := r.carts[userID]
	if !ok {
		cart = &domain.Cart{UserID: userID, CreatedAt: now}
		r.carts[userID] = cart
	}
	cart.UpdatedAt = now

	for i := range cart.Items {
		if cart.Items[i].ProductID == productID {
			cart.Items[i].Quantity += quantity
			return nil
		}
	}
	cart.Items = append(cart.Items, domain.CartItem{ProductID: productID, Quantity: quantity, AddedAt: now})
	return nil
}

func (r *MemoryCartRepository) SetItemQuantity(ctx context.Context, userID, productID string, quantity int) error {
	if quantity == 0 {
		return r.RemoveItem(ctx, userID, productID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.carts[userID]
	if !ok {
		return domain.ErrItemNotFound
	}
	for i := range cart.Items {
		if cart.Items[i].ProductID == productID {
			cart.Items[i].Quantity = quantity
			cart.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return domain.ErrItemNotFound
}

func (r *MemoryCartRepository) RemoveItem(_ context.Context, userID, productID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.carts[userID]
	if !ok {
		return nil
	}
	kept := cart.Items[:0]
	for _, item := range cart.Items {
		if item.ProductID != productID {
			kept = append(kept, item)
		}
	}
	cart.Items = kept
	cart.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryCartRepository) ClearCart(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cart, ok := r.carts[userID]; ok {
		cart.Items = []domain.CartItem{}
		cart.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func copyCart(c *domain.Cart) *domain.Cart {
	cp := *c
	cp.Items = append([]domain.CartItem(nil), c.Items...)
	return &cp
}

// MemoryOrderRepository mirrors the Postgres repository semantics, including
// the unique external reference and the conditional settle.
type MemoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]*domain.Order
	byRef  map[string]uuid.UUID
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{
		orders: make(map[uuid.UUID]*domain.Order),
		byRef:  make(map[string]uuid.UUID),
	}
}

func (r *MemoryOrderRepository) CreateOrder(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[order.ID]; ok {
		return ErrDuplicateOrder
	}
	if order.ExternalRef != "" {
		if _, ok := r.byRef[order.ExternalRef]; ok {
			return ErrDuplicateOrder
		}
		r.byRef[order.ExternalRef] = order.ID
	}
	r.orders[order.ID] = copyOrder(order)
	return nil
}

func (r *MemoryOrderRepository) GetOrderByID(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return copyOrder(order), nil
}

func (r *MemoryOrderRepository) GetOrderByExternalRef(_ context.Context, ref string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byRef[ref]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return copyOrder(r.orders[id]), nil
}

func (r *MemoryOrderRepository) ListOrdersByUserID(_ context.Context, userID string) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var orders []*domain.Order
	for _, order := range r.orders {
		if order.UserID == userID {
			orders = append(orders, copyOrder(order))
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

func (r *MemoryOrderRepository) SettleOrder(_ context.Context, ref string, status domain.PaymentStatus, detail string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byRef[ref]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	order := r.orders[id]
	if order.PaymentStatus != domain.PaymentStatusPending {
		return nil, ErrOrderNotPending
	}

	now := time.Now().UTC()
	order.PaymentStatus = status
	order.ResultDetail = detail
	order.UpdatedAt = now
	order.SettledAt = &now
	return copyOrder(order), nil
}

func copyOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Items = append([]domain.OrderItem(nil), o.Items...)
	if o.SettledAt != nil {
		t := *o.SettledAt
		cp.SettledAt = &t
	}
	return &cp
}
