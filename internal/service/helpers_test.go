package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fjod/go_cart/settlement-service/internal/cache"
	"github.com/fjod/go_cart/settlement-service/internal/catalog"
	"github.com/fjod/go_cart/settlement-service/internal/domain"
	"github.com/fjod/go_cart/settlement-service/internal/logger"
	"github.com/fjod/go_cart/settlement-service/internal/payment"
	"github.com/fjod/go_cart/settlement-service/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type mockCache struct {
	m        sync.RWMutex
	carts    map[string]*domain.Cart
	versions map[string]int64
	getErr   error
	gets     int
	sets     int
	deletes  int
}

func newMockCache() *mockCache {
	return &mockCache{
		carts:    make(map[string]*domain.Cart),
		versions: make(map[string]int64),
	}
}

func (c *mockCache) Get(_ context.Context, userID string) (*domain.Cart, error) {
	c.m.Lock()
	defer c.m.Unlock()
	c.gets++
	if c.getErr != nil {
		return nil, c.getErr
	}
	cart, ok := c.carts[userID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return cart, nil
}

func (c *mockCache) Version(_ context.Context, userID string) (int64, error) {
	c.m.RLock()
	defer c.m.RUnlock()
	return c.versions[userID], nil
}

func (c *mockCache) Set(_ context.Context, userID string, cart *domain.Cart, version int64) error {
	c.m.Lock()
	defer c.m.Unlock()
	if c.versions[userID] != version {
		return nil
	}
	c.sets++
	c.carts[userID] = cart
	return nil
}

func (c *mockCache) Delete(_ context.Context, userID string) error {
	c.m.Lock()
	defer c.m.Unlock()
	c.deletes++
	c.versions[userID]++
	delete(c.carts, userID)
	return nil
}

func (c *mockCache) counts() (gets, sets, deletes int) {
	c.m.RLock()
	defer c.m.RUnlock()
	return c.gets, c.sets, c.deletes
}

// failingCartRepo wraps a working repository and fails selected operations.
type failingCartRepo struct {
	repository.CartRepository
	getErr   error
	clearErr error
}

func (r *failingCartRepo) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.CartRepository.GetCart(ctx, userID)
}

func (r *failingCartRepo) ClearCart(ctx context.Context, userID string) error {
	if r.clearErr != nil {
		return r.clearErr
	}
	return r.CartRepository.ClearCart(ctx, userID)
}

type failingOrderRepo struct {
	repository.OrderRepository
	createErr error
	lookupErr error
}

func (r *failingOrderRepo) CreateOrder(ctx context.Context, o *domain.Order) error {
	if r.createErr != nil {
		return r.createErr
	}
	return r.OrderRepository.CreateOrder(ctx, o)
}

func (r *failingOrderRepo) GetOrderByExternalRef(ctx context.Context, ref string) (*domain.Order, error) {
	if r.lookupErr != nil {
		return nil, r.lookupErr
	}
	return r.OrderRepository.GetOrderByExternalRef(ctx, ref)
}

type recordingPublisher struct {
	m      sync.Mutex
	events []domain.OrderEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.OrderEvent) error {
	p.m.Lock()
	defer p.m.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Events() []domain.OrderEvent {
	p.m.Lock()
	defer p.m.Unlock()
	return append([]domain.OrderEvent(nil), p.events...)
}

type recordingGateway struct {
	m     sync.Mutex
	next  payment.Gateway
	calls []payment.PushRequest
}

func (g *recordingGateway) Push(ctx context.Context, req payment.PushRequest) (payment.PushResult, error) {
	g.m.Lock()
	g.calls = append(g.calls, req)
	g.m.Unlock()
	return g.next.Push(ctx, req)
}

type slowLookup struct{}

func (slowLookup) Resolve(ctx context.Context, _ string) (catalog.Product, error) {
	<-ctx.Done()
	return catalog.Product{}, ctx.Err()
}

// fixture wires the services over in-memory stores.
type fixture struct {
	cartRepo   repository.CartRepository
	orderRepo  repository.OrderRepository
	catalog    *catalog.MemoryCatalog
	lookup     catalog.Lookup
	carts      *CartService
	factory    *OrderFactory
	dispatcher *Dispatcher
	reconciler *Reconciler
	orders     *OrderService
	events     *recordingPublisher
	gateway    *recordingGateway
}

type fixtureOption func(*fixture)

func withCartRepo(wrap func(repository.CartRepository) repository.CartRepository) fixtureOption {
	return func(f *fixture) { f.cartRepo = wrap(f.cartRepo) }
}

func withOrderRepo(wrap func(repository.OrderRepository) repository.OrderRepository) fixtureOption {
	return func(f *fixture) { f.orderRepo = wrap(f.orderRepo) }
}

func withGateway(gw payment.Gateway) fixtureOption {
	return func(f *fixture) { f.gateway.next = gw }
}

func withLookup(l catalog.Lookup) fixtureOption {
	return func(f *fixture) { f.lookup = l }
}

func newFixture(opts ...fixtureOption) *fixture {
	f := &fixture{
		cartRepo:  repository.NewMemoryCartRepository(),
		orderRepo: repository.NewMemoryOrderRepository(),
		catalog: catalog.NewMemoryCatalog(
			catalog.Product{ID: "product-a", Name: "Product A", Price: decimal.RequireFromString("10.00")},
			catalog.Product{ID: "product-b", Name: "Product B", Price: decimal.RequireFromString("2.50")},
			catalog.Product{ID: "freebie", Name: "Free Sample", Price: decimal.Zero},
		),
		events:  &recordingPublisher{},
		gateway: &recordingGateway{next: payment.DemoGateway{}},
	}

	for _, opt := range opts {
		opt(f)
	}
	if f.lookup == nil {
		f.lookup = catalog.NewGuardedLookup(f.catalog, time.Second)
	}

	log := logger.Discard()
	f.carts = NewCartService(f.cartRepo, newMockCache(), log, nil)
	f.factory = NewOrderFactory(f.lookup, f.carts, log)

	methods := payment.Methods{
		Gateway: f.gateway,
		Bank: payment.BankDetails{
			BankName:      "Equity Bank",
			AccountName:   "E-commerce Web App Inc.",
			AccountNumber: "123-456-789012",
		},
		ReceiptEmail:      "payments@example.com",
		PayPalCheckoutURL: "https://www.sandbox.paypal.com/checkoutnow",
	}
	f.dispatcher = NewDispatcher(f.carts, f.factory, f.orderRepo, methods, f.events, log, nil)
	f.reconciler = NewReconciler(f.orderRepo, f.carts, f.events, log, nil)
	f.orders = NewOrderService(f.orderRepo)
	return f
}

func (f *fixture) seedCart(userID string, lines map[string]int) {
	for productID, qty := range lines {
		if err := f.cartRepo.AddItem(context.Background(), userID, productID, qty); err != nil {
			panic(err)
		}
	}
}

func (f *fixture) cart(userID string) *domain.Cart {
	cart, err := f.carts.Snapshot(context.Background(), userID)
	if err != nil {
		panic(err)
	}
	return cart
}

func (f *fixture) ordersOf(userID string) []*domain.Order {
	orders, err := f.orderRepo.ListOrdersByUserID(context.Background(), userID)
	if err != nil {
		panic(err)
	}
	return orders
}

// pendingOrder stores a pending mobile money order as the deferred gateway
// would leave it.
func (f *fixture) pendingOrder(userID, ref string) *domain.Order {
	now := time.Now().UTC()
	order := &domain.Order{
		ID:            uuid.New(),
		UserID:        userID,
		Items:         []domain.OrderItem{{ProductID: "product-a", Name: "Product A", UnitPrice: decimal.NewFromInt(10), Quantity: 1}},
		TotalAmount:   decimal.NewFromInt(10),
		PaymentMethod: domain.PaymentMethodMobileMoney,
		PaymentStatus: domain.PaymentStatusPending,
		ExternalRef:   ref,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := f.orderRepo.CreateOrder(context.Background(), order); err != nil {
		panic(err)
	}
	return order
}

var errBoom = errors.New("boom")

type failingGateway struct{}

func (failingGateway) Push(context.Context, payment.PushRequest) (payment.PushResult, error) {
	return payment.PushResult{}, errBoom
}

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
