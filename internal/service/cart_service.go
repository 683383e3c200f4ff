package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fjod/go_cart/settlement-service/internal/cache"
	"github.com/fjod/go_cart/settlement-service/internal/domain"
	"github.com/fjod/go_cart/settlement-service/internal/metrics"
	"github.com/fjod/go_cart/settlement-service/internal/repository"
	"golang.org/x/sync/singleflight"
)

type CartService struct {
	repo    repository.CartRepository
	cache   cache.CartCache
	sfg     singleflight.Group // Prevents cache stampede
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewCartService(repo repository.CartRepository, c cache.CartCache, log *slog.Logger, m *metrics.Metrics) *CartService {
	if c == nil {
		c = cache.NoopCache{}
	}
	return &CartService{
		repo:    repo,
		cache:   c,
		log:     log.With("component", "cart"),
		metrics: m,
	}
}

// GetCart returns the buyer's cart, or an empty one when none exists yet.
func (s *CartService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.WarnContext(ctx, "cache get failed", "user_id", userID, "error", err)
		}

		// The version must be taken before the store read; see cache.CartCache.
		version, verErr := s.cache.Version(ctx, userID)
		if verErr != nil {
			s.log.WarnContext(ctx, "cache version failed", "user_id", userID, "error", verErr)
		}

		cart, err = s.Snapshot(ctx, userID)
		if err != nil {
			return nil, err
		}
		if verErr != nil {
			return cart, nil
		}

		setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := s.cache.Set(setCtx, userID, cart, version); err != nil {
			s.log.WarnContext(ctx, "cache set failed", "user_id", userID, "error", err)
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*domain.Cart), nil
}

// Snapshot reads the cart straight from the store, skipping the cache.
// Checkout uses it so an order is never built from a stale cached copy.
func (s *CartService) Snapshot(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := s.repo.GetCart(ctx, userID)
	if errors.Is(err, repository.ErrCartNotFound) {
		now := time.Now().UTC()
		return &domain.Cart{
			UserID:    userID,
			Items:     []domain.CartItem{},
			CreatedAt: now,
			UpdatedAt: now,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	return cart, nil
}

// AddItem adds quantity to the line, creating it when absent. The product is
// not checked against the catalog here; stale products are dropped at
// checkout.
func (s *CartService) AddItem(ctx context.Context, userID, productID string, quantity int) (*domain.Cart, error) {
	productID = strings.TrimSpace(productID)
	if err := validateLine(productID, quantity); err != nil {
		return nil, err
	}

	err := s.repo.AddItem(ctx, userID, productID, quantity)
	return s.afterMutation(ctx, "add", userID, err)
}

// UpdateQuantity sets the line's quantity. Zero removes the line; a missing
// line with a positive quantity is domain.ErrItemNotFound.
func (s *CartService) UpdateQuantity(ctx context.Context, userID, productID string, quantity int) (*domain.Cart, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, domain.ErrInvalidProductID
	}
	if quantity < 0 {
		return nil, domain.ErrInvalidQuantity
	}

	err := s.repo.SetItemQuantity(ctx, userID, productID, quantity)
	return s.afterMutation(ctx, "update", userID, err)
}

// RemoveItem is idempotent.
func (s *CartService) RemoveItem(ctx context.Context, userID, productID string) (*domain.Cart, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, domain.ErrInvalidProductID
	}

	err := s.repo.RemoveItem(ctx, userID, productID)
	return s.afterMutation(ctx, "remove", userID, err)
}

// Merge folds a cart the client kept before login into the stored cart.
// Quantities add up, so callers must merge a given client cart only once.
// All lines are validated before anything is written.
func (s *CartService) Merge(ctx context.Context, userID string, items []domain.CartItem) (*domain.Cart, error) {
	for i := range items {
		items[i].ProductID = strings.TrimSpace(items[i].ProductID)
		if err := validateLine(items[i].ProductID, items[i].Quantity); err != nil {
			return nil, fmt.Errorf("line %d: %w", i, err)
		}
	}

	var err error
	for _, item := range items {
		if err = s.repo.AddItem(ctx, userID, item.ProductID, item.Quantity); err != nil {
			break
		}
	}
	return s.afterMutation(ctx, "merge", userID, err)
}

func (s *CartService) ClearCart(ctx context.Context, userID string) error {
	err := s.repo.ClearCart(ctx, userID)
	s.metrics.CartMutation("clear", err)
	s.invalidateCache(ctx, userID)
	if err != nil {
		s.log.ErrorContext(ctx, "clear cart failed", "user_id", userID, "error", err)
		return err
	}
	return nil
}

func (s *CartService) afterMutation(ctx context.Context, op, userID string, err error) (*domain.Cart, error) {
	s.metrics.CartMutation(op, err)
	// a failed merge may have applied some lines, so invalidate either way
	s.invalidateCache(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrItemNotFound) {
			s.log.ErrorContext(ctx, "cart mutation failed", "op", op, "user_id", userID, "error", err)
		}
		return nil, err
	}
	return s.Snapshot(ctx, userID)
}

func (s *CartService) invalidateCache(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.WarnContext(ctx, "cache invalidate failed", "user_id", userID, "error", err)
	}
}

func validateLine(productID string, quantity int) error {
	if productID == "" {
		return domain.ErrInvalidProductID
	}
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	return nil
}
