package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/settlement-service/internal/domain"
)

// CartCache is a read-through cache in front of the cart store. Every Delete
// moves the buyer's version forward, and Set only writes when the version it
// is given is still current. A reader takes the version before reading the
// store, so a cart read before an invalidation can never be written back
// after it.
type CartCache interface {
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	Version(ctx context.Context, userID string) (int64, error)
	Set(ctx context.Context, userID string, cart *domain.Cart, version int64) error
	Delete(ctx context.Context, userID string) error
}

var ErrCacheMiss = errors.New("cache miss")

// NoopCache never holds anything. It stands in when Redis is not configured.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (*domain.Cart, error) { return nil, ErrCacheMiss }

func (NoopCache) Version(context.Context, string) (int64, error) { return 0, nil }

func (NoopCache) Set(context.Context, string, *domain.Cart, int64) error { return nil }

func (NoopCache) Delete(context.Context, string) error { return nil }
