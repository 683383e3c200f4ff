// Package catalog resolves product references against the product catalog.
// The catalog is owned elsewhere; this package only reads it.
package catalog

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

var ErrProductNotFound = errors.New("product not found")

type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
}

type Lookup interface {
	Resolve(ctx context.Context, productID string) (Product, error)
}

// MemoryCatalog is an in-process Lookup, used when no catalog database is
// configured and in tests.
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[string]Product
}

func NewMemoryCatalog(products ...Product) *MemoryCatalog {
	c := &MemoryCatalog{products: make(map[string]Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *MemoryCatalog) Resolve(ctx context.Context, productID string) (Product, error) {
	if err := ctx.Err(); err != nil {
		return Product{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[productID]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (c *MemoryCatalog) Put(p Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

func (c *MemoryCatalog) Delete(productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.products, productID)
}
