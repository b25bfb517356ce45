package catalog

import (
	"context"
	"errors"
	"sync"
)

var ErrProductNotFound = errors.New("product not found")

// Catalog is the read side of the product catalog the reservation engine consumes
type Catalog interface {
	// StockReal returns the recorded stock of a product
	StockReal(ctx context.Context, productID int64) (int, error)
}

// MemoryCatalog keeps stock levels in a map
type MemoryCatalog struct {
	mu     sync.RWMutex
	stocks map[int64]int
}

func NewMemoryCatalog(stocks map[int64]int) *MemoryCatalog {
	c := &MemoryCatalog{stocks: make(map[int64]int, len(stocks))}
	for id, qty := range stocks {
		c.stocks[id] = qty
	}
	return c
}

func (c *MemoryCatalog) StockReal(_ context.Context, productID int64) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	qty, ok := c.stocks[productID]
	if !ok {
		return 0, ErrProductNotFound
	}
	return qty, nil
}

// SetStock sets the stock level for a product
func (c *MemoryCatalog) SetStock(_ context.Context, productID int64, quantity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stocks[productID] = quantity
	return nil
}
