package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/pos-settlement/internal/currency"
	"github.com/noah-isme/pos-settlement/internal/obs"
	"github.com/noah-isme/pos-settlement/internal/pricing"
)

// Source provides the reference data a checkout session prices against.
type Source interface {
	FetchCurrencies(ctx context.Context) ([]currency.Currency, error)
	FetchProducts(ctx context.Context, warehouseID string) ([]pricing.Product, error)
	FetchSpecialPrices(ctx context.Context, customerID string) ([]pricing.SpecialPriceRow, error)
}

// CachedSource serves reference data from Redis and falls through to the
// wrapped source on a miss. Cache failures are logged and never fail a load.
type CachedSource struct {
	Source Source
	Cache  *Cache
	Logger zerolog.Logger
	// WarehouseID scopes currency and special price keys.
	WarehouseID string
}

// FetchCurrencies returns the currency list.
func (s CachedSource) FetchCurrencies(ctx context.Context) ([]currency.Currency, error) {
	return cached(ctx, s, KeyCurrencies(s.WarehouseID), func() ([]currency.Currency, error) {
		return s.Source.FetchCurrencies(ctx)
	})
}

// FetchProducts returns the product catalog of a warehouse.
func (s CachedSource) FetchProducts(ctx context.Context, warehouseID string) ([]pricing.Product, error) {
	return cached(ctx, s, KeyProducts(warehouseID), func() ([]pricing.Product, error) {
		return s.Source.FetchProducts(ctx, warehouseID)
	})
}

// FetchSpecialPrices returns a customer's special price rows.
func (s CachedSource) FetchSpecialPrices(ctx context.Context, customerID string) ([]pricing.SpecialPriceRow, error) {
	return cached(ctx, s, KeySpecialPrices(s.WarehouseID, customerID), func() ([]pricing.SpecialPriceRow, error) {
		return s.Source.FetchSpecialPrices(ctx, customerID)
	})
}

// ForgetSpecialPrices drops a customer's cached special prices after one of
// them changed.
func (s CachedSource) ForgetSpecialPrices(ctx context.Context, customerID string) error {
	return s.Cache.Invalidate(ctx, KeySpecialPrices(s.WarehouseID, customerID))
}

func cached[T any](ctx context.Context, s CachedSource, key string, load func() ([]T, error)) ([]T, error) {
	logger := obs.LoggerFor(ctx, s.Logger)
	var out []T
	hit, err := s.Cache.GetJSON(ctx, key, &out)
	if err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("refdata_cache_read_failed")
	} else if hit {
		logger.Debug().Str("key", key).Msg("refdata_cache_hit")
		return out, nil
	}
	if s.Source == nil {
		return nil, fmt.Errorf("catalog: no source for %s", key)
	}
	out, err = load()
	if err != nil {
		return nil, err
	}
	if err := s.Cache.SetJSON(ctx, key, out); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("refdata_cache_write_failed")
	}
	return out, nil
}

// Catalog indexes the products a session can sell.
type Catalog struct {
	products map[string]pricing.Product
	order    []string
}

// New validates products and indexes them by id. Later duplicates win.
func New(products []pricing.Product) (*Catalog, error) {
	c := &Catalog{products: make(map[string]pricing.Product, len(products))}
	for _, p := range products {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		id := strings.TrimSpace(p.ID)
		if _, seen := c.products[id]; !seen {
			c.order = append(c.order, id)
		}
		p.ID = id
		c.products[id] = p
	}
	return c, nil
}

// Product looks a product up by id.
func (c *Catalog) Product(id string) (pricing.Product, error) {
	if c != nil {
		if p, ok := c.products[strings.TrimSpace(id)]; ok {
			return p, nil
		}
	}
	return pricing.Product{}, fmt.Errorf("%w: %s", pricing.ErrProductNotFound, id)
}

// Products returns the products in load order.
func (c *Catalog) Products() []pricing.Product {
	if c == nil {
		return nil
	}
	out := make([]pricing.Product, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.products[id])
	}
	return out
}

// Len returns the number of products.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.products)
}
