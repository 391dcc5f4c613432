package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/pos-settlement/internal/catalog"
	"github.com/noah-isme/pos-settlement/internal/currency"
	"github.com/noah-isme/pos-settlement/internal/obs"
	"github.com/noah-isme/pos-settlement/internal/pricing"
)

// refTarget is what a Loader fills: a sale or a return session.
type refTarget interface {
	ApplyCurrencies(list []currency.Currency) error
	ApplyCatalog(ctx context.Context, products []pricing.Product) error
	ApplySpecialPrices(ctx context.Context, gen uint64, customerID string, rows []pricing.SpecialPriceRow) error
}

// Loader fetches reference data concurrently and applies each result as soon
// as it arrives. Arrival order does not matter: prices are re-derived once
// both the catalog and the customer's special prices are present.
type Loader struct {
	Source      catalog.Source
	WarehouseID string
	Logger      zerolog.Logger
}

// LoadSale loads currencies, the catalog and, when a customer is selected,
// that customer's special prices into a sale session. Currencies and the
// catalog are applied even if the cart was reset meanwhile; special prices
// that arrive after a reset are dropped and reported as ErrStaleGeneration.
func (l Loader) LoadSale(ctx context.Context, s *Session) error {
	customerID := ""
	if c := s.Customer(); c != nil {
		customerID = c.ID
	}
	return l.load(ctx, s, s.Generation(), customerID)
}

// LoadReturn fetches the original order, then the reference data needed to
// value the exchange basket for that order's customer.
func (l Loader) LoadReturn(ctx context.Context, r *ReturnSession, orders OrderSource, orderID string) (OriginalOrder, error) {
	order, gen, err := r.LoadOriginalOrder(ctx, orders, orderID)
	if err != nil {
		return OriginalOrder{}, err
	}
	customerID := ""
	if order.Customer != nil {
		customerID = order.Customer.ID
	}
	if err := l.load(ctx, r, gen, customerID); err != nil {
		return OriginalOrder{}, err
	}
	return order, nil
}

// LoadSpecialPrices fetches the special prices of the currently selected
// customer after a customer switch.
func (l Loader) LoadSpecialPrices(ctx context.Context, s *Session) error {
	c := s.Customer()
	if c == nil || c.ID == "" {
		return nil
	}
	gen := s.Generation()
	rows, err := l.Source.FetchSpecialPrices(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("load special prices: %w", err)
	}
	return s.ApplySpecialPrices(ctx, gen, c.ID, rows)
}

func (l Loader) load(ctx context.Context, t refTarget, gen uint64, customerID string) error {
	if l.Source == nil {
		return errors.New("checkout: reference data source not configured")
	}
	logger := obs.LoggerFor(ctx, l.Logger)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := l.Source.FetchCurrencies(gctx)
		if err != nil {
			return fmt.Errorf("load currencies: %w", err)
		}
		return t.ApplyCurrencies(list)
	})
	g.Go(func() error {
		products, err := l.Source.FetchProducts(gctx, l.WarehouseID)
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		return t.ApplyCatalog(gctx, products)
	})
	if customerID != "" {
		g.Go(func() error {
			rows, err := l.Source.FetchSpecialPrices(gctx, customerID)
			if err != nil {
				return fmt.Errorf("load special prices: %w", err)
			}
			return t.ApplySpecialPrices(gctx, gen, customerID, rows)
		})
	}
	err := g.Wait()
	evt := logger.Info()
	if err != nil {
		evt = logger.Warn().Err(err)
	}
	evt.Uint64("generation", gen).Str("customer_id", customerID).
		Dur("elapsed", time.Since(start)).Msg("reference_data_loaded")
	return err
}
