package checkout

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/pos-settlement/internal/cart"
	"github.com/noah-isme/pos-settlement/internal/catalog"
	"github.com/noah-isme/pos-settlement/internal/currency"
	"github.com/noah-isme/pos-settlement/internal/pricing"
)

// refData is the reference data a session prices against. Each field is
// replaced wholesale when a fresh load arrives.
type refData struct {
	table    *currency.Table
	catalog  *catalog.Catalog
	book     *pricing.Book
	customer *pricing.Customer
	// specialsFor is the customer whose special prices are in book.
	specialsFor string
}

func newRefData() refData {
	return refData{book: pricing.NewBook()}
}

func (r *refData) setCurrencies(list []currency.Currency, logger zerolog.Logger) error {
	tbl, err := currency.NewTable(list, currency.WithLogger(logger))
	if err != nil {
		return err
	}
	r.table = tbl
	return nil
}

func (r *refData) setCatalog(products []pricing.Product) error {
	c, err := catalog.New(products)
	if err != nil {
		return err
	}
	r.catalog = c
	return nil
}

func (r *refData) setSpecialPrices(customerID string, rows []pricing.SpecialPriceRow) {
	r.book = pricing.NewBook(rows...)
	r.specialsFor = strings.TrimSpace(customerID)
}

// pricesReady reports whether every input of the price resolver is present:
// the catalog, and the special prices of the selected customer if any.
func (r *refData) pricesReady() bool {
	if r.catalog == nil {
		return false
	}
	if r.customer == nil || r.customer.ID == "" {
		return true
	}
	return r.specialsFor == r.customer.ID
}

func (r *refData) resolver() pricing.Resolver {
	book := r.book
	if r.customer == nil || r.specialsFor != r.customer.ID {
		// specials of another customer must never leak into this sale
		book = nil
	}
	return pricing.Resolver{Book: book}
}

func (r *refData) resolve(productID string, unit pricing.UnitType) (pricing.Product, pricing.Resolution, error) {
	if r.catalog == nil {
		return pricing.Product{}, pricing.Resolution{}, fmt.Errorf("%w: catalog", ErrReferenceDataPending)
	}
	p, err := r.catalog.Product(productID)
	if err != nil {
		return pricing.Product{}, pricing.Resolution{}, err
	}
	res, err := r.resolver().Resolve(p, unit, r.customer)
	if err != nil {
		return pricing.Product{}, pricing.Resolution{}, err
	}
	return p, res, nil
}

func (r *refData) requireTable() (*currency.Table, error) {
	if r.table == nil {
		return nil, fmt.Errorf("%w: currencies", ErrReferenceDataPending)
	}
	return r.table, nil
}

// repriceAgainst prices every line of c from ref. c itself is not modified.
func repriceAgainst(c *cart.Cart, ref *refData) (*cart.Cart, []cart.Change, error) {
	return c.Repriced(func(l cart.Line) (pricing.Resolution, error) {
		_, res, err := ref.resolve(l.ProductID, l.UnitType)
		return res, err
	})
}
