package pricing

import (
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// SpecialPrice is a customer-specific override for one product unit.
type SpecialPrice struct {
	CustomerID string          `json:"customerId"`
	ProductID  string          `json:"productId"`
	UnitType   UnitType        `json:"unitType"`
	Price      decimal.Decimal `json:"specialPrice"`
}

// SpecialPriceRow mirrors the backend's per-product row, where piece and box
// overrides travel together and each is optional.
type SpecialPriceRow struct {
	CustomerID         string
	ProductID          string
	SpecialPrice       *decimal.Decimal
	HasSpecialPrice    bool
	BoxSpecialPrice    *decimal.Decimal
	HasBoxSpecialPrice bool
}

// Entries expands a row into its per-unit special prices.
func (r SpecialPriceRow) Entries() []SpecialPrice {
	out := make([]SpecialPrice, 0, 2)
	if r.HasSpecialPrice && r.SpecialPrice != nil {
		out = append(out, SpecialPrice{CustomerID: r.CustomerID, ProductID: r.ProductID, UnitType: UnitPiece, Price: *r.SpecialPrice})
	}
	if r.HasBoxSpecialPrice && r.BoxSpecialPrice != nil {
		out = append(out, SpecialPrice{CustomerID: r.CustomerID, ProductID: r.ProductID, UnitType: UnitBox, Price: *r.BoxSpecialPrice})
	}
	return out
}

type bookKey struct {
	customer string
	product  string
	unit     UnitType
}

func keyOf(customerID, productID string, unit UnitType) bookKey {
	return bookKey{customer: strings.TrimSpace(customerID), product: strings.TrimSpace(productID), unit: unit}
}

// Book holds special prices, unique on (customer, product, unit).
type Book struct {
	mu     sync.RWMutex
	prices map[bookKey]decimal.Decimal
}

// NewBook builds a book from rows. Later rows win on duplicate keys.
func NewBook(rows ...SpecialPriceRow) *Book {
	b := &Book{prices: make(map[bookKey]decimal.Decimal)}
	for _, row := range rows {
		for _, sp := range row.Entries() {
			b.prices[keyOf(sp.CustomerID, sp.ProductID, sp.UnitType)] = sp.Price
		}
	}
	return b
}

// Lookup returns the special price for the key, if any.
func (b *Book) Lookup(customerID, productID string, unit UnitType) (decimal.Decimal, bool) {
	if b == nil {
		return decimal.Zero, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	price, ok := b.prices[keyOf(customerID, productID, unit)]
	return price, ok
}

// Set creates or replaces a special price.
func (b *Book) Set(sp SpecialPrice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.prices == nil {
		b.prices = make(map[bookKey]decimal.Decimal)
	}
	b.prices[keyOf(sp.CustomerID, sp.ProductID, sp.UnitType)] = sp.Price
}

// Delete removes a special price. It reports whether one existed.
func (b *Book) Delete(customerID, productID string, unit UnitType) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := keyOf(customerID, productID, unit)
	if _, ok := b.prices[k]; !ok {
		return false
	}
	delete(b.prices, k)
	return true
}

// ForCustomer lists the customer's special prices ordered by product then unit.
func (b *Book) ForCustomer(customerID string) []SpecialPrice {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	customerID = strings.TrimSpace(customerID)
	var out []SpecialPrice
	for k, price := range b.prices {
		if k.customer != customerID {
			continue
		}
		out = append(out, SpecialPrice{CustomerID: k.customer, ProductID: k.product, UnitType: k.unit, Price: price})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].UnitType > out[j].UnitType
	})
	return out
}

// Len returns the number of stored special prices.
func (b *Book) Len() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.prices)
}
