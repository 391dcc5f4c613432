package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Resolution is the effective unit price for a product unit.
type Resolution struct {
	Price     decimal.Decimal
	IsSpecial bool
	Currency  string
}

// Resolver picks the effective unit price. It is a pure function of its inputs
// and the special price book.
type Resolver struct {
	Book *Book
}

// Resolve returns the price for product in unit for customer. A special price
// wins over customer type; otherwise wholesale customers get the wholesale
// pair and everyone else the retail pair.
func (r Resolver) Resolve(p Product, unit UnitType, c *Customer) (Resolution, error) {
	if !p.Supports(unit) {
		return Resolution{}, fmt.Errorf("%w: %s for product %s", ErrInvalidUnit, unit, p.ID)
	}
	if c != nil && c.ID != "" {
		if special, ok := r.Book.Lookup(c.ID, p.ID, unit); ok {
			return Resolution{Price: special, IsSpecial: true, Currency: p.Currency}, nil
		}
	}
	wholesale := c.IsWholesale()
	var price decimal.Decimal
	switch {
	case unit == UnitBox && wholesale:
		price = p.BoxWholesalePrice
	case unit == UnitBox:
		price = p.BoxRetailPrice
	case wholesale:
		price = p.WholesalePrice
	default:
		price = p.RetailPrice
	}
	return Resolution{Price: price, Currency: p.Currency}, nil
}

// FloorAtCost clamps an interactively entered price so it never drops below
// the unit's cost price. Entering exactly the cost is allowed; a literal zero
// is floored like any other value. The second result reports whether the
// entered price was raised.
func FloorAtCost(p Product, unit UnitType, entered decimal.Decimal) (decimal.Decimal, bool, error) {
	cost, err := p.Cost(unit)
	if err != nil {
		return decimal.Zero, false, err
	}
	if entered.LessThan(cost) {
		return cost, true, nil
	}
	return entered, false, nil
}
