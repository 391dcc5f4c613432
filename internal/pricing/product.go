package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidUnit is returned when a price is requested for a unit the product does not sell in.
	ErrInvalidUnit = errors.New("pricing: unit not supported by product")
	// ErrProductNotFound indicates the product is missing from the loaded catalog.
	ErrProductNotFound = errors.New("pricing: product not found")
	// ErrInvalidProduct is returned when a product fails boundary validation.
	ErrInvalidProduct = errors.New("pricing: invalid product")
)

// UnitType selects between a product's base unit and its second (box) unit.
type UnitType string

const (
	UnitPiece UnitType = "piece"
	UnitBox   UnitType = "box"
)

// ParseUnitType accepts the wire spellings of a unit type. An empty value means piece.
func ParseUnitType(raw string) (UnitType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "piece", "base":
		return UnitPiece, nil
	case "box", "second":
		return UnitBox, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidUnit, raw)
	}
}

// Product is the price-relevant projection of a catalog product.
type Product struct {
	ID                string
	Name              string
	BaseUnit          string
	SecondUnit        string
	UnitsPerSecond    int
	RetailPrice       decimal.Decimal
	WholesalePrice    decimal.Decimal
	BoxRetailPrice    decimal.Decimal
	BoxWholesalePrice decimal.Decimal
	CostPrice         decimal.Decimal
	BoxCostPrice      decimal.Decimal
	Currency          string
}

// HasSecondUnit reports whether the product is also sold in a second unit.
func (p Product) HasSecondUnit() bool {
	return strings.TrimSpace(p.SecondUnit) != ""
}

// Supports reports whether the product can be priced in unit.
func (p Product) Supports(unit UnitType) bool {
	switch unit {
	case UnitPiece:
		return true
	case UnitBox:
		return p.HasSecondUnit()
	default:
		return false
	}
}

// UnitLabel returns the display unit name for unit.
func (p Product) UnitLabel(unit UnitType) string {
	if unit == UnitBox {
		return p.SecondUnit
	}
	return p.BaseUnit
}

// Cost returns the cost price for unit.
func (p Product) Cost(unit UnitType) (decimal.Decimal, error) {
	if !p.Supports(unit) {
		return decimal.Zero, fmt.Errorf("%w: %s for product %s", ErrInvalidUnit, unit, p.ID)
	}
	if unit == UnitBox {
		return p.BoxCostPrice, nil
	}
	return p.CostPrice, nil
}

// Validate checks the invariants the resolver relies on.
func (p Product) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidProduct)
	}
	prices := map[string]decimal.Decimal{
		"retailPrice":       p.RetailPrice,
		"wholesalePrice":    p.WholesalePrice,
		"boxRetailPrice":    p.BoxRetailPrice,
		"boxWholesalePrice": p.BoxWholesalePrice,
		"costPrice":         p.CostPrice,
		"boxCostPrice":      p.BoxCostPrice,
	}
	for name, v := range prices {
		if v.IsNegative() {
			return fmt.Errorf("%w: %s %s is negative for product %s", ErrInvalidProduct, name, v, p.ID)
		}
	}
	if p.HasSecondUnit() && p.UnitsPerSecond <= 0 {
		return fmt.Errorf("%w: unitsPerSecond must be positive for product %s", ErrInvalidProduct, p.ID)
	}
	return nil
}

// Customer is the pricing view of a customer.
type Customer struct {
	ID           string
	Name         string
	CustomerType string
}

// IsWholesale reports whether the customer buys at wholesale prices. A nil
// customer (walk-in sale) is retail.
func (c *Customer) IsWholesale() bool {
	return c != nil && strings.EqualFold(strings.TrimSpace(c.CustomerType), "wholesale")
}
