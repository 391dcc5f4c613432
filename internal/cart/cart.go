package cart

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-settlement/internal/currency"
	"github.com/noah-isme/pos-settlement/internal/pricing"
)

var (
	// ErrLineNotFound indicates the requested cart line does not exist.
	ErrLineNotFound = errors.New("cart: line not found")
	// ErrInvalidDiscount is returned for negative discounts.
	ErrInvalidDiscount = errors.New("cart: discount must not be negative")
	// ErrDiscountExceedsSubtotal is returned when a discount would make the line total negative.
	ErrDiscountExceedsSubtotal = errors.New("cart: discount exceeds line subtotal")
	// ErrInvalidPrice is returned for negative unit prices.
	ErrInvalidPrice = errors.New("cart: unit price must not be negative")
)

// Line is a single cart entry. Discount is an absolute amount, not a percent.
type Line struct {
	ID              string           `json:"id"`
	ProductID       string           `json:"productId"`
	VariantID       string           `json:"variantId,omitempty"`
	Name            string           `json:"name,omitempty"`
	UnitType        pricing.UnitType `json:"unitType"`
	UnitLabel       string           `json:"unitLabel,omitempty"`
	Quantity        int              `json:"quantity"`
	UnitPrice       decimal.Decimal  `json:"unitPrice"`
	Discount        decimal.Decimal  `json:"discount"`
	Currency        string           `json:"currency"`
	IsSpecial       bool             `json:"isSpecial"`
	PriceOverridden bool             `json:"priceOverridden"`
}

// Subtotal is quantity times unit price.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Total is the subtotal net of the line discount.
func (l Line) Total() decimal.Decimal {
	return l.Subtotal().Sub(l.Discount)
}

func (l Line) matches(productID, variantID string, unit pricing.UnitType) bool {
	return l.ProductID == productID && l.VariantID == variantID && l.UnitType == unit
}

// fitDiscount lowers the discount to the subtotal after a quantity or price
// change so the line total stays non-negative.
func (l *Line) fitDiscount() bool {
	subtotal := l.Subtotal()
	if l.Discount.GreaterThan(subtotal) {
		l.Discount = subtotal
		return true
	}
	return false
}

// Item describes a product unit being placed in the cart.
type Item struct {
	ProductID string
	VariantID string
	Name      string
	UnitType  pricing.UnitType
	UnitLabel string
	UnitPrice decimal.Decimal
	Currency  string
	IsSpecial bool
}

// Change reports side effects of a line mutation.
type Change struct {
	Line            Line
	Removed         bool
	Merged          bool
	DiscountClamped bool
}

// Cart holds the lines of one in-progress transaction. It is not safe for
// concurrent use; the checkout session serialises access and replaces the
// whole value on recomputation.
type Cart struct {
	lines []Line
	newID func() string
}

// New returns an empty cart.
func New() *Cart {
	return &Cart{newID: uuid.NewString}
}

// Clone returns an independent copy of the cart.
func (c *Cart) Clone() *Cart {
	out := &Cart{newID: c.idGen(), lines: make([]Line, len(c.lines))}
	copy(out.lines, c.lines)
	return out
}

func (c *Cart) idGen() func() string {
	if c.newID == nil {
		return uuid.NewString
	}
	return c.newID
}

// Add places qty units of item in the cart, merging into an existing line with
// the same product, variant and unit. A non-positive qty removes the matching
// line instead of failing.
func (c *Cart) Add(item Item, qty int) (Change, error) {
	if item.UnitPrice.IsNegative() {
		return Change{}, ErrInvalidPrice
	}
	item.Currency = currency.NormalizeCode(item.Currency)
	idx := c.find(item.ProductID, item.VariantID, item.UnitType)
	if qty <= 0 {
		if idx < 0 {
			return Change{}, nil
		}
		removed := c.lines[idx]
		c.removeAt(idx)
		return Change{Line: removed, Removed: true}, nil
	}
	if idx >= 0 {
		c.lines[idx].Quantity += qty
		return Change{Line: c.lines[idx], Merged: true}, nil
	}
	line := Line{
		ID:        c.idGen()(),
		ProductID: item.ProductID,
		VariantID: item.VariantID,
		Name:      item.Name,
		UnitType:  item.UnitType,
		UnitLabel: item.UnitLabel,
		Quantity:  qty,
		UnitPrice: item.UnitPrice,
		Discount:  decimal.Zero,
		Currency:  item.Currency,
		IsSpecial: item.IsSpecial,
	}
	c.lines = append(c.lines, line)
	return Change{Line: line}, nil
}

// UpdateQuantity sets the quantity of a line. Zero or less removes it. A
// discount larger than the new subtotal is lowered to the subtotal and
// reported through Change.DiscountClamped.
func (c *Cart) UpdateQuantity(lineID string, qty int) (Change, error) {
	idx := c.indexOf(lineID)
	if idx < 0 {
		return Change{}, fmt.Errorf("%w: %s", ErrLineNotFound, lineID)
	}
	if qty <= 0 {
		removed := c.lines[idx]
		c.removeAt(idx)
		return Change{Line: removed, Removed: true}, nil
	}
	c.lines[idx].Quantity = qty
	clamped := c.lines[idx].fitDiscount()
	return Change{Line: c.lines[idx], DiscountClamped: clamped}, nil
}

// UpdateDiscount sets the absolute discount of a line. Entries that would make
// the line total negative are rejected and the previous discount is kept.
func (c *Cart) UpdateDiscount(lineID string, discount decimal.Decimal) (Line, error) {
	idx := c.indexOf(lineID)
	if idx < 0 {
		return Line{}, fmt.Errorf("%w: %s", ErrLineNotFound, lineID)
	}
	if discount.IsNegative() {
		return c.lines[idx], ErrInvalidDiscount
	}
	if discount.GreaterThan(c.lines[idx].Subtotal()) {
		return c.lines[idx], fmt.Errorf("%w: %s > %s", ErrDiscountExceedsSubtotal, discount, c.lines[idx].Subtotal())
	}
	c.lines[idx].Discount = discount
	return c.lines[idx], nil
}

// SetPrice replaces the unit price of a line.
func (c *Cart) SetPrice(lineID string, price decimal.Decimal, isSpecial, overridden bool) (Change, error) {
	idx := c.indexOf(lineID)
	if idx < 0 {
		return Change{}, fmt.Errorf("%w: %s", ErrLineNotFound, lineID)
	}
	if price.IsNegative() {
		return Change{Line: c.lines[idx]}, ErrInvalidPrice
	}
	c.lines[idx].UnitPrice = price
	c.lines[idx].IsSpecial = isSpecial
	c.lines[idx].PriceOverridden = overridden
	clamped := c.lines[idx].fitDiscount()
	return Change{Line: c.lines[idx], DiscountClamped: clamped}, nil
}

// ChangeUnit switches a line to another unit at the given price. When another
// line already holds the target unit the two are merged and the switched line
// disappears.
func (c *Cart) ChangeUnit(lineID string, unit pricing.UnitType, label string, price decimal.Decimal, isSpecial bool) (Change, error) {
	idx := c.indexOf(lineID)
	if idx < 0 {
		return Change{}, fmt.Errorf("%w: %s", ErrLineNotFound, lineID)
	}
	if price.IsNegative() {
		return Change{Line: c.lines[idx]}, ErrInvalidPrice
	}
	line := c.lines[idx]
	if line.UnitType == unit {
		return Change{Line: line}, nil
	}
	if other := c.find(line.ProductID, line.VariantID, unit); other >= 0 {
		c.lines[other].Quantity += line.Quantity
		merged := c.lines[other]
		c.removeAt(idx)
		return Change{Line: merged, Merged: true}, nil
	}
	line.UnitType = unit
	line.UnitLabel = label
	line.UnitPrice = price
	line.IsSpecial = isSpecial
	line.PriceOverridden = false
	clamped := line.fitDiscount()
	c.lines[idx] = line
	return Change{Line: line, DiscountClamped: clamped}, nil
}

// Remove deletes a line.
func (c *Cart) Remove(lineID string) error {
	idx := c.indexOf(lineID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrLineNotFound, lineID)
	}
	c.removeAt(idx)
	return nil
}

// Line returns the line with the given id.
func (c *Cart) Line(lineID string) (Line, bool) {
	idx := c.indexOf(lineID)
	if idx < 0 {
		return Line{}, false
	}
	return c.lines[idx], true
}

// Lines returns a copy of the cart lines in insertion order.
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

// Len returns the number of lines.
func (c *Cart) Len() int {
	return len(c.lines)
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

// Currencies returns the distinct line currencies in first-seen order. Lines
// without a currency are reported under base.
func (c *Cart) Currencies(base string) []string {
	seen := make(map[string]struct{}, len(c.lines))
	var out []string
	for _, l := range c.lines {
		code := lineCurrency(l, base)
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}

// HasMultiCurrency reports whether lines are priced in more than one currency.
func (c *Cart) HasMultiCurrency(base string) bool {
	return len(c.Currencies(base)) > 1
}

// Repriced returns a new cart whose lines carry the prices produced by fn.
// The receiver is left untouched so callers can swap the whole value in once
// every line priced successfully.
func (c *Cart) Repriced(fn func(Line) (pricing.Resolution, error)) (*Cart, []Change, error) {
	next := c.Clone()
	changes := make([]Change, 0, len(next.lines))
	for i := range next.lines {
		res, err := fn(next.lines[i])
		if err != nil {
			return nil, nil, fmt.Errorf("reprice line %s: %w", next.lines[i].ID, err)
		}
		if res.Price.IsNegative() {
			return nil, nil, fmt.Errorf("reprice line %s: %w", next.lines[i].ID, ErrInvalidPrice)
		}
		next.lines[i].UnitPrice = res.Price
		next.lines[i].IsSpecial = res.IsSpecial
		next.lines[i].PriceOverridden = false
		if code := currency.NormalizeCode(res.Currency); code != "" {
			next.lines[i].Currency = code
		}
		clamped := next.lines[i].fitDiscount()
		changes = append(changes, Change{Line: next.lines[i], DiscountClamped: clamped})
	}
	return next, changes, nil
}

func (c *Cart) find(productID, variantID string, unit pricing.UnitType) int {
	for i, l := range c.lines {
		if l.matches(productID, variantID, unit) {
			return i
		}
	}
	return -1
}

func (c *Cart) indexOf(lineID string) int {
	lineID = strings.TrimSpace(lineID)
	for i, l := range c.lines {
		if l.ID == lineID {
			return i
		}
	}
	return -1
}

func (c *Cart) removeAt(idx int) {
	c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
}

// lineCurrency groups a line under base when it has no currency or carries
// the base alias.
func lineCurrency(l Line, base string) string {
	if l.Currency == "" || l.Currency == currency.BaseAlias {
		return currency.NormalizeCode(base)
	}
	return l.Currency
}
