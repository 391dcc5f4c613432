package settlement

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-settlement/internal/obs"
	"github.com/noah-isme/pos-settlement/internal/pricing"
)

var (
	// ErrOverReturn is returned when a return quantity exceeds what is still returnable.
	ErrOverReturn = errors.New("settlement: return quantity exceeds returnable quantity")
	// ErrItemNotReturnable indicates the original line has nothing left to return.
	ErrItemNotReturnable = errors.New("settlement: item has no returnable quantity")
	// ErrReturnLineNotFound indicates the order item is not in the return basket.
	ErrReturnLineNotFound = errors.New("settlement: return line not found")
	// ErrInvalidReturnDetail is returned for unknown reason, condition or inventory action values.
	ErrInvalidReturnDetail = errors.New("settlement: invalid return detail")
)

// Reason explains why goods come back.
type Reason string

const (
	ReasonDefective   Reason = "defective"
	ReasonDamaged     Reason = "damaged"
	ReasonWrongItem   Reason = "wrong_item"
	ReasonExpired     Reason = "expired"
	ReasonChangedMind Reason = "changed_mind"
	ReasonOther       Reason = "other"
)

// Condition is the state the returned goods arrive in.
type Condition string

const (
	ConditionGood      Condition = "good"
	ConditionOpened    Condition = "opened"
	ConditionDamaged   Condition = "damaged"
	ConditionUnsalable Condition = "unsalable"
)

// InventoryAction tells the backend what to do with returned stock.
type InventoryAction string

const (
	ActionRestock    InventoryAction = "restock"
	ActionQuarantine InventoryAction = "quarantine"
	ActionDiscard    InventoryAction = "discard"
)

// ParseReason validates a wire reason.
func ParseReason(raw string) (Reason, error) {
	switch r := Reason(strings.ToLower(strings.TrimSpace(raw))); r {
	case ReasonDefective, ReasonDamaged, ReasonWrongItem, ReasonExpired, ReasonChangedMind, ReasonOther:
		return r, nil
	default:
		return "", fmt.Errorf("%w: reason %q", ErrInvalidReturnDetail, raw)
	}
}

// ParseCondition validates a wire condition.
func ParseCondition(raw string) (Condition, error) {
	switch c := Condition(strings.ToLower(strings.TrimSpace(raw))); c {
	case ConditionGood, ConditionOpened, ConditionDamaged, ConditionUnsalable:
		return c, nil
	default:
		return "", fmt.Errorf("%w: condition %q", ErrInvalidReturnDetail, raw)
	}
}

// ParseInventoryAction validates a wire inventory action.
func ParseInventoryAction(raw string) (InventoryAction, error) {
	switch a := InventoryAction(strings.ToLower(strings.TrimSpace(raw))); a {
	case ActionRestock, ActionQuarantine, ActionDiscard:
		return a, nil
	default:
		return "", fmt.Errorf("%w: inventory action %q", ErrInvalidReturnDetail, raw)
	}
}

// ReturnableItem is a line of the original order as reported by the backend.
// Discount is the line's original total discount.
type ReturnableItem struct {
	OrderItemID      string           `json:"orderItemId"`
	ProductID        string           `json:"productId"`
	VariantID        string           `json:"variantId,omitempty"`
	Name             string           `json:"name,omitempty"`
	UnitType         pricing.UnitType `json:"unitType"`
	Quantity         int              `json:"quantity"`
	ReturnedQuantity int              `json:"returnedQuantity"`
	UnitPrice        decimal.Decimal  `json:"unitPrice"`
	Discount         decimal.Decimal  `json:"discount"`
	Currency         string           `json:"currency"`
}

// MaxReturnable is the sold quantity minus what was already returned.
func (r ReturnableItem) MaxReturnable() int {
	if n := r.Quantity - r.ReturnedQuantity; n > 0 {
		return n
	}
	return 0
}

// EffectiveUnitPrice is what the customer actually paid per unit: the
// original unit price minus that unit's share of the line discount.
func (r ReturnableItem) EffectiveUnitPrice() decimal.Decimal {
	if r.Quantity <= 0 || r.Discount.IsZero() {
		return r.UnitPrice
	}
	share := r.Discount.Div(decimal.NewFromInt(int64(r.Quantity)))
	price := r.UnitPrice.Sub(share)
	if price.IsNegative() {
		return decimal.Zero
	}
	return price
}

// ReturnLine is an original order line placed in the return basket.
type ReturnLine struct {
	Item            ReturnableItem  `json:"item"`
	Quantity        int             `json:"quantity"`
	Reason          Reason          `json:"reason"`
	Condition       Condition       `json:"condition"`
	InventoryAction InventoryAction `json:"inventoryAction"`
}

// UnitPrice is the effective per-unit refund value.
func (l ReturnLine) UnitPrice() decimal.Decimal {
	return l.Item.EffectiveUnitPrice()
}

// Total is the refund value of the line.
func (l ReturnLine) Total() decimal.Decimal {
	return l.UnitPrice().Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Validate checks the quantity against the returnable cap.
func (l ReturnLine) Validate() error {
	if l.Quantity > l.Item.MaxReturnable() {
		return fmt.Errorf("%w: item %s wants %d, %d left", ErrOverReturn, l.Item.OrderItemID, l.Quantity, l.Item.MaxReturnable())
	}
	if l.Quantity <= 0 {
		return fmt.Errorf("%w: item %s has quantity %d", ErrOverReturn, l.Item.OrderItemID, l.Quantity)
	}
	return nil
}

// Basket holds the lines being returned. Every mutation keeps each quantity
// within [1, MaxReturnable]; rejected mutations leave the basket unchanged.
type Basket struct {
	lines []ReturnLine
}

// NewBasket returns an empty return basket.
func NewBasket() *Basket {
	return &Basket{}
}

// Clone returns an independent copy of the basket.
func (b *Basket) Clone() *Basket {
	out := &Basket{lines: make([]ReturnLine, len(b.lines))}
	copy(out.lines, b.lines)
	return out
}

// Add puts one unit of item into the basket, or one more unit if the item is
// already there.
func (b *Basket) Add(item ReturnableItem) (ReturnLine, error) {
	if idx := b.indexOf(item.OrderItemID); idx >= 0 {
		return b.UpdateQuantity(item.OrderItemID, b.lines[idx].Quantity+1)
	}
	if item.MaxReturnable() < 1 {
		obs.IncReturnRejection("not_returnable")
		return ReturnLine{}, fmt.Errorf("%w: %s", ErrItemNotReturnable, item.OrderItemID)
	}
	line := ReturnLine{
		Item:            item,
		Quantity:        1,
		Reason:          ReasonOther,
		Condition:       ConditionGood,
		InventoryAction: ActionRestock,
	}
	b.lines = append(b.lines, line)
	return line, nil
}

// UpdateQuantity sets the quantity of a basket line. Zero or less removes the
// line; more than the returnable quantity fails with ErrOverReturn and keeps
// the previous quantity.
func (b *Basket) UpdateQuantity(orderItemID string, qty int) (ReturnLine, error) {
	idx := b.indexOf(orderItemID)
	if idx < 0 {
		return ReturnLine{}, fmt.Errorf("%w: %s", ErrReturnLineNotFound, orderItemID)
	}
	if qty <= 0 {
		removed := b.lines[idx]
		removed.Quantity = 0
		b.lines = append(b.lines[:idx], b.lines[idx+1:]...)
		return removed, nil
	}
	if left := b.lines[idx].Item.MaxReturnable(); qty > left {
		obs.IncReturnRejection("over_return")
		return b.lines[idx], fmt.Errorf("%w: item %s wants %d, %d left", ErrOverReturn, orderItemID, qty, left)
	}
	b.lines[idx].Quantity = qty
	return b.lines[idx], nil
}

// SetDetails records why and in which condition the goods come back, and what
// happens to the stock.
func (b *Basket) SetDetails(orderItemID string, reason Reason, condition Condition, action InventoryAction) (ReturnLine, error) {
	idx := b.indexOf(orderItemID)
	if idx < 0 {
		return ReturnLine{}, fmt.Errorf("%w: %s", ErrReturnLineNotFound, orderItemID)
	}
	if _, err := ParseReason(string(reason)); err != nil {
		return b.lines[idx], err
	}
	if _, err := ParseCondition(string(condition)); err != nil {
		return b.lines[idx], err
	}
	if _, err := ParseInventoryAction(string(action)); err != nil {
		return b.lines[idx], err
	}
	b.lines[idx].Reason = reason
	b.lines[idx].Condition = condition
	b.lines[idx].InventoryAction = action
	return b.lines[idx], nil
}

// Remove drops a line from the basket.
func (b *Basket) Remove(orderItemID string) error {
	idx := b.indexOf(orderItemID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrReturnLineNotFound, orderItemID)
	}
	b.lines = append(b.lines[:idx], b.lines[idx+1:]...)
	return nil
}

// Line returns the basket line for an order item.
func (b *Basket) Line(orderItemID string) (ReturnLine, bool) {
	idx := b.indexOf(orderItemID)
	if idx < 0 {
		return ReturnLine{}, false
	}
	return b.lines[idx], true
}

// Lines returns a copy of the basket lines.
func (b *Basket) Lines() []ReturnLine {
	out := make([]ReturnLine, len(b.lines))
	copy(out, b.lines)
	return out
}

// IsEmpty reports whether the basket has no lines.
func (b *Basket) IsEmpty() bool {
	return len(b.lines) == 0
}

func (b *Basket) indexOf(orderItemID string) int {
	orderItemID = strings.TrimSpace(orderItemID)
	for i, l := range b.lines {
		if l.Item.OrderItemID == orderItemID {
			return i
		}
	}
	return -1
}
