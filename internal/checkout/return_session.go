package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/noah-isme/pos-settlement/internal/cart"
	"github.com/noah-isme/pos-settlement/internal/currency"
	"github.com/noah-isme/pos-settlement/internal/events"
	"github.com/noah-isme/pos-settlement/internal/obs"
	"github.com/noah-isme/pos-settlement/internal/pricing"
	"github.com/noah-isme/pos-settlement/internal/settlement"
)

// OriginalOrder is a past sale loaded for a return. Returnable quantities are
// computed by the backend.
type OriginalOrder struct {
	ID       string                      `json:"id"`
	Number   string                      `json:"number,omitempty"`
	Customer *pricing.Customer           `json:"customer,omitempty"`
	Items    []settlement.ReturnableItem `json:"items"`
}

// Item returns the order line with the given id.
func (o OriginalOrder) Item(orderItemID string) (settlement.ReturnableItem, bool) {
	orderItemID = strings.TrimSpace(orderItemID)
	for _, it := range o.Items {
		if it.OrderItemID == orderItemID {
			return it, true
		}
	}
	return settlement.ReturnableItem{}, false
}

// ReturnSession is the controller of one return or exchange. Loading another
// order replaces both baskets wholesale.
type ReturnSession struct {
	mu         sync.Mutex
	settings   Settings
	deps       deps
	generation uint64
	txn        string
	ref        refData
	order      *OriginalOrder
	returns    *settlement.Basket
	exchange   *cart.Cart
}

// NewReturnSession starts an empty return session.
func NewReturnSession(settings Settings, opts ...Option) (*ReturnSession, error) {
	s, err := settings.Validate()
	if err != nil {
		return nil, err
	}
	d := newDeps(opts)
	d.logger = obs.Component(d.logger, "returns").With().Str("register_id", s.RegisterID).Logger()
	return &ReturnSession{
		settings:   s,
		deps:       d,
		generation: 1,
		txn:        uuid.NewString(),
		ref:        newRefData(),
		returns:    settlement.NewBasket(),
		exchange:   cart.New(),
	}, nil
}

// Generation identifies the current baskets.
func (r *ReturnSession) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

// Reset drops the loaded order and both baskets.
func (r *ReturnSession) Reset() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resetLocked()
}

func (r *ReturnSession) resetLocked() uint64 {
	r.generation++
	r.txn = uuid.NewString()
	r.order = nil
	r.ref.customer = nil
	r.returns = settlement.NewBasket()
	r.exchange = cart.New()
	return r.generation
}

func (r *ReturnSession) checkGeneration(gen uint64) error {
	if gen != r.generation {
		return fmt.Errorf("%w: got %d, current %d", ErrStaleGeneration, gen, r.generation)
	}
	return nil
}

// ApplyCurrencies installs the currency table. It is kept across orders.
func (r *ReturnSession) ApplyCurrencies(list []currency.Currency) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ref.setCurrencies(list, r.deps.logger)
}

// ApplyCatalog installs the catalog exchange items are sold from. It is kept
// across orders.
func (r *ReturnSession) ApplyCatalog(ctx context.Context, products []pricing.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cand := r.ref
	if err := cand.setCatalog(products); err != nil {
		return err
	}
	return r.commitLocked(ctx, cand)
}

// ApplySpecialPrices installs the special prices of the order's customer.
func (r *ReturnSession) ApplySpecialPrices(ctx context.Context, gen uint64, customerID string, rows []pricing.SpecialPriceRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkGeneration(gen); err != nil {
		return err
	}
	if c := r.ref.customer; c == nil || c.ID != strings.TrimSpace(customerID) {
		return fmt.Errorf("%w: special prices for %s", ErrStaleGeneration, customerID)
	}
	cand := r.ref
	cand.setSpecialPrices(customerID, rows)
	return r.commitLocked(ctx, cand)
}

// commitLocked installs cand once every exchange line prices against it, and
// swaps in the repriced basket when prices are complete. When a line fails
// neither changes.
func (r *ReturnSession) commitLocked(ctx context.Context, cand refData) error {
	if cand.catalog == nil || r.exchange.IsEmpty() {
		r.ref = cand
		return nil
	}
	next, _, err := repriceAgainst(r.exchange, &cand)
	if err != nil {
		return err
	}
	r.ref = cand
	if !cand.pricesReady() {
		return nil
	}
	r.exchange = next
	logger := obs.LoggerFor(ctx, r.deps.logger)
	logger.Debug().Int("lines", next.Len()).Msg("exchange_repriced")
	return nil
}

// LoadOriginalOrder starts a new return for the order fetched from src. The
// previous order and both baskets are discarded. If another load or a reset
// happens while the fetch is in flight, the result is dropped with
// ErrStaleGeneration.
func (r *ReturnSession) LoadOriginalOrder(ctx context.Context, src OrderSource, orderID string) (OriginalOrder, uint64, error) {
	if src == nil {
		return OriginalOrder{}, 0, errors.New("checkout: order source not configured")
	}
	gen := r.Reset()
	order, err := src.FetchOriginalOrder(ctx, orderID)
	if err != nil {
		return OriginalOrder{}, gen, err
	}
	if err := r.ApplyOriginalOrder(gen, order); err != nil {
		return OriginalOrder{}, gen, err
	}
	return order, gen, nil
}

// ApplyOriginalOrder installs a fetched order for the given generation.
func (r *ReturnSession) ApplyOriginalOrder(gen uint64, order OriginalOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkGeneration(gen); err != nil {
		return err
	}
	cp := order
	cp.Items = append([]settlement.ReturnableItem(nil), order.Items...)
	r.order = &cp
	r.ref.customer = order.Customer
	r.returns = settlement.NewBasket()
	r.exchange = cart.New()
	return nil
}

// Order returns the loaded order.
func (r *ReturnSession) Order() (OriginalOrder, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.order == nil {
		return OriginalOrder{}, false
	}
	return *r.order, true
}

// AddToReturnBasket puts one unit of an order line in the return basket, or
// one more unit if it is already there.
func (r *ReturnSession) AddToReturnBasket(orderItemID string) (settlement.ReturnLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.order == nil {
		return settlement.ReturnLine{}, ErrNoOriginalOrder
	}
	item, ok := r.order.Item(orderItemID)
	if !ok {
		return settlement.ReturnLine{}, fmt.Errorf("%w: %s", settlement.ErrReturnLineNotFound, orderItemID)
	}
	return r.returns.Add(item)
}

// UpdateReturnQuantity sets a returned quantity. Exceeding what is still
// returnable fails with settlement.ErrOverReturn and keeps the prior value.
func (r *ReturnSession) UpdateReturnQuantity(orderItemID string, qty int) (settlement.ReturnLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.returns.UpdateQuantity(orderItemID, qty)
}

// SetReturnDetails records reason, condition and inventory action of a line.
func (r *ReturnSession) SetReturnDetails(orderItemID string, reason settlement.Reason, condition settlement.Condition, action settlement.InventoryAction) (settlement.ReturnLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.returns.SetDetails(orderItemID, reason, condition, action)
}

// RemoveFromReturnBasket drops a returned line.
func (r *ReturnSession) RemoveFromReturnBasket(orderItemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.returns.Remove(orderItemID)
}

// ReturnLines returns a copy of the return basket.
func (r *ReturnSession) ReturnLines() []settlement.ReturnLine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.returns.Lines()
}

// AddToExchangeBasket adds a catalog product the customer takes instead,
// priced for the order's customer.
func (r *ReturnSession) AddToExchangeBasket(productID, variantID string, unit pricing.UnitType, qty int) (cart.Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.order == nil {
		return cart.Change{}, ErrNoOriginalOrder
	}
	p, res, err := r.ref.resolve(productID, unit)
	if err != nil {
		return cart.Change{}, err
	}
	return r.exchange.Add(cart.Item{
		ProductID: p.ID,
		VariantID: strings.TrimSpace(variantID),
		Name:      p.Name,
		UnitType:  unit,
		UnitLabel: p.UnitLabel(unit),
		UnitPrice: res.Price,
		Currency:  res.Currency,
		IsSpecial: res.IsSpecial,
	}, qty)
}

// UpdateExchangeQuantity sets an exchange line quantity; zero or less removes it.
func (r *ReturnSession) UpdateExchangeQuantity(lineID string, qty int) (cart.Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exchange.UpdateQuantity(lineID, qty)
}

// RemoveFromExchangeBasket drops an exchange line.
func (r *ReturnSession) RemoveFromExchangeBasket(lineID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exchange.Remove(lineID)
}

// ExchangeLines returns a copy of the exchange basket.
func (r *ReturnSession) ExchangeLines() []cart.Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exchange.Lines()
}

// Settle nets the return basket against the exchange basket.
func (r *ReturnSession) Settle(ctx context.Context) (settlement.ReturnExchangeSettlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settleLocked(ctx)
}

func (r *ReturnSession) settleLocked(ctx context.Context) (settlement.ReturnExchangeSettlement, error) {
	if r.order == nil {
		return settlement.ReturnExchangeSettlement{}, ErrNoOriginalOrder
	}
	tbl, err := r.ref.requireTable()
	if err != nil {
		return settlement.ReturnExchangeSettlement{}, err
	}
	return settlement.ComputeReturnExchange(ctx, tbl, r.returns.Lines(), r.exchange.Lines())
}

// BuildPayload settles and renders the submission payload. The refund method
// or payment type required by the settlement direction must be provided.
func (r *ReturnSession) BuildPayload(ctx context.Context, refund settlement.RefundMethod, pt settlement.PaymentType) (ReturnPayload, settlement.ReturnExchangeSettlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buildLocked(ctx, refund, pt)
}

func (r *ReturnSession) buildLocked(ctx context.Context, refund settlement.RefundMethod, pt settlement.PaymentType) (ReturnPayload, settlement.ReturnExchangeSettlement, error) {
	st, err := r.settleLocked(ctx)
	if err != nil {
		return ReturnPayload{}, settlement.ReturnExchangeSettlement{}, err
	}
	method, err := st.ResolveMethod(refund, pt)
	if err != nil {
		return ReturnPayload{}, st, err
	}
	payload, err := buildReturnPayload(r.settings, r.order.ID, r.returns.Lines(), r.exchange.Lines(), st, method, r.ref.table.Snapshot(r.deps.now()))
	if err != nil {
		return ReturnPayload{}, st, err
	}
	return payload, st, nil
}

// Submit sends the return to the backend under the register lock. On success
// the session is reset; on failure both baskets are preserved.
func (r *ReturnSession) Submit(ctx context.Context, submitter ReturnSubmitter, refund settlement.RefundMethod, pt settlement.PaymentType) (Receipt, ReturnPayload, error) {
	if submitter == nil {
		return Receipt{}, ReturnPayload{}, errors.New("checkout: return submitter not configured")
	}
	r.mu.Lock()
	payload, _, err := r.buildLocked(ctx, refund, pt)
	gen, txn := r.generation, r.txn
	r.mu.Unlock()
	if err != nil {
		return Receipt{}, ReturnPayload{}, err
	}

	fp := payload
	fp.ExchangeRateSnapshotJSON = ""
	receipt, err := submitOnce(ctx, r.deps, r.settings, "return", txn, fp, func(ctx context.Context, key string) (Receipt, error) {
		return submitter.SubmitReturn(ctx, key, payload)
	})
	logger := obs.LoggerFor(ctx, r.deps.logger)
	if err != nil {
		emit(ctx, r.deps.bus, logger, events.TopicReturnFailed, payload.OriginalOrderID, map[string]any{"error": err.Error()})
		return Receipt{}, payload, err
	}

	r.mu.Lock()
	if r.generation == gen {
		r.resetLocked()
	}
	r.mu.Unlock()
	emit(ctx, r.deps.bus, logger, events.TopicReturnSubmitted, payload.OriginalOrderID, map[string]any{
		"receipt":          receipt,
		"direction":        payload.Direction,
		"netAmount":        payload.NetAmount,
		"settlementMethod": payload.SettlementMethod,
	})
	return receipt, payload, nil
}
