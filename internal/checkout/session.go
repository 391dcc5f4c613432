package checkout

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-settlement/internal/cart"
	"github.com/noah-isme/pos-settlement/internal/currency"
	"github.com/noah-isme/pos-settlement/internal/events"
	"github.com/noah-isme/pos-settlement/internal/obs"
	"github.com/noah-isme/pos-settlement/internal/payment"
	"github.com/noah-isme/pos-settlement/internal/pricing"
	"github.com/noah-isme/pos-settlement/internal/settlement"
)

// Session is the controller of one in-progress sale at a register. It owns
// the cart and re-derives prices whenever customer or reference data change.
// Recomputation builds a new cart value and swaps it in; a half-applied
// result is never visible.
//
// A Session is safe for concurrent use. Reference data loads may call the
// Apply methods from any goroutine in any order.
type Session struct {
	mu         sync.Mutex
	settings   Settings
	deps       deps
	generation uint64
	// txn identifies the current cart for idempotent submission.
	txn        string
	ref        refData
	cart       *cart.Cart
}

// NewSession starts an empty sale session.
func NewSession(settings Settings, opts ...Option) (*Session, error) {
	s, err := settings.Validate()
	if err != nil {
		return nil, err
	}
	d := newDeps(opts)
	d.logger = obs.Component(d.logger, "checkout").With().Str("register_id", s.RegisterID).Logger()
	return &Session{
		settings:   s,
		deps:       d,
		generation: 1,
		txn:        uuid.NewString(),
		ref:        newRefData(),
		cart:       cart.New(),
	}, nil
}

// Settings returns the session settings.
func (s *Session) Settings() Settings {
	return s.settings
}

// Generation identifies the current cart. Results computed for an older
// generation are rejected.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Reset abandons the cart and everything in flight for it. The customer and
// reference data are kept.
func (s *Session) Reset() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetLocked()
}

func (s *Session) resetLocked() uint64 {
	s.generation++
	s.txn = uuid.NewString()
	s.cart = cart.New()
	return s.generation
}

func (s *Session) checkGeneration(gen uint64) error {
	if gen != s.generation {
		return fmt.Errorf("%w: got %d, current %d", ErrStaleGeneration, gen, s.generation)
	}
	return nil
}

// ApplyCurrencies installs a freshly loaded currency table. Currencies are
// shared by every cart of the session, so a reset does not make them stale.
func (s *Session) ApplyCurrencies(list []currency.Currency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ref.setCurrencies(list, s.deps.logger)
}

// ApplyCatalog installs a freshly loaded catalog and reprices the cart once
// the selected customer's special prices are also present. Like currencies,
// the catalog outlives a reset. If a line cannot be priced from the new
// catalog nothing changes.
func (s *Session) ApplyCatalog(ctx context.Context, products []pricing.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cand := s.ref
	if err := cand.setCatalog(products); err != nil {
		return err
	}
	return s.commitLocked(ctx, cand, cand.pricesReady(), "catalog_loaded")
}

// ApplySpecialPrices installs the special prices of customerID. Rows loaded
// for an older cart or for a customer who is no longer selected are discarded
// as stale.
func (s *Session) ApplySpecialPrices(ctx context.Context, gen uint64, customerID string, rows []pricing.SpecialPriceRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkGeneration(gen); err != nil {
		return err
	}
	if c := s.ref.customer; c == nil || c.ID != strings.TrimSpace(customerID) {
		return fmt.Errorf("%w: special prices for %s", ErrStaleGeneration, customerID)
	}
	cand := s.ref
	cand.setSpecialPrices(customerID, rows)
	return s.commitLocked(ctx, cand, cand.pricesReady(), "special_prices_loaded")
}

// SelectCustomer switches the customer of the sale, nil for a walk-in. Every
// line is repriced for the new customer at once with what is known; when the
// customer's special prices arrive later the cart is repriced again. If a
// line cannot be repriced the previous customer stays selected.
func (s *Session) SelectCustomer(ctx context.Context, c *pricing.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c != nil {
		cp := *c
		cp.ID = strings.TrimSpace(cp.ID)
		c = &cp
	}
	cand := s.ref
	cand.customer = c
	return s.commitLocked(ctx, cand, true, "customer_changed")
}

// Customer returns the selected customer, nil for a walk-in.
func (s *Session) Customer() *pricing.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ref.customer == nil {
		return nil
	}
	c := *s.ref.customer
	return &c
}

// PricesReady reports whether the catalog and the selected customer's
// special prices are both loaded.
func (s *Session) PricesReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ref.pricesReady()
}

// commitLocked installs cand as the session's reference data once every cart
// line prices against it. With reprice set the repriced cart is swapped in
// together with cand. When a line fails neither changes.
func (s *Session) commitLocked(ctx context.Context, cand refData, reprice bool, cause string) error {
	if cand.catalog == nil || s.cart.IsEmpty() {
		s.ref = cand
		return nil
	}
	next, changes, err := repriceAgainst(s.cart, &cand)
	if err != nil {
		return err
	}
	s.ref = cand
	if !reprice {
		return nil
	}
	s.cart = next
	clamped := 0
	for _, c := range changes {
		if c.DiscountClamped {
			clamped++
		}
	}
	logger := obs.LoggerFor(ctx, s.deps.logger)
	logger.Debug().Str("cause", cause).Int("lines", len(changes)).Int("discounts_clamped", clamped).Msg("cart_repriced")
	return nil
}

// AddProduct puts qty units of a product in the cart at the resolved price.
// Adding a product that is already in the cart in the same unit and variant
// increases that line. A non-positive qty removes the matching line.
func (s *Session) AddProduct(productID, variantID string, unit pricing.UnitType, qty int) (cart.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, res, err := s.ref.resolve(productID, unit)
	if err != nil {
		return cart.Change{}, err
	}
	return s.cart.Add(cart.Item{
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

// ChangeLineUnit switches one line to another unit and reprices only that line.
func (s *Session) ChangeLineUnit(lineID string, unit pricing.UnitType) (cart.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, ok := s.cart.Line(lineID)
	if !ok {
		return cart.Change{}, fmt.Errorf("%w: %s", cart.ErrLineNotFound, lineID)
	}
	p, res, err := s.ref.resolve(line.ProductID, unit)
	if err != nil {
		return cart.Change{}, err
	}
	return s.cart.ChangeUnit(lineID, unit, p.UnitLabel(unit), res.Price, res.IsSpecial)
}

// OverrideLinePrice applies a cashier-entered unit price. The price is floored
// at the unit cost. With a customer selected the override becomes that
// customer's special price and is saved to the backend; a failed save leaves
// the cart change in place and is reported as ErrPriceNotSaved.
func (s *Session) OverrideLinePrice(ctx context.Context, lineID string, entered decimal.Decimal) (cart.Change, error) {
	s.mu.Lock()
	line, ok := s.cart.Line(lineID)
	if !ok {
		s.mu.Unlock()
		return cart.Change{}, fmt.Errorf("%w: %s", cart.ErrLineNotFound, lineID)
	}
	if entered.IsNegative() {
		s.mu.Unlock()
		return cart.Change{Line: line}, cart.ErrInvalidPrice
	}
	p, err := s.ref.catalog.Product(line.ProductID)
	if err != nil {
		s.mu.Unlock()
		return cart.Change{}, err
	}
	price, clamped, err := pricing.FloorAtCost(p, line.UnitType, entered)
	if err != nil {
		s.mu.Unlock()
		return cart.Change{}, err
	}
	customer := s.ref.customer
	hasCustomer := customer != nil && customer.ID != ""
	change, err := s.cart.SetPrice(lineID, price, hasCustomer, true)
	if err != nil {
		s.mu.Unlock()
		return change, err
	}
	var sp pricing.SpecialPrice
	if hasCustomer {
		sp = pricing.SpecialPrice{CustomerID: customer.ID, ProductID: p.ID, UnitType: line.UnitType, Price: price}
		if s.ref.specialsFor == customer.ID {
			s.ref.book.Set(sp)
		}
	}
	saver, bus := s.deps.saver, s.deps.bus
	s.mu.Unlock()

	obs.IncPriceOverride(clamped)
	logger := obs.LoggerFor(ctx, s.deps.logger)
	logger.Info().Str("line_id", lineID).Str("product_id", p.ID).
		Str("entered", entered.String()).Str("applied", price.String()).
		Bool("clamped", clamped).Msg("price_overridden")

	if !hasCustomer || saver == nil {
		return change, nil
	}
	if err := saver.SaveSpecialPrice(ctx, sp); err != nil {
		logger.Warn().Err(err).Str("customer_id", sp.CustomerID).Str("product_id", sp.ProductID).Msg("special_price_save_failed")
		emit(ctx, bus, logger, events.TopicSpecialPriceFailed, sp.CustomerID, sp)
		return change, fmt.Errorf("%w: %w", ErrPriceNotSaved, err)
	}
	emit(ctx, bus, logger, events.TopicSpecialPriceSaved, sp.CustomerID, sp)
	return change, nil
}

// UpdateQuantity sets a line quantity; zero or less removes the line.
func (s *Session) UpdateQuantity(lineID string, qty int) (cart.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.UpdateQuantity(lineID, qty)
}

// UpdateDiscount sets a line's absolute discount.
func (s *Session) UpdateDiscount(lineID string, discount decimal.Decimal) (cart.Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.UpdateDiscount(lineID, discount)
}

// RemoveLine deletes a line.
func (s *Session) RemoveLine(lineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Remove(lineID)
}

// Lines returns a copy of the cart lines.
func (s *Session) Lines() []cart.Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Lines()
}

// Totals aggregates the cart per currency and in base currency.
func (s *Session) Totals(ctx context.Context) (cart.Totals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tbl, err := s.ref.requireTable()
	if err != nil {
		return cart.Totals{}, err
	}
	return s.cart.Totals(ctx, tbl), nil
}

// SuggestTenders pre-fills tender inputs for the selected currencies.
func (s *Session) SuggestTenders(ctx context.Context, selected []string) (map[string]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tbl, err := s.ref.requireTable()
	if err != nil {
		return nil, err
	}
	totals := s.cart.Totals(ctx, tbl)
	return payment.Allocator{Table: tbl}.SuggestDefaults(ctx, totals.EffectiveTotal(), selected), nil
}

// Settle computes the sale settlement for the current cart.
func (s *Session) Settle(ctx context.Context, pt settlement.PaymentType, tenders []payment.Tender) (settlement.SaleSettlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, _, err := s.settleLocked(ctx, pt, tenders)
	return st, err
}

func (s *Session) settleLocked(ctx context.Context, pt settlement.PaymentType, tenders []payment.Tender) (settlement.SaleSettlement, cart.Totals, error) {
	if s.cart.IsEmpty() {
		return settlement.SaleSettlement{}, cart.Totals{}, ErrEmptyCart
	}
	tbl, err := s.ref.requireTable()
	if err != nil {
		return settlement.SaleSettlement{}, cart.Totals{}, err
	}
	totals := s.cart.Totals(ctx, tbl)
	st, err := settlement.ComputeSale(ctx, totals, pt, tenders, payment.Allocator{Table: tbl})
	if err != nil {
		return settlement.SaleSettlement{}, cart.Totals{}, err
	}
	return st, totals, nil
}

// BuildSalePayload settles the cart and renders the submission payload with
// the currency rates frozen at this instant.
func (s *Session) BuildSalePayload(ctx context.Context, pt settlement.PaymentType, tenders []payment.Tender) (SalePayload, settlement.SaleSettlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, st, _, err := s.buildLocked(ctx, pt, tenders)
	return payload, st, err
}

func (s *Session) buildLocked(ctx context.Context, pt settlement.PaymentType, tenders []payment.Tender) (SalePayload, settlement.SaleSettlement, uint64, error) {
	st, totals, err := s.settleLocked(ctx, pt, tenders)
	if err != nil {
		return SalePayload{}, settlement.SaleSettlement{}, 0, err
	}
	payload, err := buildSalePayload(s.settings, s.ref.customer, s.cart.Lines(), totals, st, s.ref.table.Snapshot(s.deps.now()))
	if err != nil {
		return SalePayload{}, settlement.SaleSettlement{}, 0, err
	}
	return payload, st, s.generation, nil
}
