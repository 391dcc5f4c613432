package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-settlement/internal/obs"
)

var (
	// ErrUnknownCurrency is returned when a code is not part of the active table.
	ErrUnknownCurrency = errors.New("currency: unknown currency")
	// ErrNoBaseCurrency indicates the table has no active base currency.
	ErrNoBaseCurrency = errors.New("currency: no base currency configured")
	// ErrMultipleBase indicates more than one active currency is flagged as base.
	ErrMultipleBase = errors.New("currency: more than one base currency")
	// ErrInvalidRate is returned for non-positive exchange rates.
	ErrInvalidRate = errors.New("currency: exchange rate must be positive")
)

var one = decimal.NewFromInt(1)

// Currency is a configured currency. ExchangeRate is expressed as units of
// this currency per one unit of the base currency.
type Currency struct {
	Code         string          `json:"code"`
	Symbol       string          `json:"symbol,omitempty"`
	ExchangeRate decimal.Decimal `json:"exchangeRate"`
	IsBase       bool            `json:"isBase"`
	IsActive     bool            `json:"isActive"`
}

// Table is a read-only view over the active currencies of one checkout session.
type Table struct {
	base       string
	rates      map[string]decimal.Decimal
	currencies []Currency
	logger     zerolog.Logger

	mu      sync.Mutex
	flagged map[string]int
}

// Option customises a Table.
type Option func(*Table)

// WithLogger configures the logger used for fallback warnings.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Table) {
		t.logger = logger
	}
}

// NormalizeCode upper-cases and trims a currency code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NewTable builds a table from the active currencies in list. Exactly one
// active currency must be flagged as base; its rate is pinned to 1.
func NewTable(list []Currency, opts ...Option) (*Table, error) {
	t := &Table{
		rates:   make(map[string]decimal.Decimal, len(list)),
		logger:  zerolog.Nop(),
		flagged: make(map[string]int),
	}
	for _, opt := range opts {
		opt(t)
	}
	for _, c := range list {
		if !c.IsActive {
			continue
		}
		code := NormalizeCode(c.Code)
		if code == "" {
			continue
		}
		c.Code = code
		if c.IsBase {
			if t.base != "" && t.base != code {
				return nil, fmt.Errorf("%w: %s and %s", ErrMultipleBase, t.base, code)
			}
			t.base = code
			if !c.ExchangeRate.Equal(one) {
				t.logger.Warn().Str("currency", code).Str("rate", c.ExchangeRate.String()).Msg("base_rate_pinned")
			}
			c.ExchangeRate = one
		} else if !c.ExchangeRate.IsPositive() {
			return nil, fmt.Errorf("%w: %s=%s", ErrInvalidRate, code, c.ExchangeRate)
		}
		if _, dup := t.rates[code]; dup {
			continue
		}
		t.rates[code] = c.ExchangeRate
		t.currencies = append(t.currencies, c)
	}
	if t.base == "" {
		return nil, ErrNoBaseCurrency
	}
	sort.SliceStable(t.currencies, func(i, j int) bool {
		if t.currencies[i].IsBase != t.currencies[j].IsBase {
			return t.currencies[i].IsBase
		}
		return t.currencies[i].Code < t.currencies[j].Code
	})
	return t, nil
}

// Base returns the base currency code.
func (t *Table) Base() string {
	return t.base
}

// BaseAlias is the code a price may carry instead of the base currency's own.
const BaseAlias = "BASE"

// IsBase reports whether code refers to the base currency. The empty code and
// the literal "base" are treated as the base currency.
func (t *Table) IsBase(code string) bool {
	code = NormalizeCode(code)
	return code == "" || code == BaseAlias || code == t.base
}

// Currencies returns the active currencies, base first.
func (t *Table) Currencies() []Currency {
	out := make([]Currency, len(t.currencies))
	copy(out, t.currencies)
	return out
}

// Has reports whether code is an active currency.
func (t *Table) Has(code string) bool {
	if t.IsBase(code) {
		return true
	}
	_, ok := t.rates[NormalizeCode(code)]
	return ok
}

// Rate returns the exchange rate for code.
func (t *Table) Rate(code string) (decimal.Decimal, error) {
	if t.IsBase(code) {
		return one, nil
	}
	rate, ok := t.rates[NormalizeCode(code)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return rate, nil
}

// ToBase converts amount expressed in code into the base currency.
func (t *Table) ToBase(amount decimal.Decimal, code string) (decimal.Decimal, error) {
	rate, err := t.Rate(code)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Div(rate), nil
}

// FromBase converts a base currency amount into code.
func (t *Table) FromBase(amount decimal.Decimal, code string) (decimal.Decimal, error) {
	rate, err := t.Rate(code)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate), nil
}

// RateOrOne returns the rate for code, or 1 when the code is unknown. Source
// prices may predate a currency's registration, so hot paths use this lenient
// variant; every fallback is logged, counted and remembered in Flagged.
func (t *Table) RateOrOne(ctx context.Context, code string) decimal.Decimal {
	rate, err := t.Rate(code)
	if err == nil {
		return rate
	}
	normalized := NormalizeCode(code)
	t.mu.Lock()
	t.flagged[normalized]++
	t.mu.Unlock()
	obs.IncCurrencyFallback(normalized)
	logger := obs.LoggerFor(ctx, t.logger)
	logger.Warn().Str("currency", normalized).Str("base", t.base).Msg("currency_fallback")
	return one
}

// ToBaseLenient converts like ToBase but applies the rate 1 fallback.
func (t *Table) ToBaseLenient(ctx context.Context, amount decimal.Decimal, code string) decimal.Decimal {
	return amount.Div(t.RateOrOne(ctx, code))
}

// FromBaseLenient converts like FromBase but applies the rate 1 fallback.
func (t *Table) FromBaseLenient(ctx context.Context, amount decimal.Decimal, code string) decimal.Decimal {
	return amount.Mul(t.RateOrOne(ctx, code))
}

// Flagged returns the unknown currency codes seen by lenient conversions, sorted.
func (t *Table) Flagged() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.flagged))
	for code := range t.flagged {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Snapshot freezes the current rates for audit.
type Snapshot struct {
	Base    string            `json:"base"`
	Rates   map[string]string `json:"rates"`
	TakenAt time.Time         `json:"takenAt"`
}

// Snapshot captures the table's rates at the given instant.
func (t *Table) Snapshot(at time.Time) Snapshot {
	rates := make(map[string]string, len(t.rates))
	for code, rate := range t.rates {
		rates[code] = rate.String()
	}
	return Snapshot{Base: t.base, Rates: rates, TakenAt: at.UTC()}
}

// JSON encodes the snapshot. Map keys are emitted in sorted order so the
// output is stable for a given set of rates.
func (s Snapshot) JSON() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode rate snapshot: %w", err)
	}
	return string(data), nil
}

// TableFromSnapshot rebuilds a table from a previously frozen snapshot so
// historical settlements can be reproduced.
func TableFromSnapshot(s Snapshot, opts ...Option) (*Table, error) {
	list := make([]Currency, 0, len(s.Rates))
	for code, raw := range s.Rates {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse rate %s: %w", code, err)
		}
		list = append(list, Currency{
			Code:         code,
			ExchangeRate: rate,
			IsBase:       NormalizeCode(code) == NormalizeCode(s.Base),
			IsActive:     true,
		})
	}
	return NewTable(list, opts...)
}
