package checkout

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrStaleGeneration is returned when a result belongs to a cart or basket
	// that has since been reset or replaced.
	ErrStaleGeneration = errors.New("checkout: stale generation")
	// ErrReferenceDataPending is returned when an operation needs currencies
	// or the catalog before they were loaded.
	ErrReferenceDataPending = errors.New("checkout: reference data not loaded")
	// ErrEmptyCart is returned when settling or submitting an empty cart.
	ErrEmptyCart = errors.New("checkout: cart is empty")
	// ErrNoOriginalOrder is returned by return operations before an order is loaded.
	ErrNoOriginalOrder = errors.New("checkout: original order not loaded")
	// ErrPriceNotSaved wraps a failure to persist a cashier override as a special price.
	ErrPriceNotSaved = errors.New("checkout: special price not saved")
)

// DefaultAmountScale is the number of decimals amounts are rounded to in payloads.
const DefaultAmountScale int32 = 3

// Settings is the per-session configuration. It is fixed for the lifetime of
// a session and reloaded only by starting a new one.
type Settings struct {
	RegisterID    string
	WarehouseID   string
	AmountScale   int32
	SubmitLockTTL time.Duration
}

// Validate checks the settings and fills defaults.
func (s Settings) Validate() (Settings, error) {
	s.RegisterID = strings.TrimSpace(s.RegisterID)
	s.WarehouseID = strings.TrimSpace(s.WarehouseID)
	if s.WarehouseID == "" {
		return s, errors.New("checkout: warehouse id is required")
	}
	if s.RegisterID == "" {
		s.RegisterID = "default"
	}
	if s.AmountScale < 0 || s.AmountScale > 8 {
		return s, fmt.Errorf("checkout: amount scale %d out of range", s.AmountScale)
	}
	if s.AmountScale == 0 {
		s.AmountScale = DefaultAmountScale
	}
	if s.SubmitLockTTL <= 0 {
		s.SubmitLockTTL = 30 * time.Second
	}
	return s, nil
}
