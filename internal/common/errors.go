package common

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/noah-isme/pos-settlement/internal/cart"
	"github.com/noah-isme/pos-settlement/internal/currency"
	"github.com/noah-isme/pos-settlement/internal/payment"
	"github.com/noah-isme/pos-settlement/internal/pricing"
	"github.com/noah-isme/pos-settlement/internal/settlement"
)

// Operator-facing error codes.
const (
	CodeUnknownCurrency     = "UNKNOWN_CURRENCY"
	CodeInvalidUnit         = "INVALID_UNIT"
	CodeProductNotFound     = "PRODUCT_NOT_FOUND"
	CodeOverReturn          = "OVER_RETURN"
	CodeNotReturnable       = "NOT_RETURNABLE"
	CodeInvalidDiscount     = "INVALID_DISCOUNT"
	CodeInvalidPrice        = "INVALID_PRICE"
	CodeLineNotFound        = "LINE_NOT_FOUND"
	CodeRefundMethodMissing = "REFUND_METHOD_REQUIRED"
	CodePaymentTypeMissing  = "PAYMENT_TYPE_REQUIRED"
	CodeInvalidPaymentType  = "INVALID_PAYMENT_TYPE"
	CodeNegativeTender      = "NEGATIVE_TENDER"
	CodeNothingToSettle     = "NOTHING_TO_SETTLE"
	CodeValidation          = "VALIDATION_ERROR"
	CodeBackend             = "BACKEND_ERROR"
	CodeBackendUnavailable  = "BACKEND_UNAVAILABLE"
	CodeDuplicateSubmission = "DUPLICATE_SUBMISSION"
	CodeRegisterBusy        = "REGISTER_BUSY"
	CodeInternal            = "INTERNAL"
)

// AppError represents an error with an attached code and HTTP status. For
// backend failures Message carries the backend's own message.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Message
	}
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

var sentinelCodes = []struct {
	err  error
	code string
}{
	{currency.ErrUnknownCurrency, CodeUnknownCurrency},
	{pricing.ErrInvalidUnit, CodeInvalidUnit},
	{pricing.ErrProductNotFound, CodeProductNotFound},
	{settlement.ErrOverReturn, CodeOverReturn},
	{settlement.ErrItemNotReturnable, CodeNotReturnable},
	{settlement.ErrRefundMethodRequired, CodeRefundMethodMissing},
	{settlement.ErrPaymentTypeRequired, CodePaymentTypeMissing},
	{settlement.ErrInvalidPaymentType, CodeInvalidPaymentType},
	{settlement.ErrEmptySettlement, CodeNothingToSettle},
	{settlement.ErrReturnLineNotFound, CodeLineNotFound},
	{settlement.ErrInvalidReturnDetail, CodeValidation},
	{cart.ErrInvalidDiscount, CodeInvalidDiscount},
	{cart.ErrDiscountExceedsSubtotal, CodeInvalidDiscount},
	{cart.ErrInvalidPrice, CodeInvalidPrice},
	{cart.ErrLineNotFound, CodeLineNotFound},
	{payment.ErrNegativeTender, CodeNegativeTender},
}

// FromError wraps err as an AppError. Existing AppErrors pass through; known
// domain errors get their code and a 422 status, anything else is INTERNAL.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var app *AppError
	if errors.As(err, &app) {
		return app
	}
	for _, sc := range sentinelCodes {
		if errors.Is(err, sc.err) {
			return &AppError{Code: sc.code, Message: err.Error(), HTTPStatus: http.StatusUnprocessableEntity, Err: err}
		}
	}
	return &AppError{Code: CodeInternal, Message: err.Error(), HTTPStatus: http.StatusInternalServerError, Err: err}
}

// CodeOf returns the operator code for err, or "" for nil.
func CodeOf(err error) string {
	if app := FromError(err); app != nil {
		return app.Code
	}
	return ""
}
