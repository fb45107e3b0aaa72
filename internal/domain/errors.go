package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Common errors.
var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrInsufficientData      = errors.New("insufficient data")
)

// ValidateTransactionInput rejects empty identifiers and non-positive amounts.
func ValidateTransactionInput(userID, deviceID, merchantID string, amount decimal.Decimal) error {
	switch {
	case userID == "":
		return fmt.Errorf("%w: userId is required", ErrInvalidInput)
	case deviceID == "":
		return fmt.Errorf("%w: deviceId is required", ErrInvalidInput)
	case merchantID == "":
		return fmt.Errorf("%w: merchantId is required", ErrInvalidInput)
	case !amount.IsPositive():
		return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidInput)
	}
	return nil
}
