package utils

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/vitwit/xpay/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
}

// Validator exposes the shared validator so other packages register tags on
// the same instance.
func Validator() *validator.Validate {
	return validate
}

// ValidateTarget checks a payment target's tags and its amount.
func ValidateTarget(target *types.PaymentTarget) error {
	if err := validate.Struct(target); err != nil {
		return types.NewPreconditionError(types.ErrInvalidTarget, fmt.Sprintf("validation failed: %v", err), types.RemedyNone)
	}
	if !target.Amount.IsPositive() {
		return types.NewPreconditionError(types.ErrInvalidTarget, "amount must be positive", types.RemedyNone)
	}
	if _, err := ValidateAddress(target.Recipient); err != nil {
		return types.NewPreconditionError(types.ErrInvalidTarget, err.Error(), types.RemedyNone)
	}
	return nil
}

// ParsePaymentTarget parses and validates a PaymentTarget from JSON.
func ParsePaymentTarget(data []byte) (*types.PaymentTarget, error) {
	var target types.PaymentTarget

	if err := json.Unmarshal(data, &target); err != nil {
		return nil, types.NewPreconditionError(types.ErrInvalidTarget, fmt.Sprintf("failed to parse payment target: %v", err), types.RemedyNone)
	}

	if err := ValidateTarget(&target); err != nil {
		return nil, err
	}

	return &target, nil
}
