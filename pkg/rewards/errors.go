package rewards

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the reward service.
var (
	ErrClaimCooldown         = errors.New("claim cooldown active")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrBelowMinimumWithdraw  = errors.New("below minimum withdrawal")
	ErrUnknownAd             = errors.New("unknown ad")
	ErrInvalidUserID         = errors.New("invalid user id")
	ErrInvalidAdID           = errors.New("invalid ad id")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidBalance        = errors.New("invalid balance")
	ErrInvalidReferralRate   = errors.New("invalid referral rate")
	ErrInvalidWithdrawTarget = errors.New("invalid withdrawal target")
	ErrInvalidServiceConfig  = errors.New("invalid service config")
)

// CooldownError reports a rejected claim and how long until the next eligible one.
// It is a normal rejection path, not a store failure; matching errors.Is(err,
// ErrClaimCooldown) distinguishes it from real errors.
type CooldownError struct {
	SecondsLeft int64
}

// Error returns the formatted rejection message.
func (cooldownError CooldownError) Error() string {
	return fmt.Sprintf("claim cooldown active: %d seconds left", cooldownError.SecondsLeft)
}

// Is matches the ErrClaimCooldown sentinel.
func (cooldownError CooldownError) Is(target error) bool {
	return target == ErrClaimCooldown
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
