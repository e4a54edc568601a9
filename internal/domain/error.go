package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid executor context")

	// Purchase / payment errors
	ErrInvalidTariff     = errors.New("unknown tariff or period")
	ErrInvalidPayload    = errors.New("malformed payment payload")
	ErrStaleContext      = errors.New("purchase context missing or expired")
	ErrAmountMismatch    = errors.New("payment amount does not match purchase price")
	ErrAlreadyProcessing = errors.New("payment event is already being processed")
	ErrPromoExhausted    = errors.New("promo code has no uses left")
	ErrPromoInactive     = errors.New("promo code is not active")
	ErrIntentConsumed    = errors.New("purchase intent already consumed")
	ErrInvalidTransition = errors.New("operation not allowed from current purchase state")

	// Subscription / provisioning errors
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrLockBusy             = errors.New("operation already in progress for this subscriber")
	ErrProvisioning         = errors.New("provisioning call failed")
)
