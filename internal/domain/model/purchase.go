package model

import (
	"time"

	"telegram-vpn-shop/internal/domain"
)

// DefaultIntentTTL bounds how long a picked tariff/price stays valid before
// the subscriber must restart the purchase.
const DefaultIntentTTL = 5 * time.Minute

// PurchaseIntent is the short-lived record of a subscriber's chosen
// tariff/period/price before payment confirmation. Consumed exactly once by
// the payment finalizer; a newer intent for the same subscriber supersedes it.
type PurchaseIntent struct {
	ID              string // ULID, time-sortable
	SubscriberID    int64
	Tariff          string
	PeriodDays      int
	BasePrice       int64
	FinalPrice      int64
	DiscountPercent int
	PromoCode       *string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	Consumed        bool
}

// Usable reports whether the intent can still back a finalization.
func (i *PurchaseIntent) Usable(now time.Time) bool {
	return !i.Consumed && i.ExpiresAt.After(now)
}

// PurchaseState is the server-side purchase flow state. Transitions are
// validated here instead of trusting whatever the UI session claims.
type PurchaseState string

const (
	StateChoosingTariff        PurchaseState = "choosing_tariff"
	StateChoosingPeriod        PurchaseState = "choosing_period"
	StateChoosingPaymentMethod PurchaseState = "choosing_payment_method"
	StateProcessingPayment     PurchaseState = "processing_payment"
)

var purchaseTransitions = map[PurchaseState][]PurchaseState{
	StateChoosingTariff:        {StateChoosingPeriod},
	StateChoosingPeriod:        {StateChoosingTariff, StateChoosingPaymentMethod},
	StateChoosingPaymentMethod: {StateChoosingTariff, StateChoosingPeriod, StateProcessingPayment},
	StateProcessingPayment:     {StateChoosingTariff},
}

// Transition validates and returns the next state.
func (s PurchaseState) Transition(next PurchaseState) (PurchaseState, error) {
	for _, allowed := range purchaseTransitions[s] {
		if allowed == next {
			return next, nil
		}
	}
	return s, domain.ErrInvalidTransition
}
