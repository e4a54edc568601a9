package model

import (
	"strconv"
	"strings"
	"time"

	"telegram-vpn-shop/internal/domain"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"  // finalization in flight
	PaymentStatusApproved PaymentStatus = "approved" // finalized exactly once
	PaymentStatusRejected PaymentStatus = "rejected" // validation failed, safe to retry from scratch
)

// Payment records one real-world charge. (Provider, ProviderChargeID) is the
// idempotency anchor: the same pair must never finalize twice.
type Payment struct {
	ID               string // UUID
	SubscriberID     int64
	Provider         string
	ProviderChargeID string
	Amount           int64 // minor currency units, integers only
	Status           PaymentStatus
	IntentID         *string // linked purchase intent, nil for top-ups
	CreatedAt        time.Time
	UpdatedAt        time.Time
	PaidAt           *time.Time
}

// PaymentEvent is the inbound shape delivered by a payment provider
// integration. Payload encodes either "purchase:<intent_id>" or "topup".
type PaymentEvent struct {
	Provider         string
	ProviderChargeID string
	Amount           int64
	Payload          string
}

type PayloadKind string

const (
	PayloadPurchase PayloadKind = "purchase"
	PayloadTopUp    PayloadKind = "topup"
)

// PayloadRef is the parsed form of PaymentEvent.Payload.
type PayloadRef struct {
	Kind         PayloadKind
	IntentID     string // set for purchases
	SubscriberID int64  // set for top-ups
}

// ParsePayload rejects any shape other than "purchase:<intent_id>" or
// "topup:<subscriber_id>".
func ParsePayload(payload string) (*PayloadRef, error) {
	kind, rest, ok := strings.Cut(payload, ":")
	if !ok || rest == "" {
		return nil, domain.ErrInvalidPayload
	}
	switch PayloadKind(kind) {
	case PayloadPurchase:
		return &PayloadRef{Kind: PayloadPurchase, IntentID: rest}, nil
	case PayloadTopUp:
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil || id <= 0 {
			return nil, domain.ErrInvalidPayload
		}
		return &PayloadRef{Kind: PayloadTopUp, SubscriberID: id}, nil
	default:
		return nil, domain.ErrInvalidPayload
	}
}

// FinalizationOutcome tags the result of Finalize so an idempotency hit is a
// value the caller must handle, never an error that can leak upward.
type FinalizationOutcome string

const (
	OutcomeFinalized        FinalizationOutcome = "finalized"
	OutcomeAlreadyProcessed FinalizationOutcome = "already_processed"
)

// FinalizationResult is returned to the purchase flow after a payment event
// is settled. ActivationPending means money was captured and the subscription
// row exists, but the control-plane call has not succeeded yet.
type FinalizationResult struct {
	Outcome               FinalizationOutcome
	PaymentID             string
	SubscriberID          int64
	SubscriptionExpiresAt time.Time
	KeyMaterial           string
	ActivationPending     bool
	IsRenewal             bool
}
