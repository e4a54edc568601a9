package model

import (
	"time"

	"telegram-vpn-shop/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive  SubscriptionStatus = "active"
	SubscriptionStatusExpired SubscriptionStatus = "expired"
)

type ActivationStatus string

const (
	// ActivationActive means the control-plane confirmed the key.
	ActivationActive ActivationStatus = "active"
	// ActivationPending means the purchase is committed but the key is not
	// confirmed provisioned yet. The retry worker owns this state.
	ActivationPending ActivationStatus = "pending"
	// ActivationFailed means retries ran out; operator escalation required.
	ActivationFailed ActivationStatus = "failed"
)

// Subscription is the authoritative access record, one row per subscriber.
// The external control-plane is always reconciled to this, never the reverse.
type Subscription struct {
	SubscriberID        int64
	KeyID               *string // nil until the control-plane confirmed a key
	ExpiresAt           time.Time
	Status              SubscriptionStatus
	ActivationStatus    ActivationStatus
	ActivationAttempts  int
	LastActivationError *string
	AutoRenew           bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsActive reports whether the subscription grants access right now.
// A row is never active without a confirmed key and a future expiry.
func (s *Subscription) IsActive(now time.Time) bool {
	return s.Status == SubscriptionStatusActive && s.KeyID != nil && s.ExpiresAt.After(now)
}

// ExtendedExpiry computes the expiry a renewal of periodDays yields: on top of
// the remaining time when still active, from now otherwise.
func (s *Subscription) ExtendedExpiry(now time.Time, periodDays int) time.Time {
	base := now
	if s != nil && s.Status == SubscriptionStatusActive && s.ExpiresAt.After(now) {
		base = s.ExpiresAt
	}
	return base.Add(time.Duration(periodDays) * 24 * time.Hour)
}

// NewSubscription creates a pending subscription for a first purchase.
func NewSubscription(subscriberID int64, expiresAt time.Time) (*Subscription, error) {
	if subscriberID <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Subscription{
		SubscriberID:     subscriberID,
		ExpiresAt:        expiresAt,
		Status:           SubscriptionStatusActive,
		ActivationStatus: ActivationPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}
