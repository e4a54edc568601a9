package repository

import (
	"context"
	"time"

	"telegram-vpn-shop/internal/domain/model"
)

// PurchaseFlow is the server-side view of where a subscriber is in the
// purchase conversation. Transitions are validated against the purchase state
// table, never trusted from the caller.
type PurchaseFlow struct {
	State      model.PurchaseState `json:"state"`
	Tariff     string              `json:"tariff,omitempty"`
	PeriodDays int                 `json:"period_days,omitempty"`
	PromoCode  string              `json:"promo_code,omitempty"`
	IntentID   string              `json:"intent_id,omitempty"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

type PurchaseStateRepository interface {
	GetFlow(ctx context.Context, subscriberID int64) (*PurchaseFlow, error)
	SetFlow(ctx context.Context, subscriberID int64, flow *PurchaseFlow) error
	ClearFlow(ctx context.Context, subscriberID int64) error
}
