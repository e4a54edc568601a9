package repository

import (
	"context"

	"telegram-vpn-shop/internal/domain/model"
)

type PaymentRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Payment) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)
	// FindByChargeID looks a payment up by its idempotency anchor.
	FindByChargeID(ctx context.Context, tx Tx, provider, chargeID string) (*model.Payment, error)
	// FindLatestApproved returns the subscriber's most recent approved
	// payment, the anchor for post-hoc notifications.
	FindLatestApproved(ctx context.Context, tx Tx, subscriberID int64) (*model.Payment, error)
	UpdateStatus(ctx context.Context, tx Tx, id string, status model.PaymentStatus) error
}
