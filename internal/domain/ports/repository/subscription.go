package repository

import (
	"context"
	"time"

	"telegram-vpn-shop/internal/domain/model"
)

type SubscriptionRepository interface {
	// FindBySubscriber loads the subscriber's row. When tx is a transaction
	// handle the row is locked FOR UPDATE.
	FindBySubscriber(ctx context.Context, tx Tx, subscriberID int64) (*model.Subscription, error)
	Save(ctx context.Context, tx Tx, sub *model.Subscription) error
	// SetActivationResult records the outcome of a provisioning attempt.
	// keyID is nil on failure; lastErr is nil on success.
	SetActivationResult(ctx context.Context, tx Tx, subscriberID int64, status model.ActivationStatus, keyID *string, attempts int, lastErr *string) error
	// ListActiveProvisionable returns the desired control-plane state:
	// active, non-expired subscriptions holding a key.
	ListActiveProvisionable(ctx context.Context, tx Tx, now time.Time) ([]*model.Subscription, error)
	// ListPendingActivation returns rows awaiting a provisioning retry.
	ListPendingActivation(ctx context.Context, tx Tx, maxAttempts, limit int) ([]*model.Subscription, error)
	// ExpireDue flips active rows past their expiry and returns them.
	ExpireDue(ctx context.Context, tx Tx, now time.Time) ([]*model.Subscription, error)
	Delete(ctx context.Context, tx Tx, subscriberID int64) error
}
