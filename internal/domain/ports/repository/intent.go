package repository

import (
	"context"

	"telegram-vpn-shop/internal/domain/model"
)

type PurchaseIntentRepository interface {
	// Save inserts the intent and cancels any prior unconsumed intent for the
	// same subscriber in one statement batch.
	Save(ctx context.Context, tx Tx, intent *model.PurchaseIntent) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.PurchaseIntent, error)
	// MarkConsumed is idempotent and only called from inside the payment
	// finalizer's transaction.
	MarkConsumed(ctx context.Context, tx Tx, id string) error
	// DeleteExpired removes intents whose TTL passed; returns rows removed.
	DeleteExpired(ctx context.Context, tx Tx) (int, error)
}
