package repository

import (
	"context"

	"telegram-vpn-shop/internal/domain/model"
)

type NotificationLogRepository interface {
	// IsSent reports whether the notification was already delivered for this
	// payment.
	IsSent(ctx context.Context, tx Tx, paymentID string, kind model.NotificationKind) (bool, error)
	// MarkSent records a successful delivery. The UNIQUE constraint on
	// (payment_id, kind) makes a duplicate mark a no-op.
	MarkSent(ctx context.Context, tx Tx, paymentID string, kind model.NotificationKind) error
}
