// File: internal/usecase/notification_uc.go
package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"telegram-vpn-shop/internal/domain/model"
	"telegram-vpn-shop/internal/domain/ports/repository"
	"telegram-vpn-shop/internal/infra/metrics"
)

// Compile-time check
var _ NotificationDispatcher = (*notificationUC)(nil)

// NotificationDispatcher is the idempotent outbox in front of the chat
// transport: at most one delivery per logical event, independent of how many
// times the surrounding handler retries.
type NotificationDispatcher interface {
	// DispatchOnce calls send unless a delivery for (eventID, kind) already
	// succeeded. Returns true when send ran and succeeded, false on skip.
	// A failed send leaves the record unsent so a later retry may deliver.
	DispatchOnce(ctx context.Context, eventID string, kind model.NotificationKind, send func(ctx context.Context) error) (bool, error)
}

type notificationUC struct {
	records repository.NotificationLogRepository
	log     *zerolog.Logger
}

func NewNotificationDispatcher(records repository.NotificationLogRepository, logger *zerolog.Logger) *notificationUC {
	l := logger.With().Str("component", "NotificationDispatcher").Logger()
	return &notificationUC{records: records, log: &l}
}

func (n *notificationUC) DispatchOnce(ctx context.Context, eventID string, kind model.NotificationKind, send func(ctx context.Context) error) (bool, error) {
	sent, err := n.records.IsSent(ctx, repository.NoTX, eventID, kind)
	if err != nil {
		return false, err
	}
	if sent {
		metrics.IncNotification(string(kind), "skipped")
		return false, nil
	}

	if err := send(ctx); err != nil {
		metrics.IncNotification(string(kind), "failed")
		n.log.Warn().Err(err).Str("event_id", eventID).Str("kind", string(kind)).Msg("notification delivery failed")
		return false, err
	}

	if err := n.records.MarkSent(ctx, repository.NoTX, eventID, kind); err != nil {
		// Delivery happened; a failed mark risks one duplicate on retry,
		// which the unique constraint bounds to exactly one.
		n.log.Error().Err(err).Str("event_id", eventID).Str("kind", string(kind)).Msg("failed to mark notification sent")
		return true, err
	}
	metrics.IncNotification(string(kind), "sent")
	return true, nil
}
