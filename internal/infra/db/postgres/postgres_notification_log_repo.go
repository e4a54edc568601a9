package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-vpn-shop/internal/domain"
	"telegram-vpn-shop/internal/domain/model"
	"telegram-vpn-shop/internal/domain/ports/repository"
)

var _ repository.NotificationLogRepository = (*notificationLogRepo)(nil)

type notificationLogRepo struct{ pool *pgxpool.Pool }

func NewNotificationLogRepo(pool *pgxpool.Pool) repository.NotificationLogRepository {
	return &notificationLogRepo{pool: pool}
}

func (r *notificationLogRepo) IsSent(ctx context.Context, tx repository.Tx, paymentID string, kind model.NotificationKind) (bool, error) {
	// SELECT EXISTS stops on the first match.
	const q = `
SELECT EXISTS(
    SELECT 1 FROM notification_log
    WHERE payment_id = $1 AND kind = $2 AND sent = TRUE
)`
	row, err := pickRow(ctx, r.pool, tx, q, paymentID, kind)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := row.Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, domain.ErrReadDatabaseRow
	}
	return exists, nil
}

func (r *notificationLogRepo) MarkSent(ctx context.Context, tx repository.Tx, paymentID string, kind model.NotificationKind) error {
	// The UNIQUE constraint on (payment_id, kind) handles duplicate marks.
	const q = `
INSERT INTO notification_log (id, payment_id, kind, sent, sent_at)
VALUES ($1, $2, $3, TRUE, NOW())
ON CONFLICT (payment_id, kind) DO UPDATE SET sent=TRUE, sent_at=NOW();`
	_, err := execSQL(ctx, r.pool, tx, q, uuid.NewString(), paymentID, kind)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}
