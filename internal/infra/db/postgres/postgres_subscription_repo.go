package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-vpn-shop/internal/domain"
	"telegram-vpn-shop/internal/domain/model"
	"telegram-vpn-shop/internal/domain/ports/repository"
)

var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct{ pool *pgxpool.Pool }

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionCols = `subscriber_id, key_id, expires_at, status, activation_status, activation_attempts, last_activation_error, auto_renew, created_at, updated_at`

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	s := &model.Subscription{}
	if err := row.Scan(&s.SubscriberID, &s.KeyID, &s.ExpiresAt, &s.Status, &s.ActivationStatus, &s.ActivationAttempts, &s.LastActivationError, &s.AutoRenew, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return s, nil
}

func (r *subscriptionRepo) FindBySubscriber(ctx context.Context, tx repository.Tx, subscriberID int64) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionCols + ` FROM subscriptions WHERE subscriber_id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, subscriberID)
	if err != nil {
		return nil, err
	}
	return scanSubscription(row)
}

func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (` + subscriptionCols + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (subscriber_id) DO UPDATE SET
  key_id=$2, expires_at=$3, status=$4, activation_status=$5,
  activation_attempts=$6, last_activation_error=$7, auto_renew=$8, updated_at=$10;`

	_, err := execSQL(ctx, r.pool, tx, q,
		s.SubscriberID, s.KeyID, s.ExpiresAt, s.Status, s.ActivationStatus,
		s.ActivationAttempts, s.LastActivationError, s.AutoRenew, s.CreatedAt, time.Now())
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *subscriptionRepo) SetActivationResult(ctx context.Context, tx repository.Tx, subscriberID int64, status model.ActivationStatus, keyID *string, attempts int, lastErr *string) error {
	const q = `
UPDATE subscriptions
   SET activation_status=$2,
       key_id=COALESCE($3, key_id),
       activation_attempts=$4,
       last_activation_error=$5,
       updated_at=NOW()
 WHERE subscriber_id=$1;`

	cmd, err := execSQL(ctx, r.pool, tx, q, subscriberID, status, keyID, attempts, lastErr)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *subscriptionRepo) ListActiveProvisionable(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.Subscription, error) {
	const q = `SELECT ` + subscriptionCols + ` FROM subscriptions
WHERE status='active' AND expires_at > $1 AND key_id IS NOT NULL
ORDER BY subscriber_id;`
	rows, err := queryRows(ctx, r.pool, tx, q, now)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s := &model.Subscription{}
		if err := rows.Scan(&s.SubscriberID, &s.KeyID, &s.ExpiresAt, &s.Status, &s.ActivationStatus, &s.ActivationAttempts, &s.LastActivationError, &s.AutoRenew, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *subscriptionRepo) ListPendingActivation(ctx context.Context, tx repository.Tx, maxAttempts, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + subscriptionCols + ` FROM subscriptions
WHERE activation_status='pending' AND activation_attempts < $1
ORDER BY updated_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, maxAttempts, limit)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s := &model.Subscription{}
		if err := rows.Scan(&s.SubscriberID, &s.KeyID, &s.ExpiresAt, &s.Status, &s.ActivationStatus, &s.ActivationAttempts, &s.LastActivationError, &s.AutoRenew, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *subscriptionRepo) ExpireDue(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.Subscription, error) {
	const q = `
UPDATE subscriptions SET status='expired', updated_at=NOW()
WHERE status='active' AND expires_at <= $1
RETURNING ` + subscriptionCols + `;`
	rows, err := queryRows(ctx, r.pool, tx, q, now)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s := &model.Subscription{}
		if err := rows.Scan(&s.SubscriberID, &s.KeyID, &s.ExpiresAt, &s.Status, &s.ActivationStatus, &s.ActivationAttempts, &s.LastActivationError, &s.AutoRenew, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *subscriptionRepo) Delete(ctx context.Context, tx repository.Tx, subscriberID int64) error {
	_, err := execSQL(ctx, r.pool, tx, `DELETE FROM subscriptions WHERE subscriber_id=$1;`, subscriberID)
	if err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}
