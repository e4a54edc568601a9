package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-vpn-shop/internal/domain"
	"telegram-vpn-shop/internal/domain/model"
	"telegram-vpn-shop/internal/domain/ports/repository"
)

var _ repository.PurchaseIntentRepository = (*intentRepo)(nil)

type intentRepo struct{ pool *pgxpool.Pool }

func NewIntentRepo(pool *pgxpool.Pool) *intentRepo {
	return &intentRepo{pool: pool}
}

const intentCols = `id, subscriber_id, tariff, period_days, base_price, final_price, discount_percent, promo_code, created_at, expires_at, consumed`

func (r *intentRepo) Save(ctx context.Context, tx repository.Tx, intent *model.PurchaseIntent) error {
	// Re-selecting a tariff supersedes the old intent; expiring it here keeps
	// one usable intent per subscriber at any time.
	const cancel = `UPDATE purchase_intents SET expires_at=NOW() WHERE subscriber_id=$1 AND consumed=FALSE AND expires_at > NOW();`
	if _, err := execSQL(ctx, r.pool, tx, cancel, intent.SubscriberID); err != nil {
		return domain.ErrOperationFailed
	}

	const q = `
INSERT INTO purchase_intents (` + intentCols + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11);`
	_, err := execSQL(ctx, r.pool, tx, q,
		intent.ID, intent.SubscriberID, intent.Tariff, intent.PeriodDays,
		intent.BasePrice, intent.FinalPrice, intent.DiscountPercent, intent.PromoCode,
		intent.CreatedAt, intent.ExpiresAt, intent.Consumed)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *intentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PurchaseIntent, error) {
	q := `SELECT ` + intentCols + ` FROM purchase_intents WHERE id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}

	i := &model.PurchaseIntent{}
	if err := row.Scan(&i.ID, &i.SubscriberID, &i.Tariff, &i.PeriodDays, &i.BasePrice, &i.FinalPrice, &i.DiscountPercent, &i.PromoCode, &i.CreatedAt, &i.ExpiresAt, &i.Consumed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return i, nil
}

func (r *intentRepo) MarkConsumed(ctx context.Context, tx repository.Tx, id string) error {
	const q = `UPDATE purchase_intents SET consumed=TRUE WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *intentRepo) DeleteExpired(ctx context.Context, tx repository.Tx) (int, error) {
	const q = `DELETE FROM purchase_intents WHERE consumed=FALSE AND expires_at <= NOW();`
	cmd, err := execSQL(ctx, r.pool, tx, q)
	if err != nil {
		return 0, domain.ErrOperationFailed
	}
	return int(cmd.RowsAffected()), nil
}
