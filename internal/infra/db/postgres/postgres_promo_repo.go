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

var _ repository.PromoCodeRepository = (*promoRepo)(nil)

type promoRepo struct{ pool *pgxpool.Pool }

func NewPromoRepo(pool *pgxpool.Pool) *promoRepo {
	return &promoRepo{pool: pool}
}

func (r *promoRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.PromoCode, error) {
	q := `SELECT code, discount_percent, max_uses, used_count, active, created_at FROM promo_codes WHERE code=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, code)
	if err != nil {
		return nil, err
	}

	p := &model.PromoCode{}
	if err := row.Scan(&p.Code, &p.DiscountPercent, &p.MaxUses, &p.UsedCount, &p.Active, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return p, nil
}

func (r *promoRepo) Save(ctx context.Context, tx repository.Tx, p *model.PromoCode) error {
	const q = `
INSERT INTO promo_codes (code, discount_percent, max_uses, used_count, active, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (code) DO UPDATE SET
  discount_percent=$2, max_uses=$3, used_count=$4, active=$5;`
	_, err := execSQL(ctx, r.pool, tx, q, p.Code, p.DiscountPercent, p.MaxUses, p.UsedCount, p.Active, p.CreatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

// Consume is the only mutation path for used_count. The WHERE clause keeps
// used_count <= max_uses under any concurrency; zero rows affected means the
// code was exhausted or deactivated between validation and pay time.
func (r *promoRepo) Consume(ctx context.Context, tx repository.Tx, code string) (bool, error) {
	const q = `
UPDATE promo_codes SET used_count = used_count + 1
WHERE code=$1 AND active=TRUE AND used_count < max_uses;`
	cmd, err := execSQL(ctx, r.pool, tx, q, code)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}
