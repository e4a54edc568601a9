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

var _ repository.SubscriberRepository = (*subscriberRepo)(nil)

type subscriberRepo struct{ pool *pgxpool.Pool }

func NewSubscriberRepo(pool *pgxpool.Pool) *subscriberRepo {
	return &subscriberRepo{pool: pool}
}

const subscriberCols = `id, username, vip, vip_discount_percent, personal_discount, personal_until, referrer_id, balance, registered_at`

func (r *subscriberRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.Subscriber, error) {
	q := `SELECT ` + subscriberCols + ` FROM subscribers WHERE id=$1`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}

	s := &model.Subscriber{}
	if err := row.Scan(&s.ID, &s.Username, &s.VIP, &s.VIPDiscountPercent, &s.PersonalDiscount, &s.PersonalUntil, &s.ReferrerID, &s.Balance, &s.RegisteredAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return s, nil
}

func (r *subscriberRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscriber) error {
	const q = `
INSERT INTO subscribers (` + subscriberCols + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
  username=$2, vip=$3, vip_discount_percent=$4, personal_discount=$5,
  personal_until=$6, referrer_id=$7, balance=$8;`
	_, err := execSQL(ctx, r.pool, tx, q,
		s.ID, s.Username, s.VIP, s.VIPDiscountPercent, s.PersonalDiscount, s.PersonalUntil, s.ReferrerID, s.Balance, s.RegisteredAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *subscriberRepo) CreditBalance(ctx context.Context, tx repository.Tx, id int64, amount int64) error {
	const q = `UPDATE subscribers SET balance = balance + $2 WHERE id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, amount)
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

var _ repository.TariffRepository = (*tariffRepo)(nil)

type tariffRepo struct{ pool *pgxpool.Pool }

func NewTariffRepo(pool *pgxpool.Pool) *tariffRepo {
	return &tariffRepo{pool: pool}
}

func (r *tariffRepo) FindPlan(ctx context.Context, tx repository.Tx, tariff string, periodDays int) (*model.TariffPlan, error) {
	const q = `SELECT tariff, period_days, price, active FROM tariff_plans
WHERE tariff=$1 AND period_days=$2 AND active=TRUE;`
	row, err := pickRow(ctx, r.pool, tx, q, tariff, periodDays)
	if err != nil {
		return nil, err
	}

	p := &model.TariffPlan{}
	if err := row.Scan(&p.Tariff, &p.PeriodDays, &p.Price, &p.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInvalidTariff
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return p, nil
}

func (r *tariffRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.TariffPlan, error) {
	const q = `SELECT tariff, period_days, price, active FROM tariff_plans
WHERE active=TRUE ORDER BY tariff, period_days;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.TariffPlan
	for rows.Next() {
		p := &model.TariffPlan{}
		if err := rows.Scan(&p.Tariff, &p.PeriodDays, &p.Price, &p.Active); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, p)
	}
	return out, nil
}
