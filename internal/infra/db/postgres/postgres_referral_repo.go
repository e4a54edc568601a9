package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-vpn-shop/internal/domain"
	"telegram-vpn-shop/internal/domain/model"
	"telegram-vpn-shop/internal/domain/ports/repository"
)

var _ repository.ReferralRewardRepository = (*referralRepo)(nil)

type referralRepo struct{ pool *pgxpool.Pool }

func NewReferralRepo(pool *pgxpool.Pool) *referralRepo {
	return &referralRepo{pool: pool}
}

func (r *referralRepo) SaveOnce(ctx context.Context, tx repository.Tx, rw *model.ReferralReward) (bool, error) {
	// The (buyer_id, purchase_id) UNIQUE constraint makes a duplicate
	// finalize a clean no-op rather than a double reward.
	const q = `
INSERT INTO referral_rewards (id, referrer_id, buyer_id, purchase_id, percent, reward_amount, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (buyer_id, purchase_id) DO NOTHING;`
	cmd, err := execSQL(ctx, r.pool, tx, q, rw.ID, rw.ReferrerID, rw.BuyerID, rw.PurchaseID, rw.Percent, rw.RewardAmount, rw.CreatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *referralRepo) ListByReferrer(ctx context.Context, tx repository.Tx, referrerID int64) ([]*model.ReferralReward, error) {
	const q = `SELECT id, referrer_id, buyer_id, purchase_id, percent, reward_amount, created_at
FROM referral_rewards WHERE referrer_id=$1 ORDER BY created_at DESC;`
	rows, err := queryRows(ctx, r.pool, tx, q, referrerID)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.ReferralReward
	for rows.Next() {
		rw := &model.ReferralReward{}
		if err := rows.Scan(&rw.ID, &rw.ReferrerID, &rw.BuyerID, &rw.PurchaseID, &rw.Percent, &rw.RewardAmount, &rw.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, rw)
	}
	return out, nil
}
