package repository

import (
	"context"

	"telegram-vpn-shop/internal/domain/model"
)

type ReferralRewardRepository interface {
	// SaveOnce inserts the reward unless one already exists for
	// (buyer_id, purchase_id). Returns false on the duplicate no-op.
	SaveOnce(ctx context.Context, tx Tx, r *model.ReferralReward) (bool, error)
	ListByReferrer(ctx context.Context, tx Tx, referrerID int64) ([]*model.ReferralReward, error)
}
