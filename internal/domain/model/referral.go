package model

import "time"

// ReferralReward is created at most once per purchase; the
// (buyer_id, purchase_id) uniqueness constraint is load-bearing.
type ReferralReward struct {
	ID           string // UUID
	ReferrerID   int64
	BuyerID      int64
	PurchaseID   string // payment id of the qualifying purchase
	Percent      int
	RewardAmount int64
	CreatedAt    time.Time
}
