package model

import "time"

// PromoCode is consumed only inside the finalization transaction, never at
// apply time, so an abandoned purchase cannot burn a use.
type PromoCode struct {
	Code            string
	DiscountPercent int
	MaxUses         int
	UsedCount       int
	Active          bool
	CreatedAt       time.Time
}

// Exhausted reports whether no uses remain.
func (p *PromoCode) Exhausted() bool { return p.UsedCount >= p.MaxUses }

type DiscountSource string

const (
	DiscountNone     DiscountSource = "none"
	DiscountVIP      DiscountSource = "vip"
	DiscountPersonal DiscountSource = "personal"
	DiscountPromo    DiscountSource = "promo"
)

// PriceSnapshot is the pure output of the price calculator; safe to recompute
// for display any number of times.
type PriceSnapshot struct {
	Base            int64
	Final           int64
	DiscountPercent int
	DiscountSource  DiscountSource
}
