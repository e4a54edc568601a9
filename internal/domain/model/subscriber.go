package model

import "time"

// Subscriber carries the discount and referral state the price calculator and
// finalizer read. Keyed by the chat platform's numeric user id.
type Subscriber struct {
	ID                 int64
	Username           string
	VIP                bool
	VIPDiscountPercent int
	PersonalDiscount   int        // 0 when none granted
	PersonalUntil      *time.Time // personal discount expiry, nil = no bound
	ReferrerID         *int64
	Balance            int64 // minor units, credited by top-up payments
	RegisteredAt       time.Time
}

// PersonalDiscountActive reports whether a personal discount applies now.
func (s *Subscriber) PersonalDiscountActive(now time.Time) bool {
	if s.PersonalDiscount <= 0 {
		return false
	}
	return s.PersonalUntil == nil || s.PersonalUntil.After(now)
}

// TariffPlan is one sellable (tariff, period) combination with its base price.
type TariffPlan struct {
	Tariff     string
	PeriodDays int
	Price      int64
	Active     bool
}
