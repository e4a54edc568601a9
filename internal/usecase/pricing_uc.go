// File: internal/usecase/pricing_uc.go
package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"telegram-vpn-shop/internal/domain"
	"telegram-vpn-shop/internal/domain/model"
	"telegram-vpn-shop/internal/domain/ports/repository"
)

// Compile-time check
var _ PricingUseCase = (*pricingUC)(nil)

type PricingUseCase interface {
	// Calculate resolves the price for a tariff/period with the best
	// applicable discount. Pure: safe to call repeatedly for display.
	Calculate(ctx context.Context, subscriberID int64, tariff string, periodDays int, promoCode string) (*model.PriceSnapshot, error)
}

type pricingUC struct {
	tariffs     repository.TariffRepository
	subscribers repository.SubscriberRepository
	promos      repository.PromoCodeRepository
	log         *zerolog.Logger
}

func NewPricingUseCase(tariffs repository.TariffRepository, subscribers repository.SubscriberRepository, promos repository.PromoCodeRepository, logger *zerolog.Logger) *pricingUC {
	return &pricingUC{tariffs: tariffs, subscribers: subscribers, promos: promos, log: logger}
}

// Discount precedence, highest wins: VIP flat discount > active personal
// discount > promo code > none. The promo is only read here; consumption
// happens inside the finalization transaction.
func (u *pricingUC) Calculate(ctx context.Context, subscriberID int64, tariff string, periodDays int, promoCode string) (*model.PriceSnapshot, error) {
	plan, err := u.tariffs.FindPlan(ctx, repository.NoTX, tariff, periodDays)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTariff) || errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidTariff
		}
		return nil, err
	}

	discount := 0
	source := model.DiscountNone

	sub, err := u.subscribers.FindByID(ctx, repository.NoTX, subscriberID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	now := time.Now()
	if sub != nil {
		if sub.VIP && sub.VIPDiscountPercent > 0 {
			discount, source = sub.VIPDiscountPercent, model.DiscountVIP
		} else if sub.PersonalDiscountActive(now) {
			discount, source = sub.PersonalDiscount, model.DiscountPersonal
		}
	}

	if source == model.DiscountNone && promoCode != "" {
		promo, err := u.promos.FindByCode(ctx, repository.NoTX, promoCode)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				return nil, err
			}
		} else if promo.Active && !promo.Exhausted() {
			discount, source = promo.DiscountPercent, model.DiscountPromo
		}
	}

	return &model.PriceSnapshot{
		Base:            plan.Price,
		Final:           applyDiscount(plan.Price, discount),
		DiscountPercent: discount,
		DiscountSource:  source,
	}, nil
}

func applyDiscount(base int64, percent int) int64 {
	if percent <= 0 {
		return base
	}
	if percent >= 100 {
		return 0
	}
	return base * int64(100-percent) / 100
}
