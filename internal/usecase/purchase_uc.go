// File: internal/usecase/purchase_uc.go
package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"telegram-vpn-shop/internal/domain"
	"telegram-vpn-shop/internal/domain/model"
	"telegram-vpn-shop/internal/domain/ports/repository"
)

// Compile-time check
var _ PurchaseUseCase = (*purchaseUC)(nil)

// PurchaseUseCase owns the purchase flow up to the payment event: the
// server-side state machine and the short-lived purchase intent.
type PurchaseUseCase interface {
	// Advance validates a state transition against the transition table,
	// persisting the new flow. Rejects operations attempted from an invalid
	// state instead of trusting the caller's claimed position.
	Advance(ctx context.Context, subscriberID int64, next model.PurchaseState, mutate func(flow *repository.PurchaseFlow)) (*repository.PurchaseFlow, error)
	// CreateIntent snapshots tariff/period/price into a TTL-bound intent,
	// superseding any prior unconsumed intent for the subscriber.
	CreateIntent(ctx context.Context, subscriberID int64, tariff string, periodDays int, promoCode string) (*model.PurchaseIntent, error)
	// GetIntent fails for expired, consumed, or foreign intents; a consumed
	// intent reports ErrIntentConsumed, the rest ErrNotFound. Either way the
	// caller must treat it as "session expired", not as retryable.
	GetIntent(ctx context.Context, intentID string, subscriberID int64) (*model.PurchaseIntent, error)
	// Abandon clears the flow state after completion or cancellation.
	Abandon(ctx context.Context, subscriberID int64) error
}

type purchaseUC struct {
	intents   repository.PurchaseIntentRepository
	flow      repository.PurchaseStateRepository
	pricing   PricingUseCase
	intentTTL time.Duration
	log       *zerolog.Logger
}

func NewPurchaseUseCase(intents repository.PurchaseIntentRepository, flow repository.PurchaseStateRepository, pricing PricingUseCase, intentTTL time.Duration, logger *zerolog.Logger) *purchaseUC {
	if intentTTL <= 0 {
		intentTTL = model.DefaultIntentTTL
	}
	return &purchaseUC{intents: intents, flow: flow, pricing: pricing, intentTTL: intentTTL, log: logger}
}

func (u *purchaseUC) Advance(ctx context.Context, subscriberID int64, next model.PurchaseState, mutate func(flow *repository.PurchaseFlow)) (*repository.PurchaseFlow, error) {
	flow, err := u.flow.GetFlow(ctx, subscriberID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		// A fresh conversation always begins at tariff selection.
		flow = &repository.PurchaseFlow{State: model.StateChoosingTariff}
		if next == model.StateChoosingTariff {
			if mutate != nil {
				mutate(flow)
			}
			return flow, u.flow.SetFlow(ctx, subscriberID, flow)
		}
	}

	state, err := flow.State.Transition(next)
	if err != nil {
		return nil, err
	}
	flow.State = state
	if mutate != nil {
		mutate(flow)
	}
	if err := u.flow.SetFlow(ctx, subscriberID, flow); err != nil {
		return nil, err
	}
	return flow, nil
}

func (u *purchaseUC) CreateIntent(ctx context.Context, subscriberID int64, tariff string, periodDays int, promoCode string) (*model.PurchaseIntent, error) {
	snapshot, err := u.pricing.Calculate(ctx, subscriberID, tariff, periodDays, promoCode)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	intent := &model.PurchaseIntent{
		ID:              ulid.Make().String(),
		SubscriberID:    subscriberID,
		Tariff:          tariff,
		PeriodDays:      periodDays,
		BasePrice:       snapshot.Base,
		FinalPrice:      snapshot.Final,
		DiscountPercent: snapshot.DiscountPercent,
		CreatedAt:       now,
		ExpiresAt:       now.Add(u.intentTTL),
	}
	if snapshot.DiscountSource == model.DiscountPromo && promoCode != "" {
		intent.PromoCode = &promoCode
	}
	if err := u.intents.Save(ctx, repository.NoTX, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

func (u *purchaseUC) GetIntent(ctx context.Context, intentID string, subscriberID int64) (*model.PurchaseIntent, error) {
	intent, err := u.intents.FindByID(ctx, repository.NoTX, intentID)
	if err != nil {
		return nil, err
	}
	if intent.SubscriberID != subscriberID {
		return nil, domain.ErrNotFound
	}
	if intent.Consumed {
		return nil, domain.ErrIntentConsumed
	}
	if !intent.Usable(time.Now()) {
		return nil, domain.ErrNotFound
	}
	return intent, nil
}

func (u *purchaseUC) Abandon(ctx context.Context, subscriberID int64) error {
	return u.flow.ClearFlow(ctx, subscriberID)
}
