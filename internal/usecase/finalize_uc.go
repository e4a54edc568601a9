// File: internal/usecase/finalize_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-vpn-shop/internal/domain"
	"telegram-vpn-shop/internal/domain/model"
	"telegram-vpn-shop/internal/domain/ports/adapter"
	"telegram-vpn-shop/internal/domain/ports/locker"
	"telegram-vpn-shop/internal/domain/ports/repository"
	"telegram-vpn-shop/internal/infra/db/postgres"
	"telegram-vpn-shop/internal/infra/metrics"
)

// Compile-time check
var _ FinalizeUseCase = (*finalizeUC)(nil)

// FinalizeUseCase converts a verified payment event into an activated or
// renewed subscription exactly once.
type FinalizeUseCase interface {
	Finalize(ctx context.Context, ev model.PaymentEvent) (*model.FinalizationResult, error)
}

type finalizeUC struct {
	txm         repository.TransactionManager
	payments    repository.PaymentRepository
	intents     repository.PurchaseIntentRepository
	subs        repository.SubscriptionRepository
	subscribers repository.SubscriberRepository
	promos      repository.PromoCodeRepository
	referrals   repository.ReferralRewardRepository
	audit       repository.AuditRepository
	guard       locker.SubscriberGuard
	provisioner adapter.ProvisioningClient
	dispatcher  NotificationDispatcher
	notifier    adapter.Notifier
	referralPct int
	log         *zerolog.Logger
}

func NewFinalizeUseCase(
	txm repository.TransactionManager,
	payments repository.PaymentRepository,
	intents repository.PurchaseIntentRepository,
	subs repository.SubscriptionRepository,
	subscribers repository.SubscriberRepository,
	promos repository.PromoCodeRepository,
	referrals repository.ReferralRewardRepository,
	audit repository.AuditRepository,
	guard locker.SubscriberGuard,
	provisioner adapter.ProvisioningClient,
	dispatcher NotificationDispatcher,
	notifier adapter.Notifier,
	referralPct int,
	logger *zerolog.Logger,
) *finalizeUC {
	l := logger.With().Str("component", "PaymentFinalizer").Logger()
	return &finalizeUC{
		txm: txm, payments: payments, intents: intents, subs: subs,
		subscribers: subscribers, promos: promos, referrals: referrals,
		audit: audit, guard: guard, provisioner: provisioner,
		dispatcher: dispatcher, notifier: notifier,
		referralPct: referralPct, log: &l,
	}
}

// Finalize validates the event, commits subscription state, promo consumption
// and referral reward atomically, then provisions the key best-effort.
// A provisioning failure never rolls the purchase back: the paying customer
// keeps the subscription and the retry worker finishes activation later.
func (u *finalizeUC) Finalize(ctx context.Context, ev model.PaymentEvent) (*model.FinalizationResult, error) {
	ref, err := model.ParsePayload(ev.Payload)
	if err != nil {
		metrics.IncPayment("rejected")
		return nil, err
	}

	// Idempotency fast path, no locks held.
	if prior, err := u.payments.FindByChargeID(ctx, repository.NoTX, ev.Provider, ev.ProviderChargeID); err == nil {
		return u.priorResult(ctx, prior)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if ref.Kind == model.PayloadTopUp {
		return u.finalizeTopUp(ctx, ev, ref)
	}

	intent, err := u.resolveIntent(ctx, ev, ref.IntentID)
	if err != nil {
		return nil, err
	}
	if ev.Amount != intent.FinalPrice {
		metrics.IncPayment("rejected")
		return nil, domain.ErrAmountMismatch
	}

	res, err := u.commitPurchase(ctx, ev, intent)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// Lost the insert race against a concurrent duplicate.
			if prior, ferr := u.payments.FindByChargeID(ctx, repository.NoTX, ev.Provider, ev.ProviderChargeID); ferr == nil {
				return u.priorResult(ctx, prior)
			}
			return nil, domain.ErrAlreadyProcessing
		}
		return nil, err
	}
	metrics.IncPayment("finalized")
	metrics.AddPaymentRevenue(ev.Amount)

	// Steps below are best-effort: the purchase is committed.
	u.provision(ctx, res, intent)
	u.notifyPaymentSucceeded(ctx, res)
	return res, nil
}

// resolveIntent enforces the stale-context rule: a real payment without a
// valid context is recorded for operator follow-up, never silently dropped.
func (u *finalizeUC) resolveIntent(ctx context.Context, ev model.PaymentEvent, intentID string) (*model.PurchaseIntent, error) {
	intent, err := u.intents.FindByID(ctx, repository.NoTX, intentID)
	if err != nil || !intent.Usable(time.Now()) {
		target := int64(0)
		if intent != nil {
			target = intent.SubscriberID
		}
		rec := &model.AuditRecord{
			ID:        uuid.NewString(),
			Action:    model.AuditOrphanPayment,
			Target:    target,
			Detail:    fmt.Sprintf("provider=%s charge=%s amount=%d intent=%s", ev.Provider, ev.ProviderChargeID, ev.Amount, intentID),
			CreatedAt: time.Now(),
		}
		if aerr := u.audit.Append(ctx, repository.NoTX, rec); aerr != nil {
			u.log.Error().Err(aerr).Str("charge_id", ev.ProviderChargeID).Msg("failed to record orphan payment")
		}
		u.log.Warn().Str("charge_id", ev.ProviderChargeID).Str("intent_id", intentID).Msg("payment received without valid context")
		metrics.IncPayment("rejected")
		return nil, domain.ErrStaleContext
	}
	return intent, nil
}

// commitPurchase is steps 5a-5g: everything inside is all-or-nothing.
func (u *finalizeUC) commitPurchase(ctx context.Context, ev model.PaymentEvent, intent *model.PurchaseIntent) (*model.FinalizationResult, error) {
	var res *model.FinalizationResult

	err := u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		now := time.Now()

		// Serialize against concurrent admin actions and duplicate events
		// for this subscriber before touching any row.
		if err := lockSubscriberRow(ctx, tx, intent.SubscriberID); err != nil {
			return err
		}

		// Claim the idempotency anchor. A unique violation means another
		// finalize won the race; the caller resolves the prior result.
		pay := &model.Payment{
			ID:               uuid.NewString(),
			SubscriberID:     intent.SubscriberID,
			Provider:         ev.Provider,
			ProviderChargeID: ev.ProviderChargeID,
			Amount:           ev.Amount,
			Status:           model.PaymentStatusPending,
			IntentID:         &intent.ID,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := u.payments.Save(ctx, tx, pay); err != nil {
			return err
		}

		// Re-read the intent under lock; it may have been consumed or
		// superseded since the pre-check.
		dbIntent, err := u.intents.FindByID(ctx, tx, intent.ID)
		if err != nil {
			return domain.ErrStaleContext
		}
		if !dbIntent.Usable(now) {
			return domain.ErrStaleContext
		}

		sub, err := u.subs.FindBySubscriber(ctx, tx, intent.SubscriberID)
		isRenewal := false
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			sub, err = model.NewSubscription(intent.SubscriberID, now)
			if err != nil {
				return err
			}
		} else {
			isRenewal = sub.IsActive(now)
		}
		newExpiry := sub.ExtendedExpiry(now, dbIntent.PeriodDays)

		if dbIntent.PromoCode != nil {
			ok, err := u.promos.Consume(ctx, tx, *dbIntent.PromoCode)
			if err != nil {
				return err
			}
			if !ok {
				// The code died between apply and pay; failing the whole
				// transaction beats silently charging full price.
				return domain.ErrPromoExhausted
			}
			metrics.IncPromoConsumed()
		}

		buyer, err := u.subscribers.FindByID(ctx, tx, intent.SubscriberID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if buyer != nil && buyer.ReferrerID != nil && u.referralPct > 0 {
			reward := &model.ReferralReward{
				ID:           uuid.NewString(),
				ReferrerID:   *buyer.ReferrerID,
				BuyerID:      buyer.ID,
				PurchaseID:   pay.ID,
				Percent:      u.referralPct,
				RewardAmount: ev.Amount * int64(u.referralPct) / 100,
				CreatedAt:    now,
			}
			if _, err := u.referrals.SaveOnce(ctx, tx, reward); err != nil {
				return err
			}
		}

		pay.Status = model.PaymentStatusApproved
		pay.PaidAt = &now
		pay.UpdatedAt = now
		if err := u.payments.Save(ctx, tx, pay); err != nil {
			return err
		}
		if err := u.intents.MarkConsumed(ctx, tx, dbIntent.ID); err != nil {
			return err
		}

		sub.ExpiresAt = newExpiry
		sub.Status = model.SubscriptionStatusActive
		sub.ActivationStatus = model.ActivationPending
		// A new purchase opens a fresh activation cycle. Stale attempts from
		// an earlier cycle would put the row past the retry worker's ceiling
		// before the first try.
		sub.ActivationAttempts = 0
		sub.LastActivationError = nil
		if err := u.subs.Save(ctx, tx, sub); err != nil {
			return err
		}

		res = &model.FinalizationResult{
			Outcome:               model.OutcomeFinalized,
			PaymentID:             pay.ID,
			SubscriberID:          intent.SubscriberID,
			SubscriptionExpiresAt: newExpiry,
			ActivationPending:     true,
			IsRenewal:             isRenewal,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// provision is step 6: issue or refresh the key with the subscriber guard
// held. Failures degrade the result to pending, never to a finalize error.
func (u *finalizeUC) provision(ctx context.Context, res *model.FinalizationResult, intent *model.PurchaseIntent) {
	h, err := u.guard.Acquire(ctx, res.SubscriberID)
	if err != nil {
		u.recordActivationFailure(ctx, res, err)
		return
	}
	defer h.Release()

	keyHint := ""
	if sub, err := u.subs.FindBySubscriber(ctx, repository.NoTX, res.SubscriberID); err == nil && sub.KeyID != nil {
		keyHint = *sub.KeyID
	}

	km, err := u.provisioner.AddOrUpdateUser(ctx, res.SubscriberID, res.SubscriptionExpiresAt, keyHint)
	if err != nil {
		u.recordActivationFailure(ctx, res, err)
		return
	}

	if err := u.subs.SetActivationResult(ctx, repository.NoTX, res.SubscriberID, model.ActivationActive, &km.KeyID, 0, nil); err != nil {
		u.log.Error().Err(err).Int64("subscriber_id", res.SubscriberID).Msg("failed to persist activation result")
		return
	}
	res.ActivationPending = false
	res.KeyMaterial = km.AccessURL
}

func (u *finalizeUC) recordActivationFailure(ctx context.Context, res *model.FinalizationResult, cause error) {
	attempts := 1
	if sub, err := u.subs.FindBySubscriber(ctx, repository.NoTX, res.SubscriberID); err == nil {
		attempts = sub.ActivationAttempts + 1
	}
	msg := cause.Error()
	if err := u.subs.SetActivationResult(ctx, repository.NoTX, res.SubscriberID, model.ActivationPending, nil, attempts, &msg); err != nil {
		u.log.Error().Err(err).Int64("subscriber_id", res.SubscriberID).Msg("failed to persist pending activation")
	}
	u.log.Warn().Err(cause).Int64("subscriber_id", res.SubscriberID).Msg("provisioning deferred; activation pending")
}

func (u *finalizeUC) notifyPaymentSucceeded(ctx context.Context, res *model.FinalizationResult) {
	_, err := u.dispatcher.DispatchOnce(ctx, res.PaymentID, model.NotifyPaymentSucceeded, func(ctx context.Context) error {
		text := fmt.Sprintf("Payment received. Your subscription is active until %s.", res.SubscriptionExpiresAt.Format("2006-01-02 15:04 MST"))
		if res.SubscriptionExpiresAt.IsZero() {
			text = "Payment received. Your balance has been topped up."
		} else if res.ActivationPending {
			text = "Payment received. Your key is being prepared and will arrive shortly."
		} else if res.KeyMaterial != "" {
			text += "\n\nYour access key:\n" + res.KeyMaterial
		}
		return u.notifier.Send(ctx, res.SubscriberID, text)
	})
	if err != nil {
		u.log.Warn().Err(err).Str("payment_id", res.PaymentID).Msg("payment notification not delivered")
	}
}

// priorResult reconstructs the answer a finished finalization gave, so a
// duplicate event is a no-op returning the same state.
func (u *finalizeUC) priorResult(ctx context.Context, prior *model.Payment) (*model.FinalizationResult, error) {
	switch prior.Status {
	case model.PaymentStatusApproved:
		res := &model.FinalizationResult{
			Outcome:      model.OutcomeAlreadyProcessed,
			PaymentID:    prior.ID,
			SubscriberID: prior.SubscriberID,
		}
		if sub, err := u.subs.FindBySubscriber(ctx, repository.NoTX, prior.SubscriberID); err == nil {
			res.SubscriptionExpiresAt = sub.ExpiresAt
			res.ActivationPending = sub.ActivationStatus == model.ActivationPending
		}
		metrics.IncPayment("duplicate")
		return res, nil
	case model.PaymentStatusPending:
		return nil, domain.ErrAlreadyProcessing
	default:
		// A rejected payment is safe to retry from scratch.
		return nil, domain.ErrNotFound
	}
}

// finalizeTopUp credits the subscriber balance; same idempotency anchor,
// much smaller transaction.
func (u *finalizeUC) finalizeTopUp(ctx context.Context, ev model.PaymentEvent, ref *model.PayloadRef) (*model.FinalizationResult, error) {
	var res *model.FinalizationResult
	err := u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		now := time.Now()
		pay := &model.Payment{
			ID:               uuid.NewString(),
			SubscriberID:     ref.SubscriberID,
			Provider:         ev.Provider,
			ProviderChargeID: ev.ProviderChargeID,
			Amount:           ev.Amount,
			Status:           model.PaymentStatusApproved,
			CreatedAt:        now,
			UpdatedAt:        now,
			PaidAt:           &now,
		}
		if err := u.payments.Save(ctx, tx, pay); err != nil {
			return err
		}
		if err := u.subscribers.CreditBalance(ctx, tx, ref.SubscriberID, ev.Amount); err != nil {
			return err
		}
		res = &model.FinalizationResult{
			Outcome:      model.OutcomeFinalized,
			PaymentID:    pay.ID,
			SubscriberID: ref.SubscriberID,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			if prior, ferr := u.payments.FindByChargeID(ctx, repository.NoTX, ev.Provider, ev.ProviderChargeID); ferr == nil {
				return u.priorResult(ctx, prior)
			}
			return nil, domain.ErrAlreadyProcessing
		}
		return nil, err
	}
	metrics.IncPayment("finalized")
	metrics.AddPaymentRevenue(ev.Amount)
	u.notifyPaymentSucceeded(ctx, res)
	return res, nil
}

// lockSubscriberRow takes the per-subscriber advisory xact lock when running
// on a real database transaction; in-memory test repos skip it. The key space
// is distinct from the session guard's, so holding the guard never blocks
// this lock.
func lockSubscriberRow(ctx context.Context, tx repository.Tx, subscriberID int64) error {
	ptx, ok := tx.(pgx.Tx)
	if !ok {
		return nil
	}
	return postgres.AcquireSubscriberRowLock(ctx, ptx, subscriberID)
}
