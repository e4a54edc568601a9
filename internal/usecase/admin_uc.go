// File: internal/usecase/admin_uc.go
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
)

// Compile-time check
var _ AdminUseCase = (*adminUC)(nil)

// AdminUseCase routes every provisioning-affecting admin action through the
// same guard and control-plane client as the purchase path, with an audit
// record per action.
type AdminUseCase interface {
	GrantAccess(ctx context.Context, subscriberID int64, duration time.Duration, adminID int64) (*model.Subscription, error)
	RevokeAccess(ctx context.Context, subscriberID int64, adminID int64) error
	// ReissueKey rotates the subscriber's key. A concurrent reissue for the
	// same subscriber gets ErrLockBusy and performs no provisioning call.
	ReissueKey(ctx context.Context, subscriberID int64, adminID int64) (*adapter.KeyMaterial, error)
}

type adminUC struct {
	txm         repository.TransactionManager
	subs        repository.SubscriptionRepository
	audit       repository.AuditRepository
	guard       locker.SubscriberGuard
	provisioner adapter.ProvisioningClient
	dispatcher  NotificationDispatcher
	notifier    adapter.Notifier
	log         *zerolog.Logger
}

func NewAdminUseCase(
	txm repository.TransactionManager,
	subs repository.SubscriptionRepository,
	audit repository.AuditRepository,
	guard locker.SubscriberGuard,
	provisioner adapter.ProvisioningClient,
	dispatcher NotificationDispatcher,
	notifier adapter.Notifier,
	logger *zerolog.Logger,
) *adminUC {
	l := logger.With().Str("component", "AdminUC").Logger()
	return &adminUC{
		txm: txm, subs: subs, audit: audit, guard: guard,
		provisioner: provisioner, dispatcher: dispatcher, notifier: notifier, log: &l,
	}
}

func (u *adminUC) GrantAccess(ctx context.Context, subscriberID int64, duration time.Duration, adminID int64) (*model.Subscription, error) {
	if duration <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	h, err := u.guard.Acquire(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	var sub *model.Subscription
	err = u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := lockSubscriberRow(ctx, tx, subscriberID); err != nil {
			return err
		}
		now := time.Now()
		var ferr error
		sub, ferr = u.subs.FindBySubscriber(ctx, tx, subscriberID)
		if ferr != nil {
			if !errors.Is(ferr, domain.ErrNotFound) {
				return ferr
			}
			sub, ferr = model.NewSubscription(subscriberID, now.Add(duration))
			if ferr != nil {
				return ferr
			}
		} else {
			base := now
			if sub.Status == model.SubscriptionStatusActive && sub.ExpiresAt.After(now) {
				base = sub.ExpiresAt
			}
			sub.ExpiresAt = base.Add(duration)
			sub.Status = model.SubscriptionStatusActive
			sub.ActivationStatus = model.ActivationPending
		}
		if err := u.subs.Save(ctx, tx, sub); err != nil {
			return err
		}
		return u.audit.Append(ctx, tx, &model.AuditRecord{
			ID:        uuid.NewString(),
			Action:    model.AuditGrantAccess,
			Actor:     adminID,
			Target:    subscriberID,
			Detail:    fmt.Sprintf("duration=%s expires_at=%s", duration, sub.ExpiresAt.Format(time.RFC3339)),
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	// Provisioning failure leaves the grant committed as pending; the retry
	// worker converges it.
	keyHint := ""
	if sub.KeyID != nil {
		keyHint = *sub.KeyID
	}
	km, err := u.provisioner.AddOrUpdateUser(ctx, subscriberID, sub.ExpiresAt, keyHint)
	if err != nil {
		msg := err.Error()
		if serr := u.subs.SetActivationResult(ctx, repository.NoTX, subscriberID, model.ActivationPending, nil, sub.ActivationAttempts+1, &msg); serr != nil {
			u.log.Error().Err(serr).Int64("subscriber_id", subscriberID).Msg("failed to persist pending activation")
		}
		sub.ActivationStatus = model.ActivationPending
		return sub, nil
	}
	if err := u.subs.SetActivationResult(ctx, repository.NoTX, subscriberID, model.ActivationActive, &km.KeyID, 0, nil); err != nil {
		u.log.Error().Err(err).Int64("subscriber_id", subscriberID).Msg("failed to persist activation result")
	}
	sub.ActivationStatus = model.ActivationActive
	sub.KeyID = &km.KeyID
	return sub, nil
}

func (u *adminUC) RevokeAccess(ctx context.Context, subscriberID int64, adminID int64) error {
	h, err := u.guard.Acquire(ctx, subscriberID)
	if err != nil {
		return err
	}
	defer h.Release()

	err = u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := lockSubscriberRow(ctx, tx, subscriberID); err != nil {
			return err
		}
		sub, err := u.subs.FindBySubscriber(ctx, tx, subscriberID)
		if err != nil {
			return err
		}
		now := time.Now()
		sub.Status = model.SubscriptionStatusExpired
		sub.ExpiresAt = now
		if err := u.subs.Save(ctx, tx, sub); err != nil {
			return err
		}
		return u.audit.Append(ctx, tx, &model.AuditRecord{
			ID:        uuid.NewString(),
			Action:    model.AuditRevokeAccess,
			Actor:     adminID,
			Target:    subscriberID,
			CreatedAt: now,
		})
	})
	if err != nil {
		return err
	}

	// Best effort: the reconciler re-asserts absence if this call fails.
	if err := u.provisioner.RemoveUser(ctx, subscriberID); err != nil {
		u.log.Warn().Err(err).Int64("subscriber_id", subscriberID).Msg("control-plane removal deferred")
	}
	return nil
}

func (u *adminUC) ReissueKey(ctx context.Context, subscriberID int64, adminID int64) (*adapter.KeyMaterial, error) {
	// Non-blocking acquire: the second of two simultaneous reissues answers
	// "already in progress" instead of queueing a second rotation.
	h, err := u.guard.TryAcquire(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	sub, err := u.subs.FindBySubscriber(ctx, repository.NoTX, subscriberID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if !sub.IsActive(now) && sub.ActivationStatus != model.ActivationPending {
		return nil, domain.ErrNoActiveSubscription
	}

	// Empty key hint asks the control-plane for a fresh key.
	km, err := u.provisioner.AddOrUpdateUser(ctx, subscriberID, sub.ExpiresAt, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProvisioning, err)
	}
	if err := u.subs.SetActivationResult(ctx, repository.NoTX, subscriberID, model.ActivationActive, &km.KeyID, 0, nil); err != nil {
		u.log.Error().Err(err).Int64("subscriber_id", subscriberID).Msg("failed to persist reissued key")
	}

	auditID := uuid.NewString()
	if err := u.audit.Append(ctx, repository.NoTX, &model.AuditRecord{
		ID:        auditID,
		Action:    model.AuditReissueKey,
		Actor:     adminID,
		Target:    subscriberID,
		Detail:    "key_id=" + km.KeyID,
		CreatedAt: now,
	}); err != nil {
		u.log.Error().Err(err).Int64("subscriber_id", subscriberID).Msg("failed to audit reissue")
	}

	_, _ = u.dispatcher.DispatchOnce(ctx, auditID, model.NotifyKeyReissued, func(ctx context.Context) error {
		return u.notifier.Send(ctx, subscriberID, "Your access key was reissued:\n"+km.AccessURL)
	})
	return km, nil
}
