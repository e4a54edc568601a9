package sched

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"telegram-vpn-shop/internal/config"
	"telegram-vpn-shop/internal/domain/model"
	"telegram-vpn-shop/internal/domain/ports/adapter"
	"telegram-vpn-shop/internal/domain/ports/locker"
	"telegram-vpn-shop/internal/domain/ports/repository"
	"telegram-vpn-shop/internal/infra/metrics"
	"telegram-vpn-shop/internal/usecase"
)

// ActivationRetrier finishes purchases whose provisioning call failed during
// finalization. It scans pending activations, retries up to the attempt
// ceiling, and escalates to failed beyond it. This covers crashes between
// payment commit and key confirmation too.
type ActivationRetrier struct {
	subs        repository.SubscriptionRepository
	payments    repository.PaymentRepository
	provisioner adapter.ProvisioningClient
	guard       locker.SubscriberGuard
	dispatcher  usecase.NotificationDispatcher
	notifier    adapter.Notifier
	cfg         config.ActivationConfig
	log         *zerolog.Logger
}

func NewActivationRetrier(
	subs repository.SubscriptionRepository,
	payments repository.PaymentRepository,
	provisioner adapter.ProvisioningClient,
	guard locker.SubscriberGuard,
	dispatcher usecase.NotificationDispatcher,
	notifier adapter.Notifier,
	cfg config.ActivationConfig,
	logger *zerolog.Logger,
) *ActivationRetrier {
	l := logger.With().Str("component", "ActivationRetrier").Logger()
	return &ActivationRetrier{
		subs: subs, payments: payments, provisioner: provisioner, guard: guard,
		dispatcher: dispatcher, notifier: notifier, cfg: cfg, log: &l,
	}
}

func (w *ActivationRetrier) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.cfg.RetryInterval).Msg("starting activation retrier")
	ticker := time.NewTicker(w.cfg.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping activation retrier")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *ActivationRetrier) tick(ctx context.Context) {
	pending, err := w.subs.ListPendingActivation(ctx, repository.NoTX, w.cfg.MaxAttempts, 100)
	if err != nil {
		w.log.Error().Err(err).Msg("list pending activations")
		return
	}
	for _, sub := range pending {
		w.retryOne(ctx, sub)
	}
}

func (w *ActivationRetrier) retryOne(ctx context.Context, sub *model.Subscription) {
	h, err := w.guard.Acquire(ctx, sub.SubscriberID)
	if err != nil {
		// Another operation owns the subscriber; next tick picks it up.
		return
	}
	defer h.Release()

	keyHint := ""
	if sub.KeyID != nil {
		keyHint = *sub.KeyID
	}
	km, err := w.provisioner.AddOrUpdateUser(ctx, sub.SubscriberID, sub.ExpiresAt, keyHint)
	if err != nil {
		attempts := sub.ActivationAttempts + 1
		msg := err.Error()
		status := model.ActivationPending
		if attempts >= w.cfg.MaxAttempts {
			status = model.ActivationFailed
			w.log.Error().Int64("subscriber_id", sub.SubscriberID).Int("attempts", attempts).Msg("activation failed permanently; operator escalation")
			w.escalate(ctx, sub)
		}
		if serr := w.subs.SetActivationResult(ctx, repository.NoTX, sub.SubscriberID, status, nil, attempts, &msg); serr != nil {
			w.log.Error().Err(serr).Int64("subscriber_id", sub.SubscriberID).Msg("failed to persist retry outcome")
		}
		metrics.IncActivationRetry("failed")
		return
	}

	if err := w.subs.SetActivationResult(ctx, repository.NoTX, sub.SubscriberID, model.ActivationActive, &km.KeyID, sub.ActivationAttempts, nil); err != nil {
		w.log.Error().Err(err).Int64("subscriber_id", sub.SubscriberID).Msg("failed to persist activation")
		return
	}
	metrics.IncActivationRetry("succeeded")
	w.log.Info().Int64("subscriber_id", sub.SubscriberID).Msg("pending activation recovered")

	// Exactly one "key ready" message per recovered activation, keyed by the
	// subscriber's latest approved payment.
	eventID := w.latestEventID(ctx, sub.SubscriberID)
	_, _ = w.dispatcher.DispatchOnce(ctx, eventID, model.NotifyKeyReady, func(ctx context.Context) error {
		return w.notifier.Send(ctx, sub.SubscriberID, "Your access key is ready:\n"+km.AccessURL)
	})
}

func (w *ActivationRetrier) escalate(ctx context.Context, sub *model.Subscription) {
	eventID := w.latestEventID(ctx, sub.SubscriberID)
	_, _ = w.dispatcher.DispatchOnce(ctx, eventID, model.NotifyActivationFailed, func(ctx context.Context) error {
		return w.notifier.Send(ctx, sub.SubscriberID, "We could not prepare your key automatically. Support has been notified and will follow up.")
	})
}

// latestEventID anchors notifications to a stable id so handler retries
// cannot double-send. Falls back to a synthetic per-subscriber id when no
// payment is found.
func (w *ActivationRetrier) latestEventID(ctx context.Context, subscriberID int64) string {
	if p, err := w.payments.FindLatestApproved(ctx, repository.NoTX, subscriberID); err == nil {
		return p.ID
	}
	return "sub-" + strconv.FormatInt(subscriberID, 10)
}
