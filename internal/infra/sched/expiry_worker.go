package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"telegram-vpn-shop/internal/config"
	"telegram-vpn-shop/internal/domain/ports/adapter"
	"telegram-vpn-shop/internal/domain/ports/locker"
	"telegram-vpn-shop/internal/domain/ports/repository"
	"telegram-vpn-shop/internal/infra/metrics"
)

// ExpiryWorker sweeps subscriptions past their expiry instant into the
// expired state and removes their users from the control-plane. Removal is
// best-effort: an expired row no longer appears in the reconciler's desired
// state, so a missed removal is corrected by the next full sync of the
// provider, and at worst the key lingers until then.
type ExpiryWorker struct {
	subs        repository.SubscriptionRepository
	intents     repository.PurchaseIntentRepository
	provisioner adapter.ProvisioningClient
	guard       locker.SubscriberGuard
	cfg         config.PurchaseConfig
	log         *zerolog.Logger
}

func NewExpiryWorker(
	subs repository.SubscriptionRepository,
	intents repository.PurchaseIntentRepository,
	provisioner adapter.ProvisioningClient,
	guard locker.SubscriberGuard,
	cfg config.PurchaseConfig,
	logger *zerolog.Logger,
) *ExpiryWorker {
	l := logger.With().Str("component", "ExpiryWorker").Logger()
	return &ExpiryWorker{subs: subs, intents: intents, provisioner: provisioner, guard: guard, cfg: cfg, log: &l}
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.cfg.ExpiryInterval).Msg("starting expiry worker")
	ticker := time.NewTicker(w.cfg.ExpiryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *ExpiryWorker) tick(ctx context.Context) {
	expired, err := w.subs.ExpireDue(ctx, repository.NoTX, time.Now())
	if err != nil {
		w.log.Error().Err(err).Msg("expiry sweep failed")
		return
	}
	if len(expired) > 0 {
		metrics.IncSubscriptionsExpired(len(expired))
		w.log.Info().Int("count", len(expired)).Msg("subscriptions expired")
	}
	for _, sub := range expired {
		if sub.KeyID == nil {
			continue
		}
		w.removeOne(ctx, sub.SubscriberID)
	}

	if n, err := w.intents.DeleteExpired(ctx, repository.NoTX); err != nil {
		w.log.Warn().Err(err).Msg("intent cleanup failed")
	} else if n > 0 {
		w.log.Debug().Int("count", n).Msg("expired purchase intents removed")
	}
}

func (w *ExpiryWorker) removeOne(ctx context.Context, subscriberID int64) {
	h, err := w.guard.TryAcquire(ctx, subscriberID)
	if err != nil {
		// Busy subscriber; the row is already expired, the key is cleaned up
		// on the next pass or never re-synced.
		return
	}
	defer h.Release()

	if err := w.provisioner.RemoveUser(ctx, subscriberID); err != nil {
		w.log.Warn().Err(err).Int64("subscriber_id", subscriberID).Msg("control-plane removal failed for expired subscription")
	}
}
