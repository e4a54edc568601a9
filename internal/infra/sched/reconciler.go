package sched

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"telegram-vpn-shop/internal/config"
	"telegram-vpn-shop/internal/domain/ports/adapter"
	"telegram-vpn-shop/internal/domain/ports/locker"
	"telegram-vpn-shop/internal/domain/ports/repository"
	"telegram-vpn-shop/internal/infra/metrics"
)

// SyncReport summarizes one full sync pass.
type SyncReport struct {
	Total    int
	Synced   int
	Failed   int
	Duration time.Duration
}

// Reconciler keeps the external control-plane convergent with the
// subscription database. The control-plane is stateless by contract: after it
// restarts empty, one full sync pass restores every active subscriber. The
// database is never reconciled to the control-plane, only the reverse.
type Reconciler struct {
	subs        repository.SubscriptionRepository
	provisioner adapter.ProvisioningClient
	guard       locker.SubscriberGuard
	cfg         config.ReconcileConfig
	log         *zerolog.Logger

	mu       sync.Mutex
	lastSync time.Time
}

func NewReconciler(subs repository.SubscriptionRepository, provisioner adapter.ProvisioningClient, guard locker.SubscriberGuard, cfg config.ReconcileConfig, logger *zerolog.Logger) *Reconciler {
	l := logger.With().Str("component", "Reconciler").Logger()
	return &Reconciler{subs: subs, provisioner: provisioner, guard: guard, cfg: cfg, log: &l}
}

// Run blocks until ctx is cancelled. A startup sync runs before the periodic
// loop so a service restart converges the control-plane even when no
// health-check failure is ever observed.
func (r *Reconciler) Run(ctx context.Context) error {
	r.log.Info().Dur("interval", r.cfg.Interval).Msg("starting reconciler")

	if _, err := r.TriggerSync(ctx, "startup"); err != nil {
		r.log.Error().Err(err).Msg("startup sync failed")
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("stopping reconciler")
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	hctx, cancel := context.WithTimeout(ctx, r.cfg.HealthTimeout)
	healthy := r.provisioner.HealthCheck(hctx)
	cancel()
	if healthy {
		return
	}

	r.log.Warn().Msg("control-plane unhealthy; scheduling full sync")
	if !r.cooldownElapsed() {
		// Flapping control-planes must not trigger a sync storm.
		r.log.Info().Msg("full sync suppressed by cooldown")
		return
	}
	if _, err := r.syncAll(ctx, "unhealthy"); err != nil {
		r.log.Error().Err(err).Msg("full sync failed")
	}
}

// TriggerSync runs a full sync regardless of health, bypassing the cooldown.
// Used at startup and by the operator endpoint.
func (r *Reconciler) TriggerSync(ctx context.Context, trigger string) (*SyncReport, error) {
	return r.syncAll(ctx, trigger)
}

func (r *Reconciler) cooldownElapsed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.lastSync) >= r.cfg.Cooldown
}

func (r *Reconciler) markSynced() {
	r.mu.Lock()
	r.lastSync = time.Now()
	r.mu.Unlock()
}

// syncAll replays AddOrUpdateUser for every active, non-expired subscriber
// holding a key: one call per subscriber per pass. Users are processed
// sequentially with a configurable inter-call delay; the external provider's
// rate limit is not known here, so the bound stays operator-tunable.
func (r *Reconciler) syncAll(ctx context.Context, trigger string) (*SyncReport, error) {
	start := time.Now()
	tctx, cancel := context.WithTimeout(ctx, r.cfg.TickTimeout)
	defer cancel()

	subs, err := r.subs.ListActiveProvisionable(tctx, repository.NoTX, start)
	if err != nil {
		return nil, err
	}
	if r.cfg.BatchSize > 0 && len(subs) > r.cfg.BatchSize {
		subs = subs[:r.cfg.BatchSize]
	}
	metrics.IncReconcilePass(trigger)
	r.markSynced()

	report := &SyncReport{Total: len(subs)}
	for i, sub := range subs {
		if tctx.Err() != nil {
			r.log.Warn().Int("remaining", len(subs)-i).Msg("sync pass deadline reached")
			report.Failed += len(subs) - i
			break
		}
		if r.syncOne(tctx, sub.SubscriberID, sub.ExpiresAt, deref(sub.KeyID)) {
			report.Synced++
		} else {
			report.Failed++
		}
		if r.cfg.BatchDelay > 0 && i < len(subs)-1 {
			select {
			case <-tctx.Done():
			case <-time.After(r.cfg.BatchDelay):
			}
		}
	}
	report.Duration = time.Since(start)

	metrics.AddReconcileUsers("synced", report.Synced)
	metrics.AddReconcileUsers("failed", report.Failed)
	r.log.Info().
		Str("trigger", trigger).
		Int("total", report.Total).
		Int("synced", report.Synced).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("full sync pass complete")
	return report, nil
}

// syncOne touches a single subscriber under the same guard a manual reissue
// uses, so the two can never run concurrently. One failure never aborts the
// batch.
func (r *Reconciler) syncOne(ctx context.Context, subscriberID int64, expiresAt time.Time, keyHint string) bool {
	h, err := r.guard.Acquire(ctx, subscriberID)
	if err != nil {
		r.log.Warn().Err(err).Int64("subscriber_id", subscriberID).Msg("sync skipped; subscriber busy")
		return false
	}
	defer h.Release()

	if _, err := r.provisioner.AddOrUpdateUser(ctx, subscriberID, expiresAt, keyHint); err != nil {
		r.log.Warn().Err(err).Int64("subscriber_id", subscriberID).Msg("sync failed for subscriber")
		return false
	}
	return true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
