package locks

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"telegram-vpn-shop/internal/domain"
	"telegram-vpn-shop/internal/domain/ports/locker"
	"telegram-vpn-shop/internal/domain/ports/repository"
	"telegram-vpn-shop/internal/infra/metrics"
)

var _ locker.SubscriberGuard = (*Guard)(nil)

// Guard serializes provisioning-affecting operations per subscriber with two
// layers: an in-process mutex map grown lazily and never shrunk (bounded by
// subscriber count), and a database advisory lock so correctness holds across
// service instances.
type Guard struct {
	mu      sync.Mutex
	held    map[int64]*sync.Mutex
	adv     repository.AdvisoryLocker
	timeout time.Duration
	log     *zerolog.Logger
}

func NewGuard(adv repository.AdvisoryLocker, timeout time.Duration, logger *zerolog.Logger) *Guard {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	guardLog := logger.With().Str("component", "SubscriberGuard").Logger()
	return &Guard{
		held:    make(map[int64]*sync.Mutex),
		adv:     adv,
		timeout: timeout,
		log:     &guardLog,
	}
}

func (g *Guard) mutexFor(subscriberID int64) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.held[subscriberID]
	if !ok {
		m = &sync.Mutex{}
		g.held[subscriberID] = m
	}
	return m
}

type handle struct {
	guard        *Guard
	subscriberID int64
	local        *sync.Mutex
	releaseAdv   func()
	once         sync.Once
}

func (h *handle) Release() {
	h.once.Do(func() {
		if h.releaseAdv != nil {
			h.releaseAdv()
		}
		h.local.Unlock()
	})
}

// Acquire blocks up to the guard's timeout bound for the local mutex and the
// advisory lock together, then fails with ErrLockBusy.
func (g *Guard) Acquire(ctx context.Context, subscriberID int64) (locker.Handle, error) {
	deadline := time.Now().Add(g.timeout)
	m := g.mutexFor(subscriberID)

	for {
		if m.TryLock() {
			break
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			metrics.IncLockContention()
			return nil, domain.ErrLockBusy
		}
		time.Sleep(50 * time.Millisecond)
	}

	h, err := g.takeAdvisory(ctx, subscriberID, m, deadline)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// TryAcquire never waits; a held subscriber fails fast with ErrLockBusy so
// the UI can answer "already in progress" before any blocking work starts.
func (g *Guard) TryAcquire(ctx context.Context, subscriberID int64) (locker.Handle, error) {
	m := g.mutexFor(subscriberID)
	if !m.TryLock() {
		metrics.IncLockContention()
		return nil, domain.ErrLockBusy
	}
	h, err := g.takeAdvisory(ctx, subscriberID, m, time.Now())
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (g *Guard) takeAdvisory(ctx context.Context, subscriberID int64, m *sync.Mutex, deadline time.Time) (*handle, error) {
	for {
		release, ok, err := g.adv.TryLock(ctx, subscriberID)
		if err != nil {
			m.Unlock()
			// An unreleased advisory lock would be a liveness bug on the
			// whole subscriber; surface loudly.
			g.log.Error().Err(err).Int64("subscriber_id", subscriberID).Msg("advisory lock failure")
			return nil, err
		}
		if ok {
			return &handle{guard: g, subscriberID: subscriberID, local: m, releaseAdv: release}, nil
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			m.Unlock()
			metrics.IncLockContention()
			return nil, domain.ErrLockBusy
		}
		time.Sleep(100 * time.Millisecond)
	}
}
