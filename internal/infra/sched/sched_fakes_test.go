//go:build !integration

package sched

import (
	"context"
	"sync"
	"time"

	"telegram-vpn-shop/internal/domain"
	"telegram-vpn-shop/internal/domain/model"
	"telegram-vpn-shop/internal/domain/ports/adapter"
	"telegram-vpn-shop/internal/domain/ports/locker"
	"telegram-vpn-shop/internal/domain/ports/repository"
)

// Package-local fakes. The workers only see ports, so thin in-memory
// implementations are enough to drive every branch.

type fakeSubRepo struct {
	mu      sync.Mutex
	subs    map[int64]*model.Subscription
	listErr error

	activationResults []activationResult
}

type activationResult struct {
	SubscriberID int64
	Status       model.ActivationStatus
	KeyID        *string
	Attempts     int
	LastErr      *string
}

func newFakeSubRepo() *fakeSubRepo {
	return &fakeSubRepo{subs: map[int64]*model.Subscription{}}
}

func (f *fakeSubRepo) put(sub *model.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[sub.SubscriberID] = sub
}

func (f *fakeSubRepo) FindBySubscriber(_ context.Context, _ repository.Tx, id int64) (*model.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (f *fakeSubRepo) Save(_ context.Context, _ repository.Tx, sub *model.Subscription) error {
	f.put(sub)
	return nil
}

func (f *fakeSubRepo) SetActivationResult(_ context.Context, _ repository.Tx, id int64, status model.ActivationStatus, keyID *string, attempts int, lastErr *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok {
		return domain.ErrNotFound
	}
	sub.ActivationStatus = status
	sub.ActivationAttempts = attempts
	sub.LastActivationError = lastErr
	if keyID != nil {
		sub.KeyID = keyID
	}
	f.activationResults = append(f.activationResults, activationResult{id, status, keyID, attempts, lastErr})
	return nil
}

func (f *fakeSubRepo) ListActiveProvisionable(_ context.Context, _ repository.Tx, now time.Time) ([]*model.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*model.Subscription
	for _, sub := range f.subs {
		if sub.Status == model.SubscriptionStatusActive && sub.KeyID != nil && sub.ExpiresAt.After(now) {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeSubRepo) ListPendingActivation(_ context.Context, _ repository.Tx, maxAttempts, limit int) ([]*model.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Subscription
	for _, sub := range f.subs {
		if sub.ActivationStatus == model.ActivationPending && sub.ActivationAttempts < maxAttempts && len(out) < limit {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeSubRepo) ExpireDue(_ context.Context, _ repository.Tx, now time.Time) ([]*model.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*model.Subscription
	for _, sub := range f.subs {
		if sub.Status == model.SubscriptionStatusActive && !sub.ExpiresAt.After(now) {
			sub.Status = model.SubscriptionStatusExpired
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeSubRepo) Delete(_ context.Context, _ repository.Tx, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, id)
	return nil
}

type fakeIntentRepo struct {
	mu       sync.Mutex
	deleted  int
	cleanups int
}

func (f *fakeIntentRepo) Save(context.Context, repository.Tx, *model.PurchaseIntent) error {
	return nil
}

func (f *fakeIntentRepo) FindByID(context.Context, repository.Tx, string) (*model.PurchaseIntent, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeIntentRepo) MarkConsumed(context.Context, repository.Tx, string) error { return nil }

func (f *fakeIntentRepo) DeleteExpired(context.Context, repository.Tx) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	return f.deleted, nil
}

type fakePaymentRepo struct {
	latest map[int64]*model.Payment
}

func (f *fakePaymentRepo) Save(context.Context, repository.Tx, *model.Payment) error { return nil }

func (f *fakePaymentRepo) FindByID(context.Context, repository.Tx, string) (*model.Payment, error) {
	return nil, domain.ErrNotFound
}

func (f *fakePaymentRepo) FindByChargeID(context.Context, repository.Tx, string, string) (*model.Payment, error) {
	return nil, domain.ErrNotFound
}

func (f *fakePaymentRepo) FindLatestApproved(_ context.Context, _ repository.Tx, subscriberID int64) (*model.Payment, error) {
	if p, ok := f.latest[subscriberID]; ok {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakePaymentRepo) UpdateStatus(context.Context, repository.Tx, string, model.PaymentStatus) error {
	return nil
}

type provisionCall struct {
	SubscriberID int64
	ExpiresAt    time.Time
	KeyHint      string
}

type fakeProvisioner struct {
	mu      sync.Mutex
	calls   []provisionCall
	removed []int64
	healthy bool

	failFor map[int64]error
	onCall  func(subscriberID int64)
}

func newFakeProvisioner() *fakeProvisioner {
	return &fakeProvisioner{healthy: true, failFor: map[int64]error{}}
}

func (f *fakeProvisioner) AddOrUpdateUser(_ context.Context, subscriberID int64, expiresAt time.Time, keyHint string) (*adapter.KeyMaterial, error) {
	f.mu.Lock()
	f.calls = append(f.calls, provisionCall{subscriberID, expiresAt, keyHint})
	err := f.failFor[subscriberID]
	cb := f.onCall
	f.mu.Unlock()
	if cb != nil {
		cb(subscriberID)
	}
	if err != nil {
		return nil, err
	}
	keyID := keyHint
	if keyID == "" {
		keyID = "key-new"
	}
	return &adapter.KeyMaterial{KeyID: keyID, AccessURL: "vpn://access/" + keyID}, nil
}

func (f *fakeProvisioner) RemoveUser(_ context.Context, subscriberID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[subscriberID]; err != nil {
		return err
	}
	f.removed = append(f.removed, subscriberID)
	return nil
}

func (f *fakeProvisioner) HealthCheck(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeProvisioner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeGuard struct {
	mu   sync.Mutex
	held map[int64]bool
}

func newFakeGuard() *fakeGuard { return &fakeGuard{held: map[int64]bool{}} }

func (g *fakeGuard) lock(id int64) { g.mu.Lock(); g.held[id] = true; g.mu.Unlock() }

func (g *fakeGuard) acquire(id int64) (locker.Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[id] {
		return nil, domain.ErrLockBusy
	}
	g.held[id] = true
	return fakeHandle(func() {
		g.mu.Lock()
		delete(g.held, id)
		g.mu.Unlock()
	}), nil
}

func (g *fakeGuard) Acquire(_ context.Context, id int64) (locker.Handle, error) { return g.acquire(id) }

func (g *fakeGuard) TryAcquire(_ context.Context, id int64) (locker.Handle, error) {
	return g.acquire(id)
}

type fakeHandle func()

func (h fakeHandle) Release() { h() }

type dispatched struct {
	EventID string
	Kind    model.NotificationKind
}

type fakeDispatcher struct {
	mu        sync.Mutex
	delivered map[string]bool
	calls     []dispatched
}

func newFakeDispatcher() *fakeDispatcher { return &fakeDispatcher{delivered: map[string]bool{}} }

func (d *fakeDispatcher) DispatchOnce(ctx context.Context, eventID string, kind model.NotificationKind, send func(ctx context.Context) error) (bool, error) {
	d.mu.Lock()
	key := eventID + "|" + string(kind)
	if d.delivered[key] {
		d.mu.Unlock()
		return false, nil
	}
	d.calls = append(d.calls, dispatched{eventID, kind})
	d.mu.Unlock()

	if err := send(ctx); err != nil {
		return false, err
	}
	d.mu.Lock()
	d.delivered[key] = true
	d.mu.Unlock()
	return true, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Send(_ context.Context, _ int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	return nil
}
