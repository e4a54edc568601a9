// File: internal/usecase/mocks_test.go
package usecase

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-vpn-shop/internal/domain"
	"telegram-vpn-shop/internal/domain/model"
	"telegram-vpn-shop/internal/domain/ports/adapter"
	"telegram-vpn-shop/internal/domain/ports/locker"
	"telegram-vpn-shop/internal/domain/ports/repository"
)

func NewTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// MockTxManager executes the function inline with NoTX by default; tests that
// need to observe rollbacks override WithTxFunc.
type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager { return &MockTxManager{} }

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// MockPaymentRepo keeps payments in memory and enforces the same
// (provider, provider_charge_id) uniqueness the real table does.
type MockPaymentRepo struct {
	mu       sync.Mutex
	store    map[string]*model.Payment
	SaveFunc func(ctx context.Context, tx repository.Tx, p *model.Payment) error
}

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{store: make(map[string]*model.Payment)}
}

func (m *MockPaymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.store {
		if existing.ID != p.ID && existing.Provider == p.Provider && existing.ProviderChargeID == p.ProviderChargeID {
			return domain.ErrAlreadyExists
		}
	}
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *MockPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockPaymentRepo) FindByChargeID(ctx context.Context, tx repository.Tx, provider, chargeID string) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.store {
		if p.Provider == provider && p.ProviderChargeID == chargeID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockPaymentRepo) FindLatestApproved(ctx context.Context, tx repository.Tx, subscriberID int64) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *model.Payment
	for _, p := range m.store {
		if p.SubscriberID != subscriberID || p.Status != model.PaymentStatusApproved {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *MockPaymentRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = status
	return nil
}

// MockIntentRepo mirrors the supersede-on-save behavior of the real repo.
type MockIntentRepo struct {
	mu               sync.Mutex
	store            map[string]*model.PurchaseIntent
	MarkConsumedFunc func(ctx context.Context, tx repository.Tx, id string) error
}

func NewMockIntentRepo() *MockIntentRepo {
	return &MockIntentRepo{store: make(map[string]*model.PurchaseIntent)}
}

func (m *MockIntentRepo) Save(ctx context.Context, tx repository.Tx, intent *model.PurchaseIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, prior := range m.store {
		if prior.SubscriberID == intent.SubscriberID && prior.ID != intent.ID && !prior.Consumed {
			prior.ExpiresAt = intent.CreatedAt
		}
	}
	cp := *intent
	m.store[intent.ID] = &cp
	return nil
}

func (m *MockIntentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PurchaseIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *i
	return &cp, nil
}

func (m *MockIntentRepo) MarkConsumed(ctx context.Context, tx repository.Tx, id string) error {
	if m.MarkConsumedFunc != nil {
		return m.MarkConsumedFunc(ctx, tx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	i.Consumed = true
	return nil
}

func (m *MockIntentRepo) DeleteExpired(ctx context.Context, tx repository.Tx) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	now := time.Now()
	for id, i := range m.store {
		if !i.ExpiresAt.After(now) {
			delete(m.store, id)
			n++
		}
	}
	return n, nil
}

type MockSubscriptionRepo struct {
	mu                      sync.Mutex
	store                   map[int64]*model.Subscription
	SaveFunc                func(ctx context.Context, tx repository.Tx, sub *model.Subscription) error
	SetActivationResultFunc func(ctx context.Context, tx repository.Tx, subscriberID int64, status model.ActivationStatus, keyID *string, attempts int, lastErr *string) error
}

func NewMockSubscriptionRepo() *MockSubscriptionRepo {
	return &MockSubscriptionRepo{store: make(map[int64]*model.Subscription)}
}

func (m *MockSubscriptionRepo) Put(sub *model.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.store[sub.SubscriberID] = &cp
}

func (m *MockSubscriptionRepo) FindBySubscriber(ctx context.Context, tx repository.Tx, subscriberID int64) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[subscriberID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MockSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, sub *model.Subscription) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, sub)
	}
	m.Put(sub)
	return nil
}

func (m *MockSubscriptionRepo) SetActivationResult(ctx context.Context, tx repository.Tx, subscriberID int64, status model.ActivationStatus, keyID *string, attempts int, lastErr *string) error {
	if m.SetActivationResultFunc != nil {
		return m.SetActivationResultFunc(ctx, tx, subscriberID, status, keyID, attempts, lastErr)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[subscriberID]
	if !ok {
		return domain.ErrNotFound
	}
	s.ActivationStatus = status
	if keyID != nil {
		s.KeyID = keyID
	}
	s.ActivationAttempts = attempts
	s.LastActivationError = lastErr
	return nil
}

func (m *MockSubscriptionRepo) ListActiveProvisionable(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.store {
		if s.Status == model.SubscriptionStatusActive && s.KeyID != nil && s.ExpiresAt.After(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockSubscriptionRepo) ListPendingActivation(ctx context.Context, tx repository.Tx, maxAttempts, limit int) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.store {
		if s.ActivationStatus == model.ActivationPending && s.ActivationAttempts < maxAttempts {
			cp := *s
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MockSubscriptionRepo) ExpireDue(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.store {
		if s.Status == model.SubscriptionStatusActive && !s.ExpiresAt.After(now) {
			s.Status = model.SubscriptionStatusExpired
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockSubscriptionRepo) Delete(ctx context.Context, tx repository.Tx, subscriberID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, subscriberID)
	return nil
}

type MockSubscriberRepo struct {
	mu    sync.Mutex
	store map[int64]*model.Subscriber
}

func NewMockSubscriberRepo() *MockSubscriberRepo {
	return &MockSubscriberRepo{store: make(map[int64]*model.Subscriber)}
}

func (m *MockSubscriberRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MockSubscriberRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.store[s.ID] = &cp
	return nil
}

func (m *MockSubscriberRepo) CreditBalance(ctx context.Context, tx repository.Tx, id int64, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.Balance += amount
	return nil
}

type MockTariffRepo struct {
	mu    sync.Mutex
	plans []*model.TariffPlan
}

func NewMockTariffRepo(plans ...*model.TariffPlan) *MockTariffRepo {
	return &MockTariffRepo{plans: plans}
}

func (m *MockTariffRepo) FindPlan(ctx context.Context, tx repository.Tx, tariff string, periodDays int) (*model.TariffPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.plans {
		if p.Tariff == tariff && p.PeriodDays == periodDays && p.Active {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrInvalidTariff
}

func (m *MockTariffRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.TariffPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.TariffPlan
	for _, p := range m.plans {
		if p.Active {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

type MockPromoRepo struct {
	mu    sync.Mutex
	store map[string]*model.PromoCode
}

func NewMockPromoRepo() *MockPromoRepo {
	return &MockPromoRepo{store: make(map[string]*model.PromoCode)}
}

func (m *MockPromoRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.PromoCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[code]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockPromoRepo) Save(ctx context.Context, tx repository.Tx, p *model.PromoCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.store[p.Code] = &cp
	return nil
}

func (m *MockPromoRepo) Consume(ctx context.Context, tx repository.Tx, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[code]
	if !ok || !p.Active || p.UsedCount >= p.MaxUses {
		return false, nil
	}
	p.UsedCount++
	return true, nil
}

type MockReferralRepo struct {
	mu    sync.Mutex
	store map[string]*model.ReferralReward
}

func NewMockReferralRepo() *MockReferralRepo {
	return &MockReferralRepo{store: make(map[string]*model.ReferralReward)}
}

func (m *MockReferralRepo) SaveOnce(ctx context.Context, tx repository.Tx, r *model.ReferralReward) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%d|%s", r.BuyerID, r.PurchaseID)
	if _, ok := m.store[key]; ok {
		return false, nil
	}
	cp := *r
	m.store[key] = &cp
	return true, nil
}

func (m *MockReferralRepo) ListByReferrer(ctx context.Context, tx repository.Tx, referrerID int64) ([]*model.ReferralReward, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ReferralReward
	for _, r := range m.store {
		if r.ReferrerID == referrerID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

type MockNotificationLogRepo struct {
	mu           sync.Mutex
	sent         map[string]bool
	MarkSentFunc func(ctx context.Context, tx repository.Tx, paymentID string, kind model.NotificationKind) error
}

func NewMockNotificationLogRepo() *MockNotificationLogRepo {
	return &MockNotificationLogRepo{sent: make(map[string]bool)}
}

func (m *MockNotificationLogRepo) IsSent(ctx context.Context, tx repository.Tx, paymentID string, kind model.NotificationKind) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[paymentID+"|"+string(kind)], nil
}

func (m *MockNotificationLogRepo) MarkSent(ctx context.Context, tx repository.Tx, paymentID string, kind model.NotificationKind) error {
	if m.MarkSentFunc != nil {
		return m.MarkSentFunc(ctx, tx, paymentID, kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[paymentID+"|"+string(kind)] = true
	return nil
}

type MockAuditRepo struct {
	mu      sync.Mutex
	Records []*model.AuditRecord
}

func NewMockAuditRepo() *MockAuditRepo { return &MockAuditRepo{} }

func (m *MockAuditRepo) Append(ctx context.Context, tx repository.Tx, rec *model.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.Records = append(m.Records, &cp)
	return nil
}

func (m *MockAuditRepo) ListRecent(ctx context.Context, tx repository.Tx, limit int) ([]*model.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.Records)
	if limit < n {
		n = limit
	}
	out := make([]*model.AuditRecord, 0, n)
	for i := len(m.Records) - 1; i >= 0 && len(out) < n; i-- {
		cp := *m.Records[i]
		out = append(out, &cp)
	}
	return out, nil
}

// ByAction filters recorded entries for assertions.
func (m *MockAuditRepo) ByAction(action model.AuditAction) []*model.AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.AuditRecord
	for _, r := range m.Records {
		if r.Action == action {
			out = append(out, r)
		}
	}
	return out
}

// MockGuard is an in-process subscriber guard with real mutual exclusion so
// concurrency tests exercise actual contention.
type MockGuard struct {
	mu   sync.Mutex
	held map[int64]bool
}

func NewMockGuard() *MockGuard { return &MockGuard{held: make(map[int64]bool)} }

type mockHandle struct {
	g    *MockGuard
	id   int64
	once sync.Once
}

func (h *mockHandle) Release() {
	h.once.Do(func() {
		h.g.mu.Lock()
		delete(h.g.held, h.id)
		h.g.mu.Unlock()
	})
}

func (g *MockGuard) TryAcquire(ctx context.Context, subscriberID int64) (locker.Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[subscriberID] {
		return nil, domain.ErrLockBusy
	}
	g.held[subscriberID] = true
	return &mockHandle{g: g, id: subscriberID}, nil
}

func (g *MockGuard) Acquire(ctx context.Context, subscriberID int64) (locker.Handle, error) {
	for {
		if h, err := g.TryAcquire(ctx, subscriberID); err == nil {
			return h, nil
		}
		select {
		case <-ctx.Done():
			return nil, domain.ErrLockBusy
		case <-time.After(time.Millisecond):
		}
	}
}

// MockProvisioner records control-plane calls and fabricates key material.
type MockProvisioner struct {
	mu                sync.Mutex
	Calls             []int64
	Removed           []int64
	AddOrUpdateFunc   func(ctx context.Context, subscriberID int64, expiresAt time.Time, keyHint string) (*adapter.KeyMaterial, error)
	RemoveUserFunc    func(ctx context.Context, subscriberID int64) error
	HealthCheckResult bool
}

func NewMockProvisioner() *MockProvisioner { return &MockProvisioner{HealthCheckResult: true} }

func (m *MockProvisioner) AddOrUpdateUser(ctx context.Context, subscriberID int64, expiresAt time.Time, keyHint string) (*adapter.KeyMaterial, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, subscriberID)
	m.mu.Unlock()
	if m.AddOrUpdateFunc != nil {
		return m.AddOrUpdateFunc(ctx, subscriberID, expiresAt, keyHint)
	}
	keyID := keyHint
	if keyID == "" {
		keyID = fmt.Sprintf("key-%d", subscriberID)
	}
	return &adapter.KeyMaterial{KeyID: keyID, AccessURL: "vpn://access/" + keyID}, nil
}

func (m *MockProvisioner) RemoveUser(ctx context.Context, subscriberID int64) error {
	m.mu.Lock()
	m.Removed = append(m.Removed, subscriberID)
	m.mu.Unlock()
	if m.RemoveUserFunc != nil {
		return m.RemoveUserFunc(ctx, subscriberID)
	}
	return nil
}

func (m *MockProvisioner) HealthCheck(ctx context.Context) bool { return m.HealthCheckResult }

func (m *MockProvisioner) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// MockNotifier collects delivered messages for assertions.
type MockNotifier struct {
	mu       sync.Mutex
	Messages []string
	SendFunc func(ctx context.Context, subscriberID int64, text string) error
}

func NewMockNotifier() *MockNotifier { return &MockNotifier{} }

func (m *MockNotifier) Send(ctx context.Context, subscriberID int64, text string) error {
	if m.SendFunc != nil {
		return m.SendFunc(ctx, subscriberID, text)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, text)
	return nil
}

func (m *MockNotifier) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Messages)
}

// MockFlowRepo is the in-memory stand-in for the Redis purchase flow store.
type MockFlowRepo struct {
	mu    sync.Mutex
	store map[int64]*repository.PurchaseFlow
}

func NewMockFlowRepo() *MockFlowRepo {
	return &MockFlowRepo{store: make(map[int64]*repository.PurchaseFlow)}
}

func (m *MockFlowRepo) GetFlow(ctx context.Context, subscriberID int64) (*repository.PurchaseFlow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.store[subscriberID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *MockFlowRepo) SetFlow(ctx context.Context, subscriberID int64, flow *repository.PurchaseFlow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *flow
	m.store[subscriberID] = &cp
	return nil
}

func (m *MockFlowRepo) ClearFlow(ctx context.Context, subscriberID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, subscriberID)
	return nil
}
