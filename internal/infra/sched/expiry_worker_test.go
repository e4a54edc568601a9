//go:build !integration

package sched

import (
	"context"
	"errors"
	"testing"
	"time"

	"telegram-vpn-shop/internal/config"
	"telegram-vpn-shop/internal/domain/model"
)

func expiryCfg() config.PurchaseConfig {
	return config.PurchaseConfig{ExpiryInterval: time.Minute}
}

func TestExpiry_SweepsOverdueAndRemovesKeys(t *testing.T) {
	subs := newFakeSubRepo()
	subs.put(activeSub(1, "key-1", time.Now().Add(-time.Hour)))
	subs.put(activeSub(2, "key-2", time.Now().Add(time.Hour)))

	prov := newFakeProvisioner()
	intents := &fakeIntentRepo{}
	w := NewExpiryWorker(subs, intents, prov, newFakeGuard(), expiryCfg(), testLogger())

	w.tick(context.Background())

	sub, _ := subs.FindBySubscriber(context.Background(), nil, 1)
	if sub.Status != model.SubscriptionStatusExpired {
		t.Fatalf("overdue row not expired: %s", sub.Status)
	}
	live, _ := subs.FindBySubscriber(context.Background(), nil, 2)
	if live.Status != model.SubscriptionStatusActive {
		t.Fatal("future row must stay active")
	}
	if len(prov.removed) != 1 || prov.removed[0] != 1 {
		t.Fatalf("expected control-plane removal for 1, got %v", prov.removed)
	}
	if intents.cleanups != 1 {
		t.Fatal("intent cleanup must run every tick")
	}
}

func TestExpiry_KeylessRowSkipsRemoval(t *testing.T) {
	subs := newFakeSubRepo()
	subs.put(&model.Subscription{
		SubscriberID:     3,
		ExpiresAt:        time.Now().Add(-time.Minute),
		Status:           model.SubscriptionStatusActive,
		ActivationStatus: model.ActivationPending,
	})

	prov := newFakeProvisioner()
	w := NewExpiryWorker(subs, &fakeIntentRepo{}, prov, newFakeGuard(), expiryCfg(), testLogger())

	w.tick(context.Background())

	if len(prov.removed) != 0 {
		t.Fatalf("no key was issued, nothing to remove: %v", prov.removed)
	}
	sub, _ := subs.FindBySubscriber(context.Background(), nil, 3)
	if sub.Status != model.SubscriptionStatusExpired {
		t.Fatal("row must still expire")
	}
}

func TestExpiry_BusySubscriberLeftForNextPass(t *testing.T) {
	subs := newFakeSubRepo()
	subs.put(activeSub(4, "key-4", time.Now().Add(-time.Minute)))

	guard := newFakeGuard()
	guard.lock(4)
	prov := newFakeProvisioner()
	w := NewExpiryWorker(subs, &fakeIntentRepo{}, prov, guard, expiryCfg(), testLogger())

	w.tick(context.Background())

	if len(prov.removed) != 0 {
		t.Fatal("busy subscriber must not be touched")
	}
	sub, _ := subs.FindBySubscriber(context.Background(), nil, 4)
	if sub.Status != model.SubscriptionStatusExpired {
		t.Fatal("the row itself is expired regardless of the guard")
	}
}

func TestExpiry_RemovalFailureIsBestEffort(t *testing.T) {
	subs := newFakeSubRepo()
	subs.put(activeSub(5, "key-5", time.Now().Add(-time.Minute)))
	subs.put(activeSub(6, "key-6", time.Now().Add(-time.Minute)))

	prov := newFakeProvisioner()
	prov.failFor[5] = errors.New("control-plane 502")
	w := NewExpiryWorker(subs, &fakeIntentRepo{}, prov, newFakeGuard(), expiryCfg(), testLogger())

	w.tick(context.Background())

	if len(prov.removed) != 1 || prov.removed[0] != 6 {
		t.Fatalf("one failed removal must not block the other: %v", prov.removed)
	}
}

func TestExpiry_SweepErrorSkipsTick(t *testing.T) {
	subs := newFakeSubRepo()
	subs.listErr = errors.New("pg down")
	intents := &fakeIntentRepo{}
	w := NewExpiryWorker(subs, intents, newFakeProvisioner(), newFakeGuard(), expiryCfg(), testLogger())

	w.tick(context.Background())

	if intents.cleanups != 0 {
		t.Fatal("a failed sweep must not proceed to cleanup")
	}
}
