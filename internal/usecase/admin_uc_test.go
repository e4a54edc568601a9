//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"telegram-vpn-shop/internal/domain"
	"telegram-vpn-shop/internal/domain/model"
	"telegram-vpn-shop/internal/domain/ports/adapter"
	"telegram-vpn-shop/internal/usecase"
)

type adminDeps struct {
	subs        *usecase.MockSubscriptionRepo
	audit       *usecase.MockAuditRepo
	guard       *usecase.MockGuard
	provisioner *usecase.MockProvisioner
	notifier    *usecase.MockNotifier
}

func newAdminUC() (*adminDeps, usecase.AdminUseCase) {
	deps := &adminDeps{
		subs:        usecase.NewMockSubscriptionRepo(),
		audit:       usecase.NewMockAuditRepo(),
		guard:       usecase.NewMockGuard(),
		provisioner: usecase.NewMockProvisioner(),
		notifier:    usecase.NewMockNotifier(),
	}
	logger := usecase.NewTestLogger()
	dispatcher := usecase.NewNotificationDispatcher(usecase.NewMockNotificationLogRepo(), logger)
	uc := usecase.NewAdminUseCase(usecase.NewMockTxManager(), deps.subs, deps.audit, deps.guard, deps.provisioner, dispatcher, deps.notifier, logger)
	return deps, uc
}

func activeSub(subscriberID int64, keyID string, expiresAt time.Time) *model.Subscription {
	return &model.Subscription{
		SubscriberID:     subscriberID,
		KeyID:            &keyID,
		ExpiresAt:        expiresAt,
		Status:           model.SubscriptionStatusActive,
		ActivationStatus: model.ActivationActive,
	}
}

func TestAdmin_GrantAccess(t *testing.T) {
	ctx := context.Background()

	t.Run("creates subscription for new subscriber", func(t *testing.T) {
		deps, uc := newAdminUC()
		sub, err := uc.GrantAccess(ctx, 42, 7*24*time.Hour, 1)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if sub.ActivationStatus != model.ActivationActive || sub.KeyID == nil {
			t.Error("grant should provision a key inline")
		}
		if len(deps.audit.ByAction(model.AuditGrantAccess)) != 1 {
			t.Error("grant must leave an audit record")
		}
	})

	t.Run("extends from current expiry", func(t *testing.T) {
		deps, uc := newAdminUC()
		expiry := time.Now().Add(5 * 24 * time.Hour)
		deps.subs.Put(activeSub(42, "key-42", expiry))

		sub, err := uc.GrantAccess(ctx, 42, 7*24*time.Hour, 1)
		if err != nil {
			t.Fatal(err)
		}
		want := expiry.Add(7 * 24 * time.Hour)
		if !sub.ExpiresAt.Equal(want) {
			t.Errorf("expiry %v, want %v", sub.ExpiresAt, want)
		}
	})

	t.Run("provisioning failure leaves grant pending", func(t *testing.T) {
		deps, uc := newAdminUC()
		deps.provisioner.AddOrUpdateFunc = func(ctx context.Context, subscriberID int64, expiresAt time.Time, keyHint string) (*adapter.KeyMaterial, error) {
			return nil, errors.New("down")
		}
		sub, err := uc.GrantAccess(ctx, 42, 24*time.Hour, 1)
		if err != nil {
			t.Fatalf("grant must commit despite provisioning failure: %v", err)
		}
		if sub.ActivationStatus != model.ActivationPending {
			t.Errorf("expected pending activation, got %q", sub.ActivationStatus)
		}
	})

	t.Run("rejects non-positive duration", func(t *testing.T) {
		_, uc := newAdminUC()
		if _, err := uc.GrantAccess(ctx, 42, 0, 1); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got: %v", err)
		}
	})
}

func TestAdmin_RevokeAccess(t *testing.T) {
	ctx := context.Background()
	deps, uc := newAdminUC()
	deps.subs.Put(activeSub(42, "key-42", time.Now().Add(24*time.Hour)))

	if err := uc.RevokeAccess(ctx, 42, 1); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	sub, _ := deps.subs.FindBySubscriber(ctx, nil, 42)
	if sub.Status != model.SubscriptionStatusExpired {
		t.Errorf("status %q, want expired", sub.Status)
	}
	if len(deps.provisioner.Removed) != 1 || deps.provisioner.Removed[0] != 42 {
		t.Error("revoke must remove the user from the control-plane")
	}
	if len(deps.audit.ByAction(model.AuditRevokeAccess)) != 1 {
		t.Error("revoke must leave an audit record")
	}

	if err := uc.RevokeAccess(ctx, 99, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown subscriber, got: %v", err)
	}
}

func TestAdmin_ReissueKey(t *testing.T) {
	ctx := context.Background()

	t.Run("rotates the key and notifies", func(t *testing.T) {
		deps, uc := newAdminUC()
		deps.subs.Put(activeSub(42, "old-key", time.Now().Add(24*time.Hour)))
		deps.provisioner.AddOrUpdateFunc = func(ctx context.Context, subscriberID int64, expiresAt time.Time, keyHint string) (*adapter.KeyMaterial, error) {
			if keyHint != "" {
				t.Errorf("reissue must ask for a fresh key, got hint %q", keyHint)
			}
			return &adapter.KeyMaterial{KeyID: "new-key", AccessURL: "vpn://access/new-key"}, nil
		}

		km, err := uc.ReissueKey(ctx, 42, 1)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if km.KeyID != "new-key" {
			t.Errorf("key id %q, want new-key", km.KeyID)
		}
		sub, _ := deps.subs.FindBySubscriber(ctx, nil, 42)
		if sub.KeyID == nil || *sub.KeyID != "new-key" {
			t.Error("rotated key must be persisted")
		}
		if deps.notifier.Count() != 1 {
			t.Errorf("expected one reissue notification, got %d", deps.notifier.Count())
		}
	})

	t.Run("no active subscription", func(t *testing.T) {
		deps, uc := newAdminUC()
		deps.subs.Put(&model.Subscription{
			SubscriberID:     42,
			ExpiresAt:        time.Now().Add(-time.Hour),
			Status:           model.SubscriptionStatusExpired,
			ActivationStatus: model.ActivationFailed,
		})
		if _, err := uc.ReissueKey(ctx, 42, 1); !errors.Is(err, domain.ErrNoActiveSubscription) {
			t.Fatalf("expected ErrNoActiveSubscription, got: %v", err)
		}
	})

	t.Run("concurrent reissue fails fast", func(t *testing.T) {
		deps, uc := newAdminUC()
		deps.subs.Put(activeSub(42, "old-key", time.Now().Add(24*time.Hour)))

		entered := make(chan struct{})
		release := make(chan struct{})
		deps.provisioner.AddOrUpdateFunc = func(ctx context.Context, subscriberID int64, expiresAt time.Time, keyHint string) (*adapter.KeyMaterial, error) {
			close(entered)
			<-release
			return &adapter.KeyMaterial{KeyID: "slow-key", AccessURL: "vpn://access/slow-key"}, nil
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = uc.ReissueKey(ctx, 42, 1)
		}()

		<-entered
		_, err := uc.ReissueKey(ctx, 42, 2)
		close(release)
		wg.Wait()

		if !errors.Is(err, domain.ErrLockBusy) {
			t.Fatalf("expected ErrLockBusy for concurrent reissue, got: %v", err)
		}
		if deps.provisioner.CallCount() != 1 {
			t.Errorf("loser must not hit the control-plane, got %d calls", deps.provisioner.CallCount())
		}
	})
}
