package locker

import "context"

// Handle represents a held per-subscriber lock. Release must run regardless of
// outcome; a leaked handle is a liveness bug.
type Handle interface {
	Release()
}

// SubscriberGuard serializes provisioning-affecting operations (activation,
// reissue, revoke, reconciliation touch) for one subscriber. Unrelated
// subscribers never block each other.
type SubscriberGuard interface {
	// Acquire blocks up to the guard's configured bound, then fails with
	// ErrLockBusy.
	Acquire(ctx context.Context, subscriberID int64) (Handle, error)
	// TryAcquire never blocks; it fails fast with ErrLockBusy when another
	// operation holds the subscriber.
	TryAcquire(ctx context.Context, subscriberID int64) (Handle, error)
}
