package postgres

import (
	"context"
	"hash/fnv"
	"strconv"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-vpn-shop/internal/domain/ports/repository"
)

// The session guard and the in-transaction row serializer share one 64-bit
// advisory space, and session locks conflict with xact locks across
// backends. The purpose prefix keeps the two key sets disjoint so a
// transaction can take the row lock while its caller already holds the
// guard on another pooled connection. Hashing the full id also keeps
// subscribers congruent mod 2^32 from sharing a key.
func advisoryKey(purpose string, subscriberID int64) int64 {
	h := fnv.New64a()
	h.Write([]byte(purpose))
	h.Write([]byte(strconv.FormatInt(subscriberID, 10)))
	return int64(h.Sum64() & (1<<63 - 1))
}

func guardLockKey(subscriberID int64) int64 { return advisoryKey("subscriber_guard:", subscriberID) }

func rowLockKey(subscriberID int64) int64 { return advisoryKey("subscriber_row:", subscriberID) }

// AcquireSubscriberRowLock blocks inside the given transaction until the
// per-subscriber advisory lock is held; released automatically at commit or
// rollback. Serializes finalize-vs-finalize and finalize-vs-admin on one row.
func AcquireSubscriberRowLock(ctx context.Context, tx pgx.Tx, subscriberID int64) error {
	_, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", rowLockKey(subscriberID))
	return err
}

var _ repository.AdvisoryLocker = (*SessionAdvisoryLocker)(nil)

// SessionAdvisoryLocker takes session-scoped advisory locks on a dedicated
// connection per lock, so multiple service instances cannot run
// provisioning-affecting operations for one subscriber concurrently.
type SessionAdvisoryLocker struct {
	pool *pgxpool.Pool
}

func NewSessionAdvisoryLocker(pool *pgxpool.Pool) *SessionAdvisoryLocker {
	return &SessionAdvisoryLocker{pool: pool}
}

// TryLock attempts the lock without blocking. On success the returned release
// func unlocks and returns the connection; it must always be called.
func (l *SessionAdvisoryLocker) TryLock(ctx context.Context, subscriberID int64) (release func(), ok bool, err error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	key := guardLockKey(subscriberID)
	var got bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&got); err != nil {
		conn.Release()
		return nil, false, err
	}
	if !got {
		conn.Release()
		return nil, false, nil
	}
	release = func() {
		// Unlock on the same session that took the lock. Background context:
		// the lock must be dropped even when the caller's ctx is done.
		_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", key)
		conn.Release()
	}
	return release, true, nil
}
