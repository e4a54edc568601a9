package repository

import "context"

// AdvisoryLocker is the durable half of the subscriber guard: a
// database-level named lock that holds across service instances. The release
// func must be called exactly once when ok is true.
type AdvisoryLocker interface {
	TryLock(ctx context.Context, subscriberID int64) (release func(), ok bool, err error)
}
