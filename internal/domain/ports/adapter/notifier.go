package adapter

import "context"

// Notifier delivers a user-facing message over the chat transport. The
// dispatcher's idempotency log sits in front of it, so implementations only
// need best-effort delivery.
type Notifier interface {
	Send(ctx context.Context, subscriberID int64, text string) error
}
