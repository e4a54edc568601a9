package adapter

import (
	"context"
	"time"
)

// KeyMaterial is what the control-plane hands back for a provisioned user.
type KeyMaterial struct {
	KeyID     string
	AccessURL string
}

// ProvisioningClient is the narrow RPC surface of the external VPN
// control-plane. The remote side is stateless by contract: AddOrUpdateUser is
// idempotent per subscriber and the database stays the source of truth.
// Implementations bound every call with a fixed timeout and never retry;
// retry policy belongs to the caller.
type ProvisioningClient interface {
	AddOrUpdateUser(ctx context.Context, subscriberID int64, expiresAt time.Time, keyHint string) (*KeyMaterial, error)
	RemoveUser(ctx context.Context, subscriberID int64) error
	HealthCheck(ctx context.Context) bool
}
