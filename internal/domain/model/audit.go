package model

import "time"

type AuditAction string

const (
	AuditGrantAccess   AuditAction = "grant_access"
	AuditRevokeAccess  AuditAction = "revoke_access"
	AuditReissueKey    AuditAction = "reissue_key"
	AuditOrphanPayment AuditAction = "orphan_payment"
	AuditForcedSync    AuditAction = "forced_sync"
)

// AuditRecord is the operator trail for admin actions and anomalies that need
// manual follow-up (e.g. a payment that arrived without a valid context).
type AuditRecord struct {
	ID        string // UUID
	Action    AuditAction
	Actor     int64 // admin id, 0 for system
	Target    int64 // subscriber id
	Detail    string
	CreatedAt time.Time
}
