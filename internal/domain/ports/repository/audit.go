package repository

import (
	"context"

	"telegram-vpn-shop/internal/domain/model"
)

type AuditRepository interface {
	Append(ctx context.Context, tx Tx, rec *model.AuditRecord) error
	ListRecent(ctx context.Context, tx Tx, limit int) ([]*model.AuditRecord, error)
}
