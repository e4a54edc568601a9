package repository

import (
	"context"

	"telegram-vpn-shop/internal/domain/model"
)

type PromoCodeRepository interface {
	FindByCode(ctx context.Context, tx Tx, code string) (*model.PromoCode, error)
	Save(ctx context.Context, tx Tx, p *model.PromoCode) error
	// Consume increments used_count only while used_count < max_uses and the
	// code is active, atomically. Returns false when no use was available.
	Consume(ctx context.Context, tx Tx, code string) (bool, error)
}
