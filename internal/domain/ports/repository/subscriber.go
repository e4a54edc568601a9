package repository

import (
	"context"

	"telegram-vpn-shop/internal/domain/model"
)

type SubscriberRepository interface {
	FindByID(ctx context.Context, tx Tx, id int64) (*model.Subscriber, error)
	Save(ctx context.Context, tx Tx, s *model.Subscriber) error
	// CreditBalance adds amount (minor units) to the subscriber's balance.
	CreditBalance(ctx context.Context, tx Tx, id int64, amount int64) error
}

type TariffRepository interface {
	// FindPlan resolves a (tariff, period) combination or ErrInvalidTariff.
	FindPlan(ctx context.Context, tx Tx, tariff string, periodDays int) (*model.TariffPlan, error)
	ListActive(ctx context.Context, tx Tx) ([]*model.TariffPlan, error)
}
