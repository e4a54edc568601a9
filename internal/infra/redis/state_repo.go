package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"telegram-vpn-shop/internal/domain"
	"telegram-vpn-shop/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
)

var _ repository.PurchaseStateRepository = (*StateRepo)(nil)

// StateRepo keeps the subscriber's purchase flow position in Redis. The TTL
// bounds how long a half-finished purchase conversation can linger.
type StateRepo struct {
	client RedisClient
	ttl    time.Duration
}

func NewStateRepo(client RedisClient, ttl time.Duration) *StateRepo {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &StateRepo{client: client, ttl: ttl}
}

func (s *StateRepo) flowKey(subscriberID int64) string {
	return fmt.Sprintf("purchase_flow:%d", subscriberID)
}

func (s *StateRepo) GetFlow(ctx context.Context, subscriberID int64) (*repository.PurchaseFlow, error) {
	data, err := s.client.Get(ctx, s.flowKey(subscriberID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	var flow repository.PurchaseFlow
	if err := json.Unmarshal([]byte(data), &flow); err != nil {
		return nil, err
	}
	return &flow, nil
}

func (s *StateRepo) SetFlow(ctx context.Context, subscriberID int64, flow *repository.PurchaseFlow) error {
	flow.UpdatedAt = time.Now()
	data, err := json.Marshal(flow)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.flowKey(subscriberID), data, s.ttl)
}

func (s *StateRepo) ClearFlow(ctx context.Context, subscriberID int64) error {
	return s.client.Del(ctx, s.flowKey(subscriberID))
}
