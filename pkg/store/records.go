package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tradeflow/pkg/types"
)

var ErrCorrupt = errors.New("stored record is corrupt")

const (
	payloadKey  = "privacy/payload"
	orderPrefix = "orders/"
)

// PayloadStore persists the current privacy payload
type PayloadStore struct {
	kv KV
}

func NewPayloadStore(kv KV) *PayloadStore {
	return &PayloadStore{kv: kv}
}

// Load returns nil, nil when nothing is stored and ErrCorrupt when the
// stored bytes do not decode
func (s *PayloadStore) Load(_ context.Context) (*types.PrivacyPayload, error) {
	data, err := s.kv.Get(payloadKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p types.PrivacyPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &p, nil
}

func (s *PayloadStore) Save(_ context.Context, p *types.PrivacyPayload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	return s.kv.Put(payloadKey, data)
}

func (s *PayloadStore) Clear(_ context.Context) error {
	return s.kv.Delete(payloadKey)
}

// OrderStore persists pending bridge orders by id
type OrderStore struct {
	kv     KV
	logger *zap.Logger
}

func NewOrderStore(kv KV, logger *zap.Logger) *OrderStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderStore{kv: kv, logger: logger}
}

func (s *OrderStore) Save(_ context.Context, o *types.BridgeOrder) error {
	if o == nil || o.OrderID == "" {
		return fmt.Errorf("order id is required")
	}
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	return s.kv.Put(orderPrefix+o.OrderID, data)
}

func (s *OrderStore) Delete(_ context.Context, id string) error {
	return s.kv.Delete(orderPrefix + id)
}

// List returns every readable order. Corrupt records are dropped.
func (s *OrderStore) List(_ context.Context) ([]*types.BridgeOrder, error) {
	keys, err := s.kv.Keys(orderPrefix)
	if err != nil {
		return nil, err
	}

	orders := make([]*types.BridgeOrder, 0, len(keys))
	for _, key := range keys {
		data, err := s.kv.Get(key)
		if err != nil {
			s.logger.Warn("skipping unreadable order", zap.String("key", key), zap.Error(err))
			continue
		}
		var o types.BridgeOrder
		if err := json.Unmarshal(data, &o); err != nil || o.OrderID == "" {
			s.logger.Warn("dropping corrupt order record", zap.String("key", key), zap.Error(err))
			if delErr := s.kv.Delete(key); delErr != nil {
				s.logger.Warn("failed to drop corrupt order", zap.String("key", key), zap.Error(delErr))
			}
			continue
		}
		orders = append(orders, &o)
	}
	return orders, nil
}
