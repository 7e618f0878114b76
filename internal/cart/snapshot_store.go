package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/angelmondragon/cartsync/pkg/redis"
	"github.com/angelmondragon/cartsync/pkg/types"
)

const defaultSnapshotTTL = 24 * time.Hour

type snapshotBackend interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	CartSnapshotKey(userID, storeID string) string
}

// SnapshotStore keeps the last server-confirmed cart of each session in Redis.
type SnapshotStore struct {
	backend snapshotBackend
	ttl     time.Duration
}

// NewSnapshotStore builds a snapshot store. A non-positive ttl falls back to 24h.
func NewSnapshotStore(backend snapshotBackend, ttl time.Duration) (*SnapshotStore, error) {
	if backend == nil {
		return nil, fmt.Errorf("snapshot backend required")
	}
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &SnapshotStore{backend: backend, ttl: ttl}, nil
}

func (s *SnapshotStore) Save(ctx context.Context, key SessionKey, cart *types.Cart) error {
	if cart == nil {
		return nil
	}
	payload, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart snapshot: %w", err)
	}
	if err := s.backend.Set(ctx, s.key(key), string(payload), s.ttl); err != nil {
		return fmt.Errorf("save cart snapshot: %w", err)
	}
	return nil
}

// Load returns the stored cart and whether one existed.
func (s *SnapshotStore) Load(ctx context.Context, key SessionKey) (*types.Cart, bool, error) {
	raw, err := s.backend.Get(ctx, s.key(key))
	if err != nil {
		if redis.IsNil(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load cart snapshot: %w", err)
	}
	var cart types.Cart
	if err := json.Unmarshal([]byte(raw), &cart); err != nil {
		return nil, false, fmt.Errorf("decode cart snapshot: %w", err)
	}
	return &cart, true, nil
}

func (s *SnapshotStore) Delete(ctx context.Context, key SessionKey) error {
	if err := s.backend.Del(ctx, s.key(key)); err != nil {
		return fmt.Errorf("delete cart snapshot: %w", err)
	}
	return nil
}

// For binds the store to one session so it can serve as a controller Snapshotter.
func (s *SnapshotStore) For(key SessionKey) Snapshotter {
	if s == nil {
		return nil
	}
	return sessionSnapshot{store: s, key: key}
}

func (s *SnapshotStore) key(key SessionKey) string {
	return s.backend.CartSnapshotKey(key.UserID, key.StoreID.String())
}

type sessionSnapshot struct {
	store *SnapshotStore
	key   SessionKey
}

func (s sessionSnapshot) SaveCart(ctx context.Context, cart *types.Cart) error {
	return s.store.Save(ctx, s.key, cart)
}
