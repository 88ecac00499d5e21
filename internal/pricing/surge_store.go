package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SurgeData is the cached demand/supply snapshot for one grid cell.
type SurgeData struct {
	CellID          string    `json:"cell_id"`
	Multiplier      float64   `json:"multiplier"`
	ActiveDrivers   int       `json:"active_drivers"`
	PendingRequests int       `json:"pending_requests"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SurgeStore persists surge data so all service instances price
// consistently. SurgeData returns (nil, nil) when the cell has no entry.
type SurgeStore interface {
	SurgeData(ctx context.Context, cellID string) (*SurgeData, error)
	SetSurgeData(ctx context.Context, data *SurgeData) error
}

const surgeKeyPrefix = "surge:cell:"

// RedisSurgeStore keeps surge data in the same Redis instance as the
// driver pool. Entries carry both a native TTL and an explicit UpdatedAt;
// the engine checks the timestamp so the logic ports to any KV backend.
type RedisSurgeStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSurgeStore(client *redis.Client, ttl time.Duration) *RedisSurgeStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisSurgeStore{client: client, ttl: ttl}
}

func (s *RedisSurgeStore) SurgeData(ctx context.Context, cellID string) (*SurgeData, error) {
	b, err := s.client.Get(ctx, surgeKeyPrefix+cellID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var data SurgeData
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (s *RedisSurgeStore) SetSurgeData(ctx context.Context, data *SurgeData) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, surgeKeyPrefix+data.CellID, b, s.ttl).Err()
}

// MemorySurgeStore backs tests and single-instance deployments.
type MemorySurgeStore struct {
	mu    sync.RWMutex
	cells map[string]SurgeData
}

func NewMemorySurgeStore() *MemorySurgeStore {
	return &MemorySurgeStore{cells: make(map[string]SurgeData)}
}

func (s *MemorySurgeStore) SurgeData(_ context.Context, cellID string) (*SurgeData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.cells[cellID]
	if !ok {
		return nil, nil
	}
	cp := data
	return &cp, nil
}

func (s *MemorySurgeStore) SetSurgeData(_ context.Context, data *SurgeData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cells[data.CellID] = *data
	return nil
}
