// Package storage persists rides. Postgres backs production; the memory
// store backs tests and redis-less local runs.
package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/domain"
)

// RideStore defines persistence operations for rides.
type RideStore interface {
	SaveRide(ctx context.Context, r *domain.Ride) error
	UpdateRide(ctx context.Context, r *domain.Ride) error
	GetRide(ctx context.Context, id uuid.UUID) (*domain.Ride, error)
	GetActiveRideByRider(ctx context.Context, riderID uuid.UUID) (*domain.Ride, error)
	GetActiveRideByDriver(ctx context.Context, driverID uuid.UUID) (*domain.Ride, error)
	ListRidesByRider(ctx context.Context, riderID uuid.UUID, limit int) ([]*domain.Ride, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	rides map[uuid.UUID]domain.Ride
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[uuid.UUID]domain.Ride)}
}

func (m *MemoryStore) SaveRide(_ context.Context, r *domain.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = *r
	return nil
}

func (m *MemoryStore) UpdateRide(_ context.Context, r *domain.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; !ok {
		return domain.ErrRideNotFound
	}
	m.rides[r.ID] = *r
	return nil
}

func (m *MemoryStore) GetRide(_ context.Context, id uuid.UUID) (*domain.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, domain.ErrRideNotFound
	}
	cp := r
	return &cp, nil
}

func (m *MemoryStore) GetActiveRideByRider(_ context.Context, riderID uuid.UUID) (*domain.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rides {
		if r.RiderID == riderID && r.IsActive() {
			cp := r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) GetActiveRideByDriver(_ context.Context, driverID uuid.UUID) (*domain.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rides {
		if r.DriverID != nil && *r.DriverID == driverID && r.IsActive() {
			cp := r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListRidesByRider(_ context.Context, riderID uuid.UUID, limit int) ([]*domain.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Ride, 0)
	for _, r := range m.rides {
		if r.RiderID != riderID {
			continue
		}
		cp := r
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
