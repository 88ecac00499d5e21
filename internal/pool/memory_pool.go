package pool

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/domain"
	"github.com/example/ride-dispatch/internal/geo"
)

// MemoryPool is the in-process Pool used by tests and redis-less local
// runs. It enforces the same staleness and lock-expiry semantics as the
// Redis implementation by checking expiry timestamps on read.
type MemoryPool struct {
	mu sync.RWMutex

	locations map[uuid.UUID]LocationRecord
	statuses  map[uuid.UUID]domain.DriverStatus
	vehicles  map[uuid.UUID]domain.Vehicle
	locks     map[uuid.UUID]time.Time // lock expiry per driver

	cellDrivers  map[string]map[uuid.UUID]struct{}
	cellRequests map[string]map[uuid.UUID]struct{}

	matchingLocks map[uuid.UUID]time.Time
	rides         map[uuid.UUID]domain.Ride
}

func NewMemoryPool() *MemoryPool {
	return &MemoryPool{
		locations:     make(map[uuid.UUID]LocationRecord),
		statuses:      make(map[uuid.UUID]domain.DriverStatus),
		vehicles:      make(map[uuid.UUID]domain.Vehicle),
		locks:         make(map[uuid.UUID]time.Time),
		cellDrivers:   make(map[string]map[uuid.UUID]struct{}),
		cellRequests:  make(map[string]map[uuid.UUID]struct{}),
		matchingLocks: make(map[uuid.UUID]time.Time),
		rides:         make(map[uuid.UUID]domain.Ride),
	}
}

func (p *MemoryPool) UpdateLocation(_ context.Context, loc *domain.DriverLocation) error {
	if !geo.ValidCoordinate(loc.Location.Latitude, loc.Location.Longitude) {
		return domain.ErrInvalidLocation
	}

	cell := geo.CellForLocation(&loc.Location)
	ts := loc.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.locations[loc.DriverID]; ok && prev.CellID != cell {
		delete(p.cellDrivers[prev.CellID], loc.DriverID)
	}
	p.locations[loc.DriverID] = LocationRecord{
		DriverID:  loc.DriverID,
		Latitude:  loc.Location.Latitude,
		Longitude: loc.Location.Longitude,
		Heading:   loc.Heading,
		Speed:     loc.Speed,
		CellID:    cell,
		UpdatedAt: ts,
	}
	if p.cellDrivers[cell] == nil {
		p.cellDrivers[cell] = make(map[uuid.UUID]struct{})
	}
	p.cellDrivers[cell][loc.DriverID] = struct{}{}
	return nil
}

func (p *MemoryPool) DriverLocation(_ context.Context, driverID uuid.UUID) (*LocationRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.locations[driverID]
	if !ok || time.Since(rec.UpdatedAt) > LocationTTL {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

func (p *MemoryPool) NearbyDrivers(_ context.Context, lat, lng, radiusM float64, rideType domain.RideType) ([]*domain.NearbyDriver, error) {
	if !geo.ValidCoordinate(lat, lng) {
		return nil, domain.ErrInvalidLocation
	}
	if radiusM <= 0 {
		radiusM = geo.DefaultSearchRadiusM
	}
	if radiusM > geo.MaxSearchRadiusM {
		radiusM = geo.MaxSearchRadiusM
	}

	now := time.Now()

	p.mu.RLock()
	defer p.mu.RUnlock()

	drivers := make([]*domain.NearbyDriver, 0)
	for id, rec := range p.locations {
		if now.Sub(rec.UpdatedAt) > LocationTTL {
			continue
		}
		if p.statuses[id] != domain.DriverStatusOnline {
			continue
		}
		if exp, locked := p.locks[id]; locked && now.Before(exp) {
			continue
		}

		var vehicle *domain.Vehicle
		if v, ok := p.vehicles[id]; ok {
			cp := v
			vehicle = &cp
		}
		if rideType != "" {
			if vehicle == nil || !supportsRideType(vehicle, rideType) {
				continue
			}
		}

		dist := geo.Haversine(lat, lng, rec.Latitude, rec.Longitude)
		if dist > radiusM {
			continue
		}

		vt := domain.VehicleTypeCar
		if vehicle != nil {
			vt = vehicle.Type
		}

		updatedAt := rec.UpdatedAt
		drivers = append(drivers, &domain.NearbyDriver{
			Driver: &domain.Driver{
				ID:     id,
				Status: domain.DriverStatusOnline,
				CurrentLocation: &domain.Location{
					Latitude:  rec.Latitude,
					Longitude: rec.Longitude,
					CellID:    rec.CellID,
				},
				CellID:         rec.CellID,
				LastLocationAt: &updatedAt,
				Heading:        rec.Heading,
				Speed:          rec.Speed,
				Vehicle:        vehicle,
			},
			DistanceM:  dist,
			ETASeconds: geo.EstimateETA(dist, vt),
			Bearing:    geo.Bearing(rec.Latitude, rec.Longitude, lat, lng),
		})
	}

	sort.Slice(drivers, func(i, j int) bool { return drivers[i].DistanceM < drivers[j].DistanceM })

	if len(drivers) > nearbyCandidateLimit {
		drivers = drivers[:nearbyCandidateLimit]
	}
	return drivers, nil
}

func (p *MemoryPool) SetDriverStatus(_ context.Context, driverID uuid.UUID, status domain.DriverStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[driverID] = status
	return nil
}

func (p *MemoryPool) DriverStatus(_ context.Context, driverID uuid.UUID) (domain.DriverStatus, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if s, ok := p.statuses[driverID]; ok {
		return s, nil
	}
	return domain.DriverStatusOffline, nil
}

func (p *MemoryPool) RegisterVehicle(_ context.Context, vehicle *domain.Vehicle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vehicles[vehicle.DriverID] = *vehicle
	return nil
}

func (p *MemoryPool) Vehicle(_ context.Context, driverID uuid.UUID) (*domain.Vehicle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if v, ok := p.vehicles[driverID]; ok {
		cp := v
		return &cp, nil
	}
	return nil, nil
}

func (p *MemoryPool) LockDriver(_ context.Context, driverID uuid.UUID, ttl time.Duration) error {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if exp, ok := p.locks[driverID]; ok && now.Before(exp) {
		return domain.ErrDriverBusy
	}
	p.locks[driverID] = now.Add(ttl)
	return nil
}

func (p *MemoryPool) UnlockDriver(_ context.Context, driverID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.locks, driverID)
	return nil
}

func (p *MemoryPool) ExtendDriverLock(_ context.Context, driverID uuid.UUID, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locks[driverID] = time.Now().Add(ttl)
	return nil
}

func (p *MemoryPool) IsDriverLocked(_ context.Context, driverID uuid.UUID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	exp, ok := p.locks[driverID]
	return ok && time.Now().Before(exp)
}

func (p *MemoryPool) RemoveDriver(_ context.Context, driverID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.locations[driverID]; ok {
		delete(p.cellDrivers[rec.CellID], driverID)
	}
	delete(p.locations, driverID)
	delete(p.statuses, driverID)
	delete(p.locks, driverID)
	delete(p.vehicles, driverID)
	return nil
}

func (p *MemoryPool) CountDriversInCell(_ context.Context, cellID string) (int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return int64(len(p.cellDrivers[cellID])), nil
}

func (p *MemoryPool) TrackRequest(_ context.Context, cellID string, rideID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cellRequests[cellID] == nil {
		p.cellRequests[cellID] = make(map[uuid.UUID]struct{})
	}
	p.cellRequests[cellID][rideID] = struct{}{}
	return nil
}

func (p *MemoryPool) UntrackRequest(_ context.Context, cellID string, rideID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cellRequests[cellID], rideID)
	return nil
}

func (p *MemoryPool) CountPendingRequests(_ context.Context, cellID string) (int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return int64(len(p.cellRequests[cellID])), nil
}

func (p *MemoryPool) AcquireMatchingLock(_ context.Context, rideID uuid.UUID, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = MatchingLockTTL
	}
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if exp, ok := p.matchingLocks[rideID]; ok && now.Before(exp) {
		return false, nil
	}
	p.matchingLocks[rideID] = now.Add(ttl)
	return true, nil
}

func (p *MemoryPool) ExtendMatchingLock(_ context.Context, rideID uuid.UUID, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = MatchingLockTTL
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.matchingLocks[rideID] = time.Now().Add(ttl)
	return nil
}

func (p *MemoryPool) ReleaseMatchingLock(_ context.Context, rideID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.matchingLocks, rideID)
	return nil
}

func (p *MemoryPool) CacheRide(_ context.Context, ride *domain.Ride) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rides[ride.ID] = *ride
	return nil
}

func (p *MemoryPool) CachedRide(_ context.Context, rideID uuid.UUID) (*domain.Ride, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if r, ok := p.rides[rideID]; ok {
		cp := r
		return &cp, nil
	}
	return nil, nil
}

func (p *MemoryPool) InvalidateRide(_ context.Context, rideID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.rides, rideID)
	return nil
}

func (p *MemoryPool) Ping(context.Context) error { return nil }
