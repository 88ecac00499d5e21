// Package pool maintains the shared, TTL-bounded index of online driver
// positions used for proximity matching, together with the exclusive
// short-lived locks that keep two concurrent ride requests from claiming
// the same driver.
package pool

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/domain"
)

// LocationRecord is a driver's last reported position as stored in the
// pool. Records older than the location TTL are treated as absent.
type LocationRecord struct {
	DriverID  uuid.UUID `json:"driver_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Heading   float64   `json:"heading"`
	Speed     float64   `json:"speed"`
	CellID    string    `json:"cell_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pool is the shared driver-state store. All cross-request coordination in
// dispatch goes through this interface so correctness holds across
// multiple service instances.
type Pool interface {
	// UpdateLocation writes a driver's position, geo-index entry and cell
	// bucket membership in one atomic batch.
	UpdateLocation(ctx context.Context, loc *domain.DriverLocation) error

	// DriverLocation returns the driver's fresh location record, or
	// (nil, nil) when absent or stale.
	DriverLocation(ctx context.Context, driverID uuid.UUID) (*LocationRecord, error)

	// NearbyDrivers returns available drivers around a point, ascending
	// by distance. Stale, non-ONLINE, locked and type-incompatible
	// drivers are filtered out.
	NearbyDrivers(ctx context.Context, lat, lng, radiusM float64, rideType domain.RideType) ([]*domain.NearbyDriver, error)

	SetDriverStatus(ctx context.Context, driverID uuid.UUID, status domain.DriverStatus) error
	DriverStatus(ctx context.Context, driverID uuid.UUID) (domain.DriverStatus, error)

	// RegisterVehicle records the driver's vehicle so typed proximity
	// queries can filter by supported ride types.
	RegisterVehicle(ctx context.Context, vehicle *domain.Vehicle) error
	Vehicle(ctx context.Context, driverID uuid.UUID) (*domain.Vehicle, error)

	// LockDriver takes the exclusive matching lock (set-if-not-exists).
	// Returns ErrDriverBusy when already held. The TTL guarantees
	// liveness when a matching process dies while holding the lock.
	LockDriver(ctx context.Context, driverID uuid.UUID, ttl time.Duration) error
	UnlockDriver(ctx context.Context, driverID uuid.UUID) error
	ExtendDriverLock(ctx context.Context, driverID uuid.UUID, ttl time.Duration) error
	IsDriverLocked(ctx context.Context, driverID uuid.UUID) bool

	// RemoveDriver drops the driver from every index.
	RemoveDriver(ctx context.Context, driverID uuid.UUID) error

	// CountDriversInCell is the O(1) cell-bucket count used for surge.
	CountDriversInCell(ctx context.Context, cellID string) (int64, error)

	// TrackRequest / UntrackRequest maintain the per-cell pending demand
	// set feeding the surge computation.
	TrackRequest(ctx context.Context, cellID string, rideID uuid.UUID) error
	UntrackRequest(ctx context.Context, cellID string, rideID uuid.UUID) error
	CountPendingRequests(ctx context.Context, cellID string) (int64, error)

	// AcquireMatchingLock guards a ride against duplicate concurrent
	// dispatch triggers. Returns false when another instance holds it.
	AcquireMatchingLock(ctx context.Context, rideID uuid.UUID, ttl time.Duration) (bool, error)
	// ExtendMatchingLock pushes out the expiry of a held matching lock.
	ExtendMatchingLock(ctx context.Context, rideID uuid.UUID, ttl time.Duration) error
	ReleaseMatchingLock(ctx context.Context, rideID uuid.UUID) error

	// Ride cache: soft state reconstructable from the system of record.
	CacheRide(ctx context.Context, ride *domain.Ride) error
	CachedRide(ctx context.Context, rideID uuid.UUID) (*domain.Ride, error)
	InvalidateRide(ctx context.Context, rideID uuid.UUID) error

	Ping(ctx context.Context) error
}

// Default TTLs. Lock and location freshness are also enforced by explicit
// timestamp checks on read, not only by the store's native expiry.
const (
	LocationTTL       = 5 * time.Minute
	DriverStatusTTL   = 1 * time.Hour
	VehicleTTL        = 24 * time.Hour
	PendingRequestTTL = 10 * time.Minute
	RideCacheTTL      = 30 * time.Minute
	MatchingLockTTL   = 60 * time.Second
)
