package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/domain"
	"github.com/example/ride-dispatch/internal/geo"
)

const (
	driverLocationKey = "driver:location:"
	driverStatusKey   = "driver:status:"
	driverVehicleKey  = "driver:vehicle:"
	driverLockKey     = "driver:lock:"
	cellDriversKey    = "cell:drivers:"
	cellRequestsKey   = "cell:requests:"
	rideCacheKey      = "ride:cache:"
	rideMatchingKey   = "matching:ride:"
	driversGeoKey     = "drivers:geo"

	nearbyCandidateLimit = 50
)

// RedisPool implements Pool on Redis GEO commands, cell-bucket sets and
// SETNX locks.
type RedisPool struct {
	client *redis.Client
}

func NewRedisPool(client *redis.Client) *RedisPool {
	return &RedisPool{client: client}
}

// UpdateLocation writes the location JSON, the geo-index entry and the
// cell-bucket membership through one pipeline so the geo index and cell
// bucket never diverge.
func (p *RedisPool) UpdateLocation(ctx context.Context, loc *domain.DriverLocation) error {
	if !geo.ValidCoordinate(loc.Location.Latitude, loc.Location.Longitude) {
		return domain.ErrInvalidLocation
	}

	cell := geo.CellForLocation(&loc.Location)
	ts := loc.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	record := LocationRecord{
		DriverID:  loc.DriverID,
		Latitude:  loc.Location.Latitude,
		Longitude: loc.Location.Longitude,
		Heading:   loc.Heading,
		Speed:     loc.Speed,
		CellID:    cell,
		UpdatedAt: ts,
	}
	b, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal location: %w", err)
	}

	// Read the previous cell before the write so the pipeline can move
	// the bucket membership atomically with the location.
	prev, _ := p.DriverLocation(ctx, loc.DriverID)

	pipe := p.client.Pipeline()
	pipe.Set(ctx, driverLocationKey+loc.DriverID.String(), b, LocationTTL)
	pipe.GeoAdd(ctx, driversGeoKey, &redis.GeoLocation{
		Name:      loc.DriverID.String(),
		Latitude:  loc.Location.Latitude,
		Longitude: loc.Location.Longitude,
	})
	if prev != nil && prev.CellID != "" && prev.CellID != cell {
		pipe.SRem(ctx, cellDriversKey+prev.CellID, loc.DriverID.String())
	}
	pipe.SAdd(ctx, cellDriversKey+cell, loc.DriverID.String())
	pipe.Expire(ctx, cellDriversKey+cell, LocationTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update location: %w", err)
	}
	return nil
}

func (p *RedisPool) DriverLocation(ctx context.Context, driverID uuid.UUID) (*LocationRecord, error) {
	b, err := p.client.Get(ctx, driverLocationKey+driverID.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var rec LocationRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	// Explicit staleness check on top of the key TTL.
	if time.Since(rec.UpdatedAt) > LocationTTL {
		return nil, nil
	}
	return &rec, nil
}

func (p *RedisPool) NearbyDrivers(ctx context.Context, lat, lng, radiusM float64, rideType domain.RideType) ([]*domain.NearbyDriver, error) {
	if !geo.ValidCoordinate(lat, lng) {
		return nil, domain.ErrInvalidLocation
	}
	if radiusM <= 0 {
		radiusM = geo.DefaultSearchRadiusM
	}
	if radiusM > geo.MaxSearchRadiusM {
		radiusM = geo.MaxSearchRadiusM
	}

	results, err := p.client.GeoRadius(ctx, driversGeoKey, lng, lat, &redis.GeoRadiusQuery{
		Radius:    radiusM,
		Unit:      "m",
		WithCoord: true,
		WithDist:  true,
		Count:     nearbyCandidateLimit,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo search: %w", err)
	}

	drivers := make([]*domain.NearbyDriver, 0, len(results))
	for _, res := range results {
		driverID, err := uuid.Parse(res.Name)
		if err != nil {
			continue
		}

		rec, err := p.DriverLocation(ctx, driverID)
		if err != nil || rec == nil {
			continue // stale or missing
		}

		status, err := p.DriverStatus(ctx, driverID)
		if err != nil || status != domain.DriverStatusOnline {
			continue
		}

		if p.IsDriverLocked(ctx, driverID) {
			continue
		}

		vehicle, _ := p.Vehicle(ctx, driverID)
		if rideType != "" {
			if vehicle == nil || !supportsRideType(vehicle, rideType) {
				continue
			}
		}

		vt := domain.VehicleTypeCar
		if vehicle != nil {
			vt = vehicle.Type
		}

		d := &domain.Driver{
			ID:     driverID,
			Status: status,
			CurrentLocation: &domain.Location{
				Latitude:  res.Latitude,
				Longitude: res.Longitude,
				CellID:    rec.CellID,
			},
			CellID:         rec.CellID,
			LastLocationAt: &rec.UpdatedAt,
			Heading:        rec.Heading,
			Speed:          rec.Speed,
			Vehicle:        vehicle,
		}

		drivers = append(drivers, &domain.NearbyDriver{
			Driver:     d,
			DistanceM:  res.Dist,
			ETASeconds: geo.EstimateETA(res.Dist, vt),
			Bearing:    geo.Bearing(res.Latitude, res.Longitude, lat, lng),
		})
	}
	return drivers, nil
}

func (p *RedisPool) SetDriverStatus(ctx context.Context, driverID uuid.UUID, status domain.DriverStatus) error {
	if err := p.client.Set(ctx, driverStatusKey+driverID.String(), string(status), DriverStatusTTL).Err(); err != nil {
		return err
	}
	if status == domain.DriverStatusOffline {
		p.client.ZRem(ctx, driversGeoKey, driverID.String())
	}
	return nil
}

func (p *RedisPool) DriverStatus(ctx context.Context, driverID uuid.UUID) (domain.DriverStatus, error) {
	v, err := p.client.Get(ctx, driverStatusKey+driverID.String()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.DriverStatusOffline, nil
		}
		return "", err
	}
	return domain.DriverStatus(v), nil
}

func (p *RedisPool) RegisterVehicle(ctx context.Context, vehicle *domain.Vehicle) error {
	b, err := json.Marshal(vehicle)
	if err != nil {
		return err
	}
	return p.client.Set(ctx, driverVehicleKey+vehicle.DriverID.String(), b, VehicleTTL).Err()
}

func (p *RedisPool) Vehicle(ctx context.Context, driverID uuid.UUID) (*domain.Vehicle, error) {
	b, err := p.client.Get(ctx, driverVehicleKey+driverID.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var v domain.Vehicle
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// LockDriver takes the exclusive driver lock via SETNX. A crashed holder
// is covered by the TTL.
func (p *RedisPool) LockDriver(ctx context.Context, driverID uuid.UUID, ttl time.Duration) error {
	ok, err := p.client.SetNX(ctx, driverLockKey+driverID.String(), "1", ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrDriverBusy
	}
	return nil
}

func (p *RedisPool) UnlockDriver(ctx context.Context, driverID uuid.UUID) error {
	return p.client.Del(ctx, driverLockKey+driverID.String()).Err()
}

// ExtendDriverLock re-arms an already-held lock, used when an accepted
// offer turns the short matching lock into a ride-length hold.
func (p *RedisPool) ExtendDriverLock(ctx context.Context, driverID uuid.UUID, ttl time.Duration) error {
	return p.client.Set(ctx, driverLockKey+driverID.String(), "1", ttl).Err()
}

func (p *RedisPool) IsDriverLocked(ctx context.Context, driverID uuid.UUID) bool {
	n, _ := p.client.Exists(ctx, driverLockKey+driverID.String()).Result()
	return n > 0
}

func (p *RedisPool) RemoveDriver(ctx context.Context, driverID uuid.UUID) error {
	rec, _ := p.DriverLocation(ctx, driverID)

	pipe := p.client.Pipeline()
	pipe.Del(ctx, driverLocationKey+driverID.String())
	pipe.Del(ctx, driverStatusKey+driverID.String())
	pipe.Del(ctx, driverLockKey+driverID.String())
	pipe.ZRem(ctx, driversGeoKey, driverID.String())
	if rec != nil && rec.CellID != "" {
		pipe.SRem(ctx, cellDriversKey+rec.CellID, driverID.String())
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (p *RedisPool) CountDriversInCell(ctx context.Context, cellID string) (int64, error) {
	return p.client.SCard(ctx, cellDriversKey+cellID).Result()
}

func (p *RedisPool) TrackRequest(ctx context.Context, cellID string, rideID uuid.UUID) error {
	pipe := p.client.Pipeline()
	pipe.SAdd(ctx, cellRequestsKey+cellID, rideID.String())
	pipe.Expire(ctx, cellRequestsKey+cellID, PendingRequestTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *RedisPool) UntrackRequest(ctx context.Context, cellID string, rideID uuid.UUID) error {
	return p.client.SRem(ctx, cellRequestsKey+cellID, rideID.String()).Err()
}

func (p *RedisPool) CountPendingRequests(ctx context.Context, cellID string) (int64, error) {
	return p.client.SCard(ctx, cellRequestsKey+cellID).Result()
}

func (p *RedisPool) AcquireMatchingLock(ctx context.Context, rideID uuid.UUID, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = MatchingLockTTL
	}
	return p.client.SetNX(ctx, rideMatchingKey+rideID.String(), "1", ttl).Result()
}

// ExtendMatchingLock re-arms a held per-ride lock so a long search does
// not lose it mid-session. Plain SET, unlike the SetNX acquire.
func (p *RedisPool) ExtendMatchingLock(ctx context.Context, rideID uuid.UUID, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = MatchingLockTTL
	}
	return p.client.Set(ctx, rideMatchingKey+rideID.String(), "1", ttl).Err()
}

func (p *RedisPool) ReleaseMatchingLock(ctx context.Context, rideID uuid.UUID) error {
	return p.client.Del(ctx, rideMatchingKey+rideID.String()).Err()
}

func (p *RedisPool) CacheRide(ctx context.Context, ride *domain.Ride) error {
	b, err := json.Marshal(ride)
	if err != nil {
		return err
	}
	return p.client.Set(ctx, rideCacheKey+ride.ID.String(), b, RideCacheTTL).Err()
}

func (p *RedisPool) CachedRide(ctx context.Context, rideID uuid.UUID) (*domain.Ride, error) {
	b, err := p.client.Get(ctx, rideCacheKey+rideID.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var ride domain.Ride
	if err := json.Unmarshal(b, &ride); err != nil {
		return nil, err
	}
	return &ride, nil
}

func (p *RedisPool) InvalidateRide(ctx context.Context, rideID uuid.UUID) error {
	return p.client.Del(ctx, rideCacheKey+rideID.String()).Err()
}

func (p *RedisPool) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func supportsRideType(v *domain.Vehicle, rt domain.RideType) bool {
	for _, t := range v.SupportedRideTypes {
		if t == rt {
			return true
		}
	}
	return false
}
