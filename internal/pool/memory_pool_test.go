package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/domain"
)

func onlineDriver(t *testing.T, p *MemoryPool, lat, lng float64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	ctx := context.Background()
	if err := p.UpdateLocation(ctx, &domain.DriverLocation{
		DriverID: id,
		Location: domain.Location{Latitude: lat, Longitude: lng},
	}); err != nil {
		t.Fatal(err)
	}
	if err := p.SetDriverStatus(ctx, id, domain.DriverStatusOnline); err != nil {
		t.Fatal(err)
	}
	return id
}

func TestUpdateLocationRejectsBadCoordinates(t *testing.T) {
	p := NewMemoryPool()
	err := p.UpdateLocation(context.Background(), &domain.DriverLocation{
		DriverID: uuid.New(),
		Location: domain.Location{Latitude: 91, Longitude: 0},
	})
	if !errors.Is(err, domain.ErrInvalidLocation) {
		t.Fatalf("expected ErrInvalidLocation, got %v", err)
	}
}

func TestDriverLocationStalenessIsAbsence(t *testing.T) {
	p := NewMemoryPool()
	ctx := context.Background()
	id := uuid.New()

	if err := p.UpdateLocation(ctx, &domain.DriverLocation{
		DriverID:  id,
		Location:  domain.Location{Latitude: 6.5, Longitude: 3.37},
		Timestamp: time.Now().Add(-10 * time.Minute),
	}); err != nil {
		t.Fatal(err)
	}

	rec, err := p.DriverLocation(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Fatal("stale record should read as absent")
	}
}

func TestNearbyDriversSortedAscending(t *testing.T) {
	p := NewMemoryPool()
	ctx := context.Background()

	far := onlineDriver(t, p, 6.55, 3.37)
	near := onlineDriver(t, p, 6.501, 3.37)
	mid := onlineDriver(t, p, 6.52, 3.37)

	drivers, err := p.NearbyDrivers(ctx, 6.5, 3.37, 10000, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(drivers) != 3 {
		t.Fatalf("got %d drivers, want 3", len(drivers))
	}
	order := []uuid.UUID{drivers[0].Driver.ID, drivers[1].Driver.ID, drivers[2].Driver.ID}
	want := []uuid.UUID{near, mid, far}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("position %d = %s, want %s", i, order[i], want[i])
		}
	}
	for i := 1; i < len(drivers); i++ {
		if drivers[i].DistanceM < drivers[i-1].DistanceM {
			t.Fatal("distances not ascending")
		}
	}
}

func TestNearbyDriversFiltering(t *testing.T) {
	p := NewMemoryPool()
	ctx := context.Background()

	available := onlineDriver(t, p, 6.501, 3.37)

	offline := onlineDriver(t, p, 6.502, 3.37)
	_ = p.SetDriverStatus(ctx, offline, domain.DriverStatusOffline)

	onRide := onlineDriver(t, p, 6.503, 3.37)
	_ = p.SetDriverStatus(ctx, onRide, domain.DriverStatusOnRide)

	locked := onlineDriver(t, p, 6.504, 3.37)
	if err := p.LockDriver(ctx, locked, time.Minute); err != nil {
		t.Fatal(err)
	}

	stale := uuid.New()
	_ = p.UpdateLocation(ctx, &domain.DriverLocation{
		DriverID:  stale,
		Location:  domain.Location{Latitude: 6.505, Longitude: 3.37},
		Timestamp: time.Now().Add(-LocationTTL - time.Minute),
	})
	_ = p.SetDriverStatus(ctx, stale, domain.DriverStatusOnline)

	drivers, err := p.NearbyDrivers(ctx, 6.5, 3.37, 10000, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(drivers) != 1 || drivers[0].Driver.ID != available {
		t.Fatalf("expected only the available driver, got %d", len(drivers))
	}
}

func TestNearbyDriversRideTypeFilter(t *testing.T) {
	p := NewMemoryPool()
	ctx := context.Background()

	car := onlineDriver(t, p, 6.501, 3.37)
	_ = p.RegisterVehicle(ctx, &domain.Vehicle{
		ID: uuid.New(), DriverID: car, Type: domain.VehicleTypeCar,
		SupportedRideTypes: []domain.RideType{domain.RideTypeStandard},
	})

	bike := onlineDriver(t, p, 6.502, 3.37)
	_ = p.RegisterVehicle(ctx, &domain.Vehicle{
		ID: uuid.New(), DriverID: bike, Type: domain.VehicleTypeBike,
		SupportedRideTypes: []domain.RideType{domain.RideTypeBoda},
	})

	// a driver without a registered vehicle is excluded from typed queries
	onlineDriver(t, p, 6.503, 3.37)

	drivers, err := p.NearbyDrivers(ctx, 6.5, 3.37, 10000, domain.RideTypeBoda)
	if err != nil {
		t.Fatal(err)
	}
	if len(drivers) != 1 || drivers[0].Driver.ID != bike {
		t.Fatalf("expected only the boda driver, got %d", len(drivers))
	}
}

func TestLockDriverExclusive(t *testing.T) {
	p := NewMemoryPool()
	ctx := context.Background()
	id := uuid.New()

	if err := p.LockDriver(ctx, id, time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := p.LockDriver(ctx, id, time.Minute); !errors.Is(err, domain.ErrDriverBusy) {
		t.Fatalf("expected ErrDriverBusy, got %v", err)
	}
	if !p.IsDriverLocked(ctx, id) {
		t.Fatal("driver should report locked")
	}

	if err := p.UnlockDriver(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := p.LockDriver(ctx, id, time.Minute); err != nil {
		t.Fatalf("relock after unlock: %v", err)
	}
}

func TestExpiredLockIsNotHeld(t *testing.T) {
	p := NewMemoryPool()
	ctx := context.Background()
	id := uuid.New()

	if err := p.LockDriver(ctx, id, -time.Second); err != nil {
		t.Fatal(err)
	}
	if p.IsDriverLocked(ctx, id) {
		t.Fatal("expired lock should not be held")
	}
	if err := p.LockDriver(ctx, id, time.Minute); err != nil {
		t.Fatalf("lock over expired lock: %v", err)
	}
}

func TestCellCounts(t *testing.T) {
	p := NewMemoryPool()
	ctx := context.Background()

	a := onlineDriver(t, p, 6.5244, 3.3792)
	onlineDriver(t, p, 6.5245, 3.3793) // same cell at resolution 9

	rec, err := p.DriverLocation(ctx, a)
	if err != nil || rec == nil {
		t.Fatalf("location read: rec=%v err=%v", rec, err)
	}
	n, err := p.CountDriversInCell(ctx, rec.CellID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("cell count = %d, want 2", n)
	}

	rideID := uuid.New()
	if err := p.TrackRequest(ctx, rec.CellID, rideID); err != nil {
		t.Fatal(err)
	}
	if n, _ := p.CountPendingRequests(ctx, rec.CellID); n != 1 {
		t.Fatalf("pending count = %d, want 1", n)
	}
	if err := p.UntrackRequest(ctx, rec.CellID, rideID); err != nil {
		t.Fatal(err)
	}
	if n, _ := p.CountPendingRequests(ctx, rec.CellID); n != 0 {
		t.Fatalf("pending count after untrack = %d, want 0", n)
	}
}

func TestMatchingLock(t *testing.T) {
	p := NewMemoryPool()
	ctx := context.Background()
	rideID := uuid.New()

	ok, err := p.AcquireMatchingLock(ctx, rideID, time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = p.AcquireMatchingLock(ctx, rideID, time.Minute)
	if err != nil || ok {
		t.Fatalf("second acquire should fail: ok=%v err=%v", ok, err)
	}
	if err := p.ReleaseMatchingLock(ctx, rideID); err != nil {
		t.Fatal(err)
	}
	ok, _ = p.AcquireMatchingLock(ctx, rideID, time.Minute)
	if !ok {
		t.Fatal("acquire after release should succeed")
	}
}

func TestRideCacheRoundTrip(t *testing.T) {
	p := NewMemoryPool()
	ctx := context.Background()

	ride := domain.NewRide(&domain.RideRequest{
		RiderID: uuid.New(),
		Pickup:  domain.Location{Latitude: 6.5, Longitude: 3.37},
		Dropoff: domain.Location{Latitude: 6.42, Longitude: 3.42},
		Type:    domain.RideTypeStandard,
	})
	if err := p.CacheRide(ctx, ride); err != nil {
		t.Fatal(err)
	}
	got, err := p.CachedRide(ctx, ride.ID)
	if err != nil || got == nil {
		t.Fatalf("cached ride: got=%v err=%v", got, err)
	}
	if got.ID != ride.ID || got.Status != domain.RideStatusPending {
		t.Fatalf("cache mismatch: %+v", got)
	}

	if err := p.InvalidateRide(ctx, ride.ID); err != nil {
		t.Fatal(err)
	}
	if got, _ := p.CachedRide(ctx, ride.ID); got != nil {
		t.Fatal("invalidated ride should be absent")
	}
}

func TestRemoveDriver(t *testing.T) {
	p := NewMemoryPool()
	ctx := context.Background()

	id := onlineDriver(t, p, 6.5, 3.37)
	rec, _ := p.DriverLocation(ctx, id)
	if rec == nil {
		t.Fatal("expected a location")
	}
	if err := p.RemoveDriver(ctx, id); err != nil {
		t.Fatal(err)
	}
	if rec, _ := p.DriverLocation(ctx, id); rec != nil {
		t.Fatal("removed driver still has a location")
	}
	if n, _ := p.CountDriversInCell(ctx, rec.CellID); n != 0 {
		t.Fatalf("cell count = %d after removal, want 0", n)
	}
}

func TestExtendMatchingLockPushesExpiry(t *testing.T) {
	p := NewMemoryPool()
	ctx := context.Background()
	rideID := uuid.New()

	ok, err := p.AcquireMatchingLock(ctx, rideID, 20*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	if err := p.ExtendMatchingLock(ctx, rideID, time.Minute); err != nil {
		t.Fatal(err)
	}

	time.Sleep(30 * time.Millisecond)

	ok, _ = p.AcquireMatchingLock(ctx, rideID, time.Minute)
	if ok {
		t.Fatal("extended lock expired at its original deadline")
	}
}
