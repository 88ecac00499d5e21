package matching

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/domain"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/pool"
	"github.com/example/ride-dispatch/internal/storage"
)

type fakeSender struct {
	mu     sync.Mutex
	offers []*domain.DriverOffer
	ch     chan *domain.DriverOffer
	fail   bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{ch: make(chan *domain.DriverOffer, 16)}
}

func (f *fakeSender) SendOffer(_ context.Context, _ uuid.UUID, offer *domain.DriverOffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("delivery failed")
	}
	f.offers = append(f.offers, offer)
	f.ch <- offer
	return nil
}

func (f *fakeSender) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.offers)
}

func testConfig() Config {
	return Config{
		OfferTTL:       time.Second,
		MaxSweeps:      1,
		SweepBackoff:   10 * time.Millisecond,
		BackoffJitter:  0,
		InitialRadiusM: 5000,
		MaxRadiusM:     10000,
		RadiusStepM:    5000,
		RideLockTTL:    time.Hour,
	}
}

type fixture struct {
	pool   *pool.MemoryPool
	store  *storage.MemoryStore
	sender *fakeSender
	coord  *Coordinator
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	p := pool.NewMemoryPool()
	store := storage.NewMemoryStore()
	sender := newFakeSender()
	logger := logging.NewLogger("error")
	return &fixture{
		pool:   p,
		store:  store,
		sender: sender,
		coord:  NewCoordinator(p, store, sender, nil, cfg, logger),
	}
}

func (f *fixture) addDriver(t *testing.T, lat, lng float64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := uuid.New()
	if err := f.pool.UpdateLocation(ctx, &domain.DriverLocation{
		DriverID: id,
		Location: domain.Location{Latitude: lat, Longitude: lng},
	}); err != nil {
		t.Fatal(err)
	}
	if err := f.pool.SetDriverStatus(ctx, id, domain.DriverStatusOnline); err != nil {
		t.Fatal(err)
	}
	if err := f.pool.RegisterVehicle(ctx, &domain.Vehicle{
		ID: uuid.New(), DriverID: id, Type: domain.VehicleTypeCar,
		SupportedRideTypes: []domain.RideType{domain.RideTypeStandard},
	}); err != nil {
		t.Fatal(err)
	}
	return id
}

func (f *fixture) searchingRide(t *testing.T) *domain.Ride {
	t.Helper()
	ctx := context.Background()
	ride := domain.NewRide(&domain.RideRequest{
		RiderID: uuid.New(),
		Pickup:  domain.Location{Latitude: 6.5, Longitude: 3.37},
		Dropoff: domain.Location{Latitude: 6.42, Longitude: 3.42},
		Type:    domain.RideTypeStandard,
	})
	if err := f.store.SaveRide(ctx, ride); err != nil {
		t.Fatal(err)
	}
	if err := ride.Transition(domain.RideStatusSearching); err != nil {
		t.Fatal(err)
	}
	if err := f.store.UpdateRide(ctx, ride); err != nil {
		t.Fatal(err)
	}
	return ride
}

func waitOffer(t *testing.T, f *fixture) *domain.DriverOffer {
	t.Helper()
	select {
	case o := <-f.sender.ch:
		return o
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for an offer")
		return nil
	}
}

func TestAcceptFlow(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	driverID := f.addDriver(t, 6.501, 3.37)
	ride := f.searchingRide(t)

	if err := f.coord.StartMatching(ctx, ride); err != nil {
		t.Fatal(err)
	}

	offer := waitOffer(t, f)
	if offer.DriverID != driverID {
		t.Fatalf("offer went to %s, want %s", offer.DriverID, driverID)
	}

	accepted, err := f.coord.AcceptOffer(ctx, ride.ID, driverID)
	if err != nil {
		t.Fatal(err)
	}
	if accepted.Status != domain.RideStatusAccepted {
		t.Fatalf("status = %s, want ACCEPTED", accepted.Status)
	}
	if accepted.DriverID == nil || *accepted.DriverID != driverID {
		t.Fatal("driver not bound to ride")
	}

	f.coord.Wait()

	if st, _ := f.pool.DriverStatus(ctx, driverID); st != domain.DriverStatusOnRide {
		t.Fatalf("driver status = %s, want ON_RIDE", st)
	}
	// the lock must stay held for the ride duration
	if !f.pool.IsDriverLocked(ctx, driverID) {
		t.Fatal("driver lock released on accept")
	}

	stored, err := f.store.GetRide(ctx, ride.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.RideStatusAccepted {
		t.Fatalf("persisted status = %s, want ACCEPTED", stored.Status)
	}
}

func TestLockedDriverSkipped(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	near := f.addDriver(t, 6.501, 3.37)
	far := f.addDriver(t, 6.52, 3.37)

	// the nearer driver already holds an offer for another ride
	if err := f.pool.LockDriver(ctx, near, time.Minute); err != nil {
		t.Fatal(err)
	}

	ride := f.searchingRide(t)
	if err := f.coord.StartMatching(ctx, ride); err != nil {
		t.Fatal(err)
	}

	offer := waitOffer(t, f)
	if offer.DriverID != far {
		t.Fatalf("offer went to %s, want the unlocked driver %s", offer.DriverID, far)
	}
	if _, err := f.coord.AcceptOffer(ctx, ride.ID, far); err != nil {
		t.Fatal(err)
	}
	f.coord.Wait()
}

func TestDeclineAdvancesToNextCandidate(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	near := f.addDriver(t, 6.501, 3.37)
	far := f.addDriver(t, 6.52, 3.37)

	ride := f.searchingRide(t)
	if err := f.coord.StartMatching(ctx, ride); err != nil {
		t.Fatal(err)
	}

	first := waitOffer(t, f)
	if first.DriverID != near {
		t.Fatalf("first offer went to %s, want %s", first.DriverID, near)
	}
	if err := f.coord.DeclineOffer(ctx, ride.ID, near); err != nil {
		t.Fatal(err)
	}

	second := waitOffer(t, f)
	if second.DriverID != far {
		t.Fatalf("second offer went to %s, want %s", second.DriverID, far)
	}

	if _, err := f.coord.AcceptOffer(ctx, ride.ID, far); err != nil {
		t.Fatal(err)
	}
	f.coord.Wait()

	// the declining driver must be free for other rides again
	if f.pool.IsDriverLocked(ctx, near) {
		t.Fatal("declined driver still locked")
	}
}

func TestExhaustionCancelsRide(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	ride := f.searchingRide(t)
	if err := f.coord.StartMatching(ctx, ride); err != nil {
		t.Fatal(err)
	}
	f.coord.Wait()

	stored, err := f.store.GetRide(ctx, ride.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.RideStatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", stored.Status)
	}
	if stored.CancellationReason != domain.CancelReasonNoDrivers {
		t.Fatalf("reason = %q, want %q", stored.CancellationReason, domain.CancelReasonNoDrivers)
	}
}

func TestOfferExpiryMovesOn(t *testing.T) {
	cfg := testConfig()
	cfg.OfferTTL = 50 * time.Millisecond
	f := newFixture(t, cfg)
	ctx := context.Background()

	driverID := f.addDriver(t, 6.501, 3.37)
	ride := f.searchingRide(t)

	if err := f.coord.StartMatching(ctx, ride); err != nil {
		t.Fatal(err)
	}

	waitOffer(t, f)
	// the driver never responds; with no other candidates the ride cancels
	f.coord.Wait()

	stored, _ := f.store.GetRide(ctx, ride.ID)
	if stored.Status != domain.RideStatusCancelled {
		t.Fatalf("status = %s, want CANCELLED after expiry", stored.Status)
	}
	if f.pool.IsDriverLocked(ctx, driverID) {
		t.Fatal("driver still locked after offer expired")
	}
}

func TestAcceptAfterExpiryFails(t *testing.T) {
	cfg := testConfig()
	cfg.OfferTTL = 50 * time.Millisecond
	cfg.MaxSweeps = 0
	f := newFixture(t, cfg)
	ctx := context.Background()

	driverID := f.addDriver(t, 6.501, 3.37)
	ride := f.searchingRide(t)

	if err := f.coord.StartMatching(ctx, ride); err != nil {
		t.Fatal(err)
	}
	waitOffer(t, f)
	f.coord.Wait()

	if _, err := f.coord.AcceptOffer(ctx, ride.ID, driverID); !errors.Is(err, domain.ErrOfferNotFound) {
		t.Fatalf("expected ErrOfferNotFound, got %v", err)
	}
}

func TestAcceptWrongDriverFails(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	driverID := f.addDriver(t, 6.501, 3.37)
	ride := f.searchingRide(t)

	if err := f.coord.StartMatching(ctx, ride); err != nil {
		t.Fatal(err)
	}
	waitOffer(t, f)

	if _, err := f.coord.AcceptOffer(ctx, ride.ID, uuid.New()); !errors.Is(err, domain.ErrOfferNotFound) {
		t.Fatalf("expected ErrOfferNotFound for wrong driver, got %v", err)
	}

	// the real driver can still accept
	if _, err := f.coord.AcceptOffer(ctx, ride.ID, driverID); err != nil {
		t.Fatal(err)
	}
	f.coord.Wait()
}

func TestStartMatchingIsExclusivePerRide(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	f.addDriver(t, 6.501, 3.37)
	ride := f.searchingRide(t)

	if err := f.coord.StartMatching(ctx, ride); err != nil {
		t.Fatal(err)
	}
	if err := f.coord.StartMatching(ctx, ride); !errors.Is(err, domain.ErrMatchingInProgress) {
		t.Fatalf("expected ErrMatchingInProgress, got %v", err)
	}

	offer := waitOffer(t, f)
	if _, err := f.coord.AcceptOffer(ctx, ride.ID, offer.DriverID); err != nil {
		t.Fatal(err)
	}
	f.coord.Wait()
}

func TestCancelMatchingReleasesDriver(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	driverID := f.addDriver(t, 6.501, 3.37)
	ride := f.searchingRide(t)

	if err := f.coord.StartMatching(ctx, ride); err != nil {
		t.Fatal(err)
	}
	waitOffer(t, f)

	f.coord.CancelMatching(ctx, ride.ID)
	f.coord.Wait()

	if f.pool.IsDriverLocked(ctx, driverID) {
		t.Fatal("driver still locked after matching cancelled")
	}

	// the matching lock is free for a fresh session
	ok, err := f.pool.AcquireMatchingLock(ctx, ride.ID, time.Minute)
	if err != nil || !ok {
		t.Fatalf("matching lock not released: ok=%v err=%v", ok, err)
	}
}

func TestSessionSurvivesCallerCancel(t *testing.T) {
	f := newFixture(t, testConfig())

	driverID := f.addDriver(t, 6.501, 3.37)
	ride := f.searchingRide(t)

	callerCtx, cancel := context.WithCancel(context.Background())
	if err := f.coord.StartMatching(callerCtx, ride); err != nil {
		t.Fatal(err)
	}
	cancel()

	offer := waitOffer(t, f)
	if offer.DriverID != driverID {
		t.Fatalf("offer went to %s, want %s", offer.DriverID, driverID)
	}

	// well inside the offer window but long after the caller went away
	time.Sleep(100 * time.Millisecond)

	accepted, err := f.coord.AcceptOffer(context.Background(), ride.ID, driverID)
	if err != nil {
		t.Fatalf("accept after caller cancel: %v", err)
	}
	if accepted.Status != domain.RideStatusAccepted {
		t.Fatalf("status = %s, want ACCEPTED", accepted.Status)
	}
	f.coord.Wait()

	stored, err := f.store.GetRide(context.Background(), ride.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.RideStatusAccepted {
		t.Fatalf("persisted status = %s, want ACCEPTED", stored.Status)
	}
}
