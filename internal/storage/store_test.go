package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/domain"
)

func newRide(t *testing.T, riderID uuid.UUID) *domain.Ride {
	t.Helper()
	return domain.NewRide(&domain.RideRequest{
		RiderID:       riderID,
		Pickup:        domain.Location{Latitude: 6.5, Longitude: 3.37},
		Dropoff:       domain.Location{Latitude: 6.42, Longitude: 3.42},
		Type:          domain.RideTypeStandard,
		PaymentMethod: domain.PaymentMethodCash,
		Currency:      domain.CurrencyNGN,
	})
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ride := newRide(t, uuid.New())

	if err := s.SaveRide(ctx, ride); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetRide(ctx, ride.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RiderID != ride.RiderID || got.Status != domain.RideStatusPending {
		t.Fatalf("got %+v", got)
	}

	// stored rides are copies, not aliases
	got.Status = domain.RideStatusCancelled
	again, err := s.GetRide(ctx, ride.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != domain.RideStatusPending {
		t.Fatal("mutation of a returned ride leaked into the store")
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.GetRide(context.Background(), uuid.New()); !errors.Is(err, domain.ErrRideNotFound) {
		t.Fatalf("expected ErrRideNotFound, got %v", err)
	}
}

func TestMemoryStoreUpdateMissing(t *testing.T) {
	s := NewMemoryStore()
	ride := newRide(t, uuid.New())
	if err := s.UpdateRide(context.Background(), ride); !errors.Is(err, domain.ErrRideNotFound) {
		t.Fatalf("expected ErrRideNotFound, got %v", err)
	}
}

func TestActiveRideLookups(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rider := uuid.New()
	driver := uuid.New()

	ride := newRide(t, rider)
	if err := s.SaveRide(ctx, ride); err != nil {
		t.Fatal(err)
	}

	active, err := s.GetActiveRideByRider(ctx, rider)
	if err != nil {
		t.Fatal(err)
	}
	if active == nil || active.ID != ride.ID {
		t.Fatalf("active = %v", active)
	}

	// no driver assigned yet
	byDriver, err := s.GetActiveRideByDriver(ctx, driver)
	if err != nil {
		t.Fatal(err)
	}
	if byDriver != nil {
		t.Fatalf("unexpected active ride for driver: %v", byDriver)
	}

	if err := ride.Transition(domain.RideStatusSearching); err != nil {
		t.Fatal(err)
	}
	if err := ride.AssignDriver(driver, uuid.New()); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateRide(ctx, ride); err != nil {
		t.Fatal(err)
	}

	byDriver, err = s.GetActiveRideByDriver(ctx, driver)
	if err != nil {
		t.Fatal(err)
	}
	if byDriver == nil || byDriver.ID != ride.ID {
		t.Fatalf("byDriver = %v", byDriver)
	}

	// terminal rides are not active
	if err := ride.Cancel(rider, "changed plans"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateRide(ctx, ride); err != nil {
		t.Fatal(err)
	}
	active, err = s.GetActiveRideByRider(ctx, rider)
	if err != nil {
		t.Fatal(err)
	}
	if active != nil {
		t.Fatalf("cancelled ride still reported active: %v", active)
	}
}

func TestListRidesByRider(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rider := uuid.New()

	var cancelPrev *domain.Ride
	for i := 0; i < 3; i++ {
		if cancelPrev != nil {
			if err := cancelPrev.Cancel(rider, "rebooked"); err != nil {
				t.Fatal(err)
			}
			if err := s.UpdateRide(ctx, cancelPrev); err != nil {
				t.Fatal(err)
			}
		}
		r := newRide(t, rider)
		if err := s.SaveRide(ctx, r); err != nil {
			t.Fatal(err)
		}
		cancelPrev = r
	}
	if err := s.SaveRide(ctx, newRide(t, uuid.New())); err != nil {
		t.Fatal(err)
	}

	rides, err := s.ListRidesByRider(ctx, rider, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rides) != 3 {
		t.Fatalf("got %d rides, want 3", len(rides))
	}

	rides, err = s.ListRidesByRider(ctx, rider, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(rides) != 2 {
		t.Fatalf("limit ignored: got %d rides", len(rides))
	}
}
