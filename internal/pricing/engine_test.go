package pricing

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/domain"
)

const testCell = "8928308280fffff"

func newTestEngine() (*Engine, *MemorySurgeStore) {
	store := NewMemorySurgeStore()
	return NewEngine(store), store
}

func TestCalculatePriceStandardNGN(t *testing.T) {
	eng, _ := newTestEngine()

	// 5 km, 15 min, no surge
	price, err := eng.CalculatePrice(context.Background(), domain.RideTypeStandard, 5000, 900, domain.CurrencyNGN, "", 0)
	if err != nil {
		t.Fatal(err)
	}

	if price.BaseFare != 30000 {
		t.Errorf("base fare = %d, want 30000", price.BaseFare)
	}
	if price.DistanceFare != 75000 {
		t.Errorf("distance fare = %d, want 75000", price.DistanceFare)
	}
	if price.TimeFare != 30000 {
		t.Errorf("time fare = %d, want 30000", price.TimeFare)
	}
	if price.SurgeMultiplier != 1.0 || price.SurgeAmount != 0 {
		t.Errorf("unexpected surge: mult=%v amount=%d", price.SurgeMultiplier, price.SurgeAmount)
	}
	if price.Total != 145000 {
		t.Errorf("total = %d, want 145000", price.Total)
	}
	if price.Currency != domain.CurrencyNGN {
		t.Errorf("currency = %s, want NGN", price.Currency)
	}
}

func TestEarningsPlusFeeEqualsTotal(t *testing.T) {
	eng, _ := newTestEngine()
	for _, rt := range domain.AllRideTypes() {
		price, err := eng.CalculatePrice(context.Background(), rt, 12345, 1800, domain.CurrencyKES, "", 0)
		if err != nil {
			t.Fatal(err)
		}
		if price.DriverEarnings+price.PlatformFee != price.Total {
			t.Errorf("%s: earnings %d + fee %d != total %d", rt, price.DriverEarnings, price.PlatformFee, price.Total)
		}
	}
}

func TestMinFareClamp(t *testing.T) {
	eng, _ := newTestEngine()

	// a 100m hop prices below the NGN minimum of 50000
	price, err := eng.CalculatePrice(context.Background(), domain.RideTypeStandard, 100, 60, domain.CurrencyNGN, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if price.Total != 50000 {
		t.Errorf("total = %d, want min fare 50000", price.Total)
	}
}

func TestPromoDiscountNeverNegative(t *testing.T) {
	eng, _ := newTestEngine()
	price, err := eng.CalculatePrice(context.Background(), domain.RideTypeStandard, 100, 60, domain.CurrencyNGN, "", 10_000_000)
	if err != nil {
		t.Fatal(err)
	}
	// discount floors at zero, then the min fare applies
	if price.Total != 50000 {
		t.Errorf("total = %d, want 50000", price.Total)
	}
}

func TestUnknownCurrencyFallsBackToNGN(t *testing.T) {
	eng, _ := newTestEngine()
	price, err := eng.CalculatePrice(context.Background(), domain.RideTypeStandard, 5000, 900, domain.Currency("XXX"), "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if price.Currency != domain.CurrencyNGN {
		t.Errorf("currency = %s, want NGN fallback", price.Currency)
	}
	if price.Total != 145000 {
		t.Errorf("total = %d, want NGN-table 145000", price.Total)
	}
}

func TestSurgeAppliedToSubtotal(t *testing.T) {
	eng, store := newTestEngine()
	_ = store.SetSurgeData(context.Background(), &SurgeData{
		CellID: testCell, Multiplier: 2.0, UpdatedAt: time.Now().UTC(),
	})

	price, err := eng.CalculatePrice(context.Background(), domain.RideTypeStandard, 5000, 900, domain.CurrencyNGN, testCell, 0)
	if err != nil {
		t.Fatal(err)
	}
	// subtotal 135000 doubled, plus booking fee
	if price.SurgeAmount != 135000 {
		t.Errorf("surge amount = %d, want 135000", price.SurgeAmount)
	}
	if price.Total != 280000 {
		t.Errorf("total = %d, want 280000", price.Total)
	}
}

func TestStaleSurgeReadsAsOne(t *testing.T) {
	eng, store := newTestEngine()
	_ = store.SetSurgeData(context.Background(), &SurgeData{
		CellID: testCell, Multiplier: 2.5, UpdatedAt: time.Now().Add(-10 * time.Minute),
	})
	if got := eng.GetSurgeMultiplier(context.Background(), testCell); got != 1.0 {
		t.Fatalf("stale surge multiplier = %v, want 1.0", got)
	}
}

func TestMissingSurgeReadsAsOne(t *testing.T) {
	eng, _ := newTestEngine()
	if got := eng.GetSurgeMultiplier(context.Background(), "nonexistent"); got != 1.0 {
		t.Fatalf("multiplier = %v, want 1.0", got)
	}
	if got := eng.GetSurgeMultiplier(context.Background(), ""); got != 1.0 {
		t.Fatalf("empty cell multiplier = %v, want 1.0", got)
	}
}

func TestUpdateSurgeBounds(t *testing.T) {
	eng, _ := newTestEngine()

	// plentiful supply, no demand pressure
	if got := eng.UpdateSurge(context.Background(), "cell-a", 10, 5); got != 1.0 {
		t.Errorf("balanced cell multiplier = %v, want 1.0", got)
	}

	// zero drivers and heavy demand: punitive ratio, still clamped
	got := eng.UpdateSurge(context.Background(), "cell-b", 0, 50)
	if got > 3.0 {
		t.Errorf("multiplier %v exceeds cap 3.0", got)
	}
	if got < 1.0 {
		t.Errorf("multiplier %v below floor 1.0", got)
	}
}

func TestUpdateSurgeRateLimited(t *testing.T) {
	eng, store := newTestEngine()
	ctx := context.Background()

	_ = store.SetSurgeData(ctx, &SurgeData{CellID: testCell, Multiplier: 1.0, UpdatedAt: time.Now().UTC()})

	// demand spike that would jump straight to 3.0 only moves 0.3 per update
	got := eng.UpdateSurge(ctx, testCell, 0, 100)
	if math.Abs(got-1.3) > 1e-9 {
		t.Fatalf("first update = %v, want 1.3", got)
	}
	got = eng.UpdateSurge(ctx, testCell, 0, 100)
	if math.Abs(got-1.6) > 1e-9 {
		t.Fatalf("second update = %v, want 1.6", got)
	}
}

func TestScarcityTerm(t *testing.T) {
	eng, _ := newTestEngine()
	// 1 driver, 1 pending: below the demand threshold, scarcity term only
	got := eng.UpdateSurge(context.Background(), "cell-scarce", 1, 1)
	if math.Abs(got-1.2) > 1e-9 {
		t.Fatalf("multiplier = %v, want 1.2 from scarcity", got)
	}
}

func TestGetPriceEstimateCoversAllTypes(t *testing.T) {
	eng, _ := newTestEngine()
	estimates, err := eng.GetPriceEstimate(context.Background(), 5000, 900, domain.CurrencyNGN, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(estimates) != len(domain.AllRideTypes()) {
		t.Fatalf("got %d estimates, want %d", len(estimates), len(domain.AllRideTypes()))
	}
	if estimates[domain.RideTypePremium].Total <= estimates[domain.RideTypeBoda].Total {
		t.Error("premium should price above boda")
	}
}
