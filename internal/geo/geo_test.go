package geo

import (
	"math"
	"testing"

	"github.com/example/ride-dispatch/internal/domain"
)

func TestHaversineKnownDistance(t *testing.T) {
	// Lagos Island to Ikeja, roughly 16.8 km
	d := Haversine(6.4541, 3.3947, 6.6018, 3.3515)
	if d < 16000 || d > 18000 {
		t.Fatalf("distance = %.0fm, want ~16800m", d)
	}
}

func TestHaversineZero(t *testing.T) {
	if d := Haversine(6.5, 3.37, 6.5, 3.37); d != 0 {
		t.Fatalf("identical points distance = %v, want 0", d)
	}
}

func TestBearingCardinal(t *testing.T) {
	north := Bearing(0, 0, 1, 0)
	if math.Abs(north-0) > 0.5 {
		t.Errorf("northward bearing = %v, want ~0", north)
	}
	east := Bearing(0, 0, 0, 1)
	if math.Abs(east-90) > 0.5 {
		t.Errorf("eastward bearing = %v, want ~90", east)
	}
}

func TestValidCoordinate(t *testing.T) {
	cases := []struct {
		lat, lng float64
		valid    bool
	}{
		{6.5, 3.37, true},
		{-90, 180, true},
		{90.1, 0, false},
		{0, -180.1, false},
		{-91, 0, false},
	}
	for _, c := range cases {
		if got := ValidCoordinate(c.lat, c.lng); got != c.valid {
			t.Errorf("ValidCoordinate(%v, %v) = %v, want %v", c.lat, c.lng, got, c.valid)
		}
	}
}

func TestCellIDStableAndLocal(t *testing.T) {
	a := CellID(6.5244, 3.3792)
	b := CellID(6.5244, 3.3792)
	if a == "" || a != b {
		t.Fatalf("cell id not stable: %q vs %q", a, b)
	}
	// a point ~20km away lands in a different cell
	far := CellID(6.7, 3.37)
	if a == far {
		t.Fatal("distant points share a cell")
	}
}

func TestCellForLocationKeepsExisting(t *testing.T) {
	loc := &domain.Location{Latitude: 6.5, Longitude: 3.37, CellID: "preset"}
	if got := CellForLocation(loc); got != "preset" {
		t.Fatalf("got %q, want the preset cell", got)
	}
}

func TestEstimateETA(t *testing.T) {
	// 3600m by car at 10 m/s with the 1.2 buffer is 432s
	if got := EstimateETA(3600, domain.VehicleTypeCar); got != 432 {
		t.Errorf("car eta = %d, want 432", got)
	}
	if got := EstimateETA(3600, domain.VehicleTypeBike); got != 540 {
		t.Errorf("bike eta = %d, want 540", got)
	}
	// short hops floor at 60s
	if got := EstimateETA(10, domain.VehicleTypeCar); got != 60 {
		t.Errorf("short hop eta = %d, want 60", got)
	}
	// unknown vehicle class uses the default speed
	if got := EstimateETA(3600, domain.VehicleType("HOVERCRAFT")); got != 432 {
		t.Errorf("default eta = %d, want 432", got)
	}
}

func TestAdjustETAForTraffic(t *testing.T) {
	cases := []struct {
		hour int
		want int64
	}{
		{8, 150},  // morning rush
		{18, 170}, // evening rush
		{13, 120},
		{23, 80},
		{3, 80},
		{10, 100},
	}
	for _, c := range cases {
		if got := AdjustETAForTraffic(100, c.hour); got != c.want {
			t.Errorf("hour %d: eta = %d, want %d", c.hour, got, c.want)
		}
	}
}
