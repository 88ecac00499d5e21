// Package geo provides the geospatial math used by the dispatch core:
// great-circle distance, bearings, grid cell derivation and the ETA speed
// heuristic that keeps the matching hot path free of network calls.
package geo

import (
	"math"

	h3 "github.com/uber/h3-go/v4"

	"github.com/example/ride-dispatch/internal/domain"
)

const (
	earthRadiusM = 6371000.0
	degToRad     = math.Pi / 180.0
	radToDeg     = 180.0 / math.Pi

	// CellResolution is the H3 resolution for driver buckets and surge
	// zones (~174m hexagon edge).
	CellResolution = 9

	// DefaultSearchRadiusM bounds proximity queries when the caller does
	// not specify a radius.
	DefaultSearchRadiusM = 5000.0

	// MaxSearchRadiusM is the hard ceiling for any proximity query.
	MaxSearchRadiusM = 50000.0
)

// Haversine returns the great-circle distance between two points in meters.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * degToRad
	dLng := (lng2 - lng1) * degToRad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

// Bearing returns the initial bearing from point 1 to point 2 in degrees,
// normalized to [0, 360).
func Bearing(lat1, lng1, lat2, lng2 float64) float64 {
	lat1Rad := lat1 * degToRad
	lat2Rad := lat2 * degToRad
	dLng := (lng2 - lng1) * degToRad

	y := math.Sin(dLng) * math.Cos(lat2Rad)
	x := math.Cos(lat1Rad)*math.Sin(lat2Rad) - math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(dLng)

	return math.Mod(math.Atan2(y, x)*radToDeg+360, 360)
}

// ValidCoordinate reports whether lat/lng is a plausible coordinate.
func ValidCoordinate(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// CellID returns the fixed-resolution grid cell identifier for a point.
func CellID(lat, lng float64) string {
	return h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lng}, CellResolution).String()
}

// CellForLocation fills in loc.CellID when the client did not send one.
func CellForLocation(loc *domain.Location) string {
	if loc.CellID != "" {
		return loc.CellID
	}
	return CellID(loc.Latitude, loc.Longitude)
}

// vehicleSpeeds holds average urban speeds in m/s per vehicle class.
var vehicleSpeeds = map[domain.VehicleType]float64{
	domain.VehicleTypeBike:     8.0,  // ~30 km/h
	domain.VehicleTypeTricycle: 6.0,  // ~22 km/h
	domain.VehicleTypeCar:      10.0, // ~36 km/h in traffic
	domain.VehicleTypeSUV:      10.0,
	domain.VehicleTypeVan:      9.0,
}

const defaultSpeedMps = 10.0

// EstimateETA approximates travel time in seconds from distance and a
// per-vehicle-class average speed, with a 20% buffer for stops and turns,
// floored at 60s.
func EstimateETA(distanceM float64, vt domain.VehicleType) int64 {
	speed, ok := vehicleSpeeds[vt]
	if !ok || speed <= 0 {
		speed = defaultSpeedMps
	}

	eta := distanceM / speed * 1.2
	if eta < 60 {
		return 60
	}
	return int64(eta)
}

// AdjustETAForTraffic scales an ETA by time-of-day congestion.
func AdjustETAForTraffic(etaSeconds int64, hour int) int64 {
	var multiplier float64
	switch {
	case hour >= 7 && hour <= 9:
		multiplier = 1.5 // morning rush
	case hour >= 17 && hour <= 20:
		multiplier = 1.7 // evening rush
	case hour >= 12 && hour <= 14:
		multiplier = 1.2
	case hour >= 22 || hour <= 5:
		multiplier = 0.8
	default:
		multiplier = 1.0
	}
	return int64(float64(etaSeconds) * multiplier)
}
