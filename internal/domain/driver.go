package domain

import (
	"time"

	"github.com/google/uuid"
)

// DriverStatus is the operational status of a driver.
type DriverStatus string

const (
	DriverStatusOffline DriverStatus = "OFFLINE"
	DriverStatusOnline  DriverStatus = "ONLINE"
	DriverStatusBusy    DriverStatus = "BUSY"
	DriverStatusOnRide  DriverStatus = "ON_RIDE"
)

type VehicleType string

const (
	VehicleTypeCar      VehicleType = "CAR"
	VehicleTypeSUV      VehicleType = "SUV"
	VehicleTypeVan      VehicleType = "VAN"
	VehicleTypeBike     VehicleType = "BIKE"
	VehicleTypeTricycle VehicleType = "TRICYCLE"
)

// Driver is a driver as seen by the dispatch core. Pool membership (online
// presence, position, lock state) is owned by the driver pool, not here.
type Driver struct {
	ID     uuid.UUID    `json:"id"`
	Status DriverStatus `json:"status"`

	CurrentLocation *Location  `json:"current_location,omitempty"`
	CellID          string     `json:"cell_id,omitempty"`
	LastLocationAt  *time.Time `json:"last_location_at,omitempty"`
	Heading         float64    `json:"heading,omitempty"`
	Speed           float64    `json:"speed,omitempty"`

	Vehicle *Vehicle `json:"vehicle,omitempty"`

	Rating         float64 `json:"rating"`
	TotalRides     int64   `json:"total_rides"`
	AcceptanceRate float64 `json:"acceptance_rate"`

	CurrentRideID *uuid.UUID `json:"current_ride_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Vehicle determines which ride types a driver may serve.
type Vehicle struct {
	ID                 uuid.UUID   `json:"id"`
	DriverID           uuid.UUID   `json:"driver_id"`
	Type               VehicleType `json:"type"`
	Capacity           int         `json:"capacity"`
	SupportedRideTypes []RideType  `json:"supported_ride_types"`
	DocumentsExpiry    *time.Time  `json:"documents_expiry,omitempty"`
}

// NearbyDriver is a transient proximity-query result; never persisted.
type NearbyDriver struct {
	Driver     *Driver `json:"driver"`
	DistanceM  float64 `json:"distance_meters"`
	ETASeconds int64   `json:"eta_seconds"`
	Bearing    float64 `json:"bearing"`
}

// DriverLocation is a single location report from a driver client.
type DriverLocation struct {
	DriverID  uuid.UUID `json:"driver_id"`
	Location  Location  `json:"location"`
	Heading   float64   `json:"heading"`
	Speed     float64   `json:"speed"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// IsAvailable reports whether the driver can take a new ride.
func (d *Driver) IsAvailable() bool {
	return d.Status == DriverStatusOnline && d.CurrentRideID == nil
}

// CanServe reports whether the driver's vehicle supports the ride type.
func (d *Driver) CanServe(rideType RideType) bool {
	if d.Vehicle == nil {
		return false
	}
	for _, t := range d.Vehicle.SupportedRideTypes {
		if t == rideType {
			return true
		}
	}
	return false
}

// AssignRide marks the driver as serving rideID.
func (d *Driver) AssignRide(rideID uuid.UUID) error {
	if !d.IsAvailable() {
		return ErrDriverNotAvailable
	}
	d.Status = DriverStatusOnRide
	d.CurrentRideID = &rideID
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// CompleteRide returns the driver to the available pool.
func (d *Driver) CompleteRide() {
	d.Status = DriverStatusOnline
	d.CurrentRideID = nil
	d.TotalRides++
	d.UpdatedAt = time.Now().UTC()
}

// RideTypesForVehicle maps a vehicle class to the ride types it may serve.
func RideTypesForVehicle(vt VehicleType) []RideType {
	switch vt {
	case VehicleTypeBike:
		return []RideType{RideTypeBoda}
	case VehicleTypeTricycle:
		return []RideType{RideTypeTricycle}
	case VehicleTypeCar:
		return []RideType{RideTypeStandard, RideTypePremium}
	case VehicleTypeSUV, VehicleTypeVan:
		return []RideType{RideTypeStandard, RideTypePremium, RideTypeXL}
	default:
		return []RideType{RideTypeStandard}
	}
}
