// Package domain holds the canonical dispatch entities and the rules that
// govern ride lifecycle transitions. No other package mutates Ride.Status
// directly.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// RideStatus is the lifecycle state of a ride.
type RideStatus string

const (
	RideStatusPending    RideStatus = "PENDING"
	RideStatusSearching  RideStatus = "SEARCHING"
	RideStatusMatched    RideStatus = "MATCHED"
	RideStatusAccepted   RideStatus = "ACCEPTED"
	RideStatusArriving   RideStatus = "ARRIVING"
	RideStatusArrived    RideStatus = "ARRIVED"
	RideStatusInProgress RideStatus = "IN_PROGRESS"
	RideStatusCompleted  RideStatus = "COMPLETED"
	RideStatusCancelled  RideStatus = "CANCELLED"
)

// RideType is the product class requested by the rider.
type RideType string

const (
	RideTypeStandard RideType = "STANDARD"
	RideTypePremium  RideType = "PREMIUM"
	RideTypeXL       RideType = "XL"
	RideTypeBoda     RideType = "BODA"
	RideTypeTricycle RideType = "TRICYCLE"
)

// AllRideTypes lists every product class, in estimate display order.
func AllRideTypes() []RideType {
	return []RideType{RideTypeStandard, RideTypePremium, RideTypeXL, RideTypeBoda, RideTypeTricycle}
}

type PaymentMethod string

const (
	PaymentMethodCash        PaymentMethod = "CASH"
	PaymentMethodWallet      PaymentMethod = "WALLET"
	PaymentMethodMobileMoney PaymentMethod = "MOBILE_MONEY"
	PaymentMethodCard        PaymentMethod = "CARD"
)

type Currency string

const (
	CurrencyNGN Currency = "NGN"
	CurrencyKES Currency = "KES"
	CurrencyGHS Currency = "GHS"
	CurrencyUGX Currency = "UGX"
	CurrencyTZS Currency = "TZS"
	CurrencyRWF Currency = "RWF"
	CurrencyZAR Currency = "ZAR"
	CurrencyUSD Currency = "USD"
)

// Location is a geographic point plus the fixed-resolution grid cell it
// falls in. CellID enables O(1) cell-bucket lookups independent of radius
// searches.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
	PlaceID   string  `json:"place_id,omitempty"`
	CellID    string  `json:"cell_id,omitempty"`
}

// RouteInfo is the routing-provider result for pickup to dropoff.
type RouteInfo struct {
	DistanceMeters  int64  `json:"distance_meters"`
	DurationSeconds int64  `json:"duration_seconds"`
	Polyline        string `json:"polyline,omitempty"`
	TrafficDuration int64  `json:"traffic_duration_seconds,omitempty"`
}

// PriceBreakdown itemizes a fare in the smallest currency unit (kobo,
// cents). DriverEarnings + PlatformFee always equals Total.
type PriceBreakdown struct {
	BaseFare        int64    `json:"base_fare"`
	DistanceFare    int64    `json:"distance_fare"`
	TimeFare        int64    `json:"time_fare"`
	SurgeMultiplier float64  `json:"surge_multiplier"`
	SurgeAmount     int64    `json:"surge_amount"`
	BookingFee      int64    `json:"booking_fee"`
	TollFees        int64    `json:"toll_fees"`
	PromoDiscount   int64    `json:"promo_discount"`
	Total           int64    `json:"total"`
	Currency        Currency `json:"currency"`
	DriverEarnings  int64    `json:"driver_earnings"`
	PlatformFee     int64    `json:"platform_fee"`
}

// Ride is a trip request moving through the dispatch lifecycle.
type Ride struct {
	ID        uuid.UUID  `json:"id"`
	RiderID   uuid.UUID  `json:"rider_id"`
	DriverID  *uuid.UUID `json:"driver_id,omitempty"`
	VehicleID *uuid.UUID `json:"vehicle_id,omitempty"`

	Pickup  Location   `json:"pickup"`
	Dropoff Location   `json:"dropoff"`
	Stops   []Location `json:"stops,omitempty"`

	Type          RideType      `json:"type"`
	Status        RideStatus    `json:"status"`
	PaymentMethod PaymentMethod `json:"payment_method"`

	Route *RouteInfo      `json:"route,omitempty"`
	Price *PriceBreakdown `json:"price,omitempty"`

	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`

	RequestedAt time.Time  `json:"requested_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	ArrivedAt   *time.Time `json:"arrived_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CancelledBy        *uuid.UUID `json:"cancelled_by,omitempty"`

	RiderRating  *float32 `json:"rider_rating,omitempty"`
	DriverRating *float32 `json:"driver_rating,omitempty"`

	PromoCode string         `json:"promo_code,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RideRequest is the inbound payload that creates a ride.
type RideRequest struct {
	RiderID       uuid.UUID     `json:"rider_id"`
	Pickup        Location      `json:"pickup"`
	Dropoff       Location      `json:"dropoff"`
	Stops         []Location    `json:"stops,omitempty"`
	Type          RideType      `json:"type"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Currency      Currency      `json:"currency,omitempty"`
	ScheduledFor  *time.Time    `json:"scheduled_for,omitempty"`
	PromoCode     string        `json:"promo_code,omitempty"`
}

// DriverOffer is a time-bounded proposal of a ride to a single driver. It
// lives only for the duration of a matching attempt.
type DriverOffer struct {
	RideID     uuid.UUID `json:"ride_id"`
	DriverID   uuid.UUID `json:"driver_id"`
	VehicleID  uuid.UUID `json:"vehicle_id"`
	DistanceM  float64   `json:"distance_meters"`
	ETASeconds int64     `json:"eta_seconds"`
	FareTotal  int64     `json:"fare_total,omitempty"`
	Currency   Currency  `json:"currency,omitempty"`
	OfferedAt  time.Time `json:"offered_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the offer window has passed at t.
func (o *DriverOffer) Expired(t time.Time) bool { return t.After(o.ExpiresAt) }

// CancelReasonNoDrivers is recorded when matching exhausts every candidate.
const CancelReasonNoDrivers = "NO_DRIVERS_AVAILABLE"

// NewRide builds a PENDING ride from a request.
func NewRide(req *RideRequest) *Ride {
	now := time.Now().UTC()
	return &Ride{
		ID:            uuid.New(),
		RiderID:       req.RiderID,
		Pickup:        req.Pickup,
		Dropoff:       req.Dropoff,
		Stops:         req.Stops,
		Type:          req.Type,
		Status:        RideStatusPending,
		PaymentMethod: req.PaymentMethod,
		ScheduledFor:  req.ScheduledFor,
		PromoCode:     req.PromoCode,
		RequestedAt:   now,
		CreatedAt:     now,
		UpdatedAt:     now,
		Metadata:      make(map[string]any),
	}
}

// validTransitions is the single source of truth for the lifecycle graph.
// MATCHED can fall back to SEARCHING when an offer is declined or expires.
var validTransitions = map[RideStatus][]RideStatus{
	RideStatusPending:    {RideStatusSearching, RideStatusCancelled},
	RideStatusSearching:  {RideStatusMatched, RideStatusCancelled},
	RideStatusMatched:    {RideStatusAccepted, RideStatusSearching, RideStatusCancelled},
	RideStatusAccepted:   {RideStatusArriving, RideStatusCancelled},
	RideStatusArriving:   {RideStatusArrived, RideStatusCancelled},
	RideStatusArrived:    {RideStatusInProgress, RideStatusCancelled},
	RideStatusInProgress: {RideStatusCompleted, RideStatusCancelled},
	RideStatusCompleted:  {},
	RideStatusCancelled:  {},
}

// CanTransitionTo reports whether status may move to newStatus.
func (r *Ride) CanTransitionTo(newStatus RideStatus) bool {
	for _, s := range validTransitions[r.Status] {
		if s == newStatus {
			return true
		}
	}
	return false
}

// Transition moves the ride along the lifecycle graph, stamping milestone
// timestamps. Invalid edges leave the ride unchanged.
func (r *Ride) Transition(newStatus RideStatus) error {
	if !r.CanTransitionTo(newStatus) {
		return ErrInvalidStatusTransition
	}

	now := time.Now().UTC()
	r.Status = newStatus
	r.UpdatedAt = now

	switch newStatus {
	case RideStatusArrived:
		r.ArrivedAt = &now
	case RideStatusInProgress:
		r.StartedAt = &now
	case RideStatusCompleted:
		r.CompletedAt = &now
	case RideStatusCancelled:
		r.CancelledAt = &now
	}
	return nil
}

// AssignDriver atomically binds a driver and vehicle and moves the ride to
// ACCEPTED. Only valid from SEARCHING or MATCHED.
func (r *Ride) AssignDriver(driverID, vehicleID uuid.UUID) error {
	if r.Status != RideStatusSearching && r.Status != RideStatusMatched {
		return ErrInvalidStatusTransition
	}

	now := time.Now().UTC()
	r.DriverID = &driverID
	r.VehicleID = &vehicleID
	r.Status = RideStatusAccepted
	r.AcceptedAt = &now
	r.UpdatedAt = now
	return nil
}

// UnassignDriver reverts AssignDriver, returning the ride to MATCHED so
// the offer can be retried. Only valid from ACCEPTED.
func (r *Ride) UnassignDriver() error {
	if r.Status != RideStatusAccepted {
		return ErrInvalidStatusTransition
	}

	r.DriverID = nil
	r.VehicleID = nil
	r.Status = RideStatusMatched
	r.AcceptedAt = nil
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// Cancel ends the ride from any non-terminal state.
func (r *Ride) Cancel(cancelledBy uuid.UUID, reason string) error {
	if r.Status == RideStatusCompleted || r.Status == RideStatusCancelled {
		return ErrRideAlreadyEnded
	}

	now := time.Now().UTC()
	r.Status = RideStatusCancelled
	r.CancelledBy = &cancelledBy
	r.CancellationReason = reason
	r.CancelledAt = &now
	r.UpdatedAt = now
	return nil
}

// IsActive reports whether the ride has not reached a terminal state.
func (r *Ride) IsActive() bool {
	return r.Status != RideStatusCompleted && r.Status != RideStatusCancelled
}

// IsTerminal is the complement of IsActive.
func (r *Ride) IsTerminal() bool { return !r.IsActive() }

// WaitTimeSeconds is how long the rider waited between requesting and the
// trip starting (or until now for rides still waiting).
func (r *Ride) WaitTimeSeconds() int64 {
	if r.StartedAt != nil {
		return int64(r.StartedAt.Sub(r.RequestedAt).Seconds())
	}
	return int64(time.Since(r.RequestedAt).Seconds())
}
