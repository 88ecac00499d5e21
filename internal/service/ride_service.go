// Package service orchestrates the ride lifecycle: booking, pricing,
// matching, progress updates and settlement.
package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/domain"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/matching"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/pool"
	"github.com/example/ride-dispatch/internal/pricing"
	"github.com/example/ride-dispatch/internal/routing"
	"github.com/example/ride-dispatch/internal/storage"
)

const paymentIntentKey = "payment_intent_id"

// LocationPublisher forwards raw driver positions to the ingest pipeline.
// Nil publisher means positions are applied to the pool directly.
type LocationPublisher interface {
	PublishLocation(ctx context.Context, loc *domain.DriverLocation) error
}

// EventPublisher mirrors matching.EventPublisher for lifecycle events the
// service emits itself.
type EventPublisher interface {
	PublishRideEvent(ctx context.Context, event string, ride *domain.Ride) error
}

type RideService struct {
	store    storage.RideStore
	pool     pool.Pool
	pricing  *pricing.Engine
	router   routing.Client
	matcher  *matching.Coordinator
	payments payments.Gateway
	events   EventPublisher
	locPub   LocationPublisher
	promos   *pricing.PromoBook
	logger   *slog.Logger
}

func NewRideService(
	store storage.RideStore,
	p pool.Pool,
	eng *pricing.Engine,
	router routing.Client,
	matcher *matching.Coordinator,
	gateway payments.Gateway,
	events EventPublisher,
	locPub LocationPublisher,
	logger *slog.Logger,
) *RideService {
	if gateway == nil {
		gateway = payments.NopGateway{}
	}
	return &RideService{
		store:    store,
		pool:     p,
		pricing:  eng,
		router:   router,
		matcher:  matcher,
		payments: gateway,
		events:   events,
		locPub:   locPub,
		promos:   pricing.NewPromoBook(),
		logger:   logger,
	}
}

// Promos exposes the promo registry so operators can load active codes.
func (s *RideService) Promos() *pricing.PromoBook { return s.promos }

// RequestRide validates and prices a ride, persists it and starts the
// driver search. Riders with an active ride cannot book another.
func (s *RideService) RequestRide(ctx context.Context, req *domain.RideRequest) (*domain.Ride, error) {
	if !geo.ValidCoordinate(req.Pickup.Latitude, req.Pickup.Longitude) ||
		!geo.ValidCoordinate(req.Dropoff.Latitude, req.Dropoff.Longitude) {
		return nil, domain.ErrInvalidLocation
	}
	if req.Type == "" {
		req.Type = domain.RideTypeStandard
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentMethodCash
	}
	if req.Currency == "" {
		req.Currency = domain.CurrencyNGN
	}

	promoDiscount, err := s.promos.Discount(req.PromoCode, req.Currency)
	if err != nil {
		return nil, err
	}

	active, err := s.store.GetActiveRideByRider(ctx, req.RiderID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, domain.NewError(domain.CodeActiveRideExists, "rider already has an active ride")
	}

	ride := domain.NewRide(req)
	ride.Pickup.CellID = geo.CellForLocation(&ride.Pickup)
	ride.Dropoff.CellID = geo.CellForLocation(&ride.Dropoff)

	route, err := s.routeWithStops(ctx, ride)
	if err != nil {
		return nil, domain.NewError(domain.CodePricingFailed, "route unavailable")
	}
	ride.Route = route

	s.refreshSurge(ctx, ride.Pickup.CellID)

	price, err := s.pricing.CalculatePrice(ctx, ride.Type, float64(route.DistanceMeters),
		route.DurationSeconds, req.Currency, ride.Pickup.CellID, promoDiscount)
	if err != nil {
		return nil, domain.NewError(domain.CodePricingFailed, "fare calculation failed")
	}
	ride.Price = price

	if err := s.store.SaveRide(ctx, ride); err != nil {
		return nil, err
	}

	if err := ride.Transition(domain.RideStatusSearching); err != nil {
		return nil, err
	}
	if err := s.store.UpdateRide(ctx, ride); err != nil {
		return nil, err
	}
	_ = s.pool.CacheRide(ctx, ride)
	if err := s.pool.TrackRequest(ctx, ride.Pickup.CellID, ride.ID); err != nil {
		s.logger.Warn("failed to track pending request", "ride_id", ride.ID, "error", err)
	}

	s.publish(ctx, "ride.requested", ride)

	if err := s.matcher.StartMatching(ctx, ride); err != nil {
		s.logger.Error("failed to start matching", "ride_id", ride.ID, "error", err)
		return nil, err
	}

	cp := *ride
	return &cp, nil
}

// EstimatePrice prices every ride type for the given trip without booking.
func (s *RideService) EstimatePrice(ctx context.Context, pickup, dropoff domain.Location, currency domain.Currency) (map[domain.RideType]*domain.PriceBreakdown, error) {
	if !geo.ValidCoordinate(pickup.Latitude, pickup.Longitude) ||
		!geo.ValidCoordinate(dropoff.Latitude, dropoff.Longitude) {
		return nil, domain.ErrInvalidLocation
	}
	route, err := s.router.Route(ctx, pickup, dropoff)
	if err != nil {
		return nil, domain.NewError(domain.CodePricingFailed, "route unavailable")
	}
	cell := geo.CellForLocation(&pickup)
	return s.pricing.GetPriceEstimate(ctx, float64(route.DistanceMeters), route.DurationSeconds, currency, cell)
}

// GetRide reads from the ride cache first, falling back to the store.
func (s *RideService) GetRide(ctx context.Context, rideID uuid.UUID) (*domain.Ride, error) {
	if cached, err := s.pool.CachedRide(ctx, rideID); err == nil && cached != nil {
		return cached, nil
	}
	return s.store.GetRide(ctx, rideID)
}

// AcceptRide records a driver accepting the pending offer and places the
// fare hold for card rides.
func (s *RideService) AcceptRide(ctx context.Context, rideID, driverID uuid.UUID) (*domain.Ride, error) {
	ride, err := s.matcher.AcceptOffer(ctx, rideID, driverID)
	if err != nil {
		return nil, err
	}

	if ride.PaymentMethod == domain.PaymentMethodCard && ride.Price != nil {
		intentID, err := s.payments.Hold(ctx, ride.Price.Total, ride.Price.Currency, ride.RiderID.String())
		if err != nil {
			// the match stands; settlement falls back to cash collection
			s.logger.Error("fare hold failed", "ride_id", ride.ID, "error", err)
		} else if intentID != "" {
			if ride.Metadata == nil {
				ride.Metadata = make(map[string]any)
			}
			ride.Metadata[paymentIntentKey] = intentID
			if err := s.store.UpdateRide(ctx, ride); err != nil {
				s.logger.Error("failed to persist payment intent", "ride_id", ride.ID, "error", err)
			}
			_ = s.pool.CacheRide(ctx, ride)
		}
	}
	return ride, nil
}

// DeclineRide records a driver turning down the pending offer.
func (s *RideService) DeclineRide(ctx context.Context, rideID, driverID uuid.UUID) error {
	return s.matcher.DeclineOffer(ctx, rideID, driverID)
}

// CancelRide ends a ride on behalf of its rider or assigned driver,
// releasing every lock and hold tied to it.
func (s *RideService) CancelRide(ctx context.Context, rideID, cancelledBy uuid.UUID, reason string) (*domain.Ride, error) {
	ride, err := s.store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !s.mayActOn(ride, cancelledBy) {
		return nil, domain.NewError(domain.CodeForbidden, "not a participant of this ride")
	}

	s.matcher.CancelMatching(ctx, rideID)

	if err := ride.Cancel(cancelledBy, reason); err != nil {
		return nil, err
	}
	if err := s.store.UpdateRide(ctx, ride); err != nil {
		return nil, err
	}
	_ = s.pool.CacheRide(ctx, ride)
	if cell := ride.Pickup.CellID; cell != "" {
		_ = s.pool.UntrackRequest(ctx, cell, ride.ID)
	}

	if ride.DriverID != nil {
		if err := s.pool.UnlockDriver(ctx, *ride.DriverID); err != nil {
			s.logger.Warn("failed to unlock driver on cancel", "driver_id", *ride.DriverID, "error", err)
		}
		if err := s.pool.SetDriverStatus(ctx, *ride.DriverID, domain.DriverStatusOnline); err != nil {
			s.logger.Warn("failed to restore driver status", "driver_id", *ride.DriverID, "error", err)
		}
	}
	s.releaseHold(ctx, ride)

	observability.RidesCancelled.Inc()
	s.publish(ctx, "ride.cancelled", ride)
	cp := *ride
	return &cp, nil
}

// UpdateRideStatus moves an accepted ride through its trip milestones. Only
// the assigned driver may report progress. Cancellation goes through
// CancelRide, which also releases the locks and holds tied to the ride.
func (s *RideService) UpdateRideStatus(ctx context.Context, rideID, driverID uuid.UUID, status domain.RideStatus) (*domain.Ride, error) {
	if status == domain.RideStatusCancelled {
		return nil, domain.NewError(domain.CodeInvalidStatusTransition, "cancellation must go through the cancel operation")
	}
	ride, err := s.store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.DriverID == nil || *ride.DriverID != driverID {
		return nil, domain.NewError(domain.CodeForbidden, "ride is not assigned to this driver")
	}
	if ride.IsTerminal() {
		return nil, domain.ErrRideAlreadyEnded
	}

	if err := ride.Transition(status); err != nil {
		return nil, err
	}
	if err := s.store.UpdateRide(ctx, ride); err != nil {
		return nil, err
	}
	_ = s.pool.CacheRide(ctx, ride)

	switch status {
	case domain.RideStatusCompleted:
		s.settle(ctx, ride)
		observability.RidesCompleted.Inc()
		s.publish(ctx, "ride.completed", ride)
	default:
		s.publish(ctx, "ride.status_changed", ride)
	}
	cp := *ride
	return &cp, nil
}

// RateRide records the post-trip rating from either side.
func (s *RideService) RateRide(ctx context.Context, rideID, raterID uuid.UUID, rating float32) (*domain.Ride, error) {
	if rating < 1 || rating > 5 {
		return nil, domain.NewError(domain.CodeInvalidRating, "rating must be between 1 and 5")
	}
	ride, err := s.store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.Status != domain.RideStatusCompleted {
		return nil, domain.ErrRideNotActive
	}

	switch {
	case ride.RiderID == raterID:
		// the rider rates the driver
		ride.DriverRating = &rating
	case ride.DriverID != nil && *ride.DriverID == raterID:
		ride.RiderRating = &rating
	default:
		return nil, domain.NewError(domain.CodeForbidden, "not a participant of this ride")
	}

	if err := s.store.UpdateRide(ctx, ride); err != nil {
		return nil, err
	}
	_ = s.pool.CacheRide(ctx, ride)
	cp := *ride
	return &cp, nil
}

// NearbyDrivers exposes the proximity query for rider map display.
func (s *RideService) RideHistory(ctx context.Context, riderID uuid.UUID, limit int) ([]*domain.Ride, error) {
	return s.store.ListRidesByRider(ctx, riderID, limit)
}

func (s *RideService) NearbyDrivers(ctx context.Context, lat, lng, radiusM float64, rideType domain.RideType) ([]*domain.NearbyDriver, error) {
	return s.pool.NearbyDrivers(ctx, lat, lng, radiusM, rideType)
}

// UpdateDriverLocation routes a position report into the system: through
// Kafka when a publisher is wired, straight into the pool otherwise.
func (s *RideService) UpdateDriverLocation(ctx context.Context, loc *domain.DriverLocation) error {
	if !geo.ValidCoordinate(loc.Location.Latitude, loc.Location.Longitude) {
		return domain.ErrInvalidLocation
	}
	if s.locPub != nil {
		if err := s.locPub.PublishLocation(ctx, loc); err == nil {
			observability.LocationUpdates.Inc()
			return nil
		}
		// broker down: degrade to a direct pool write
	}
	if err := s.pool.UpdateLocation(ctx, loc); err != nil {
		return err
	}
	observability.LocationUpdates.Inc()
	return nil
}

func (s *RideService) SetDriverStatus(ctx context.Context, driverID uuid.UUID, status domain.DriverStatus) error {
	prev, _ := s.pool.DriverStatus(ctx, driverID)
	if err := s.pool.SetDriverStatus(ctx, driverID, status); err != nil {
		return err
	}
	if prev != domain.DriverStatusOnline && status == domain.DriverStatusOnline {
		observability.DriversOnline.Inc()
	} else if prev == domain.DriverStatusOnline && status != domain.DriverStatusOnline {
		observability.DriversOnline.Dec()
	}
	return nil
}

func (s *RideService) RegisterVehicle(ctx context.Context, vehicle *domain.Vehicle) error {
	return s.pool.RegisterVehicle(ctx, vehicle)
}

// routeWithStops sums the legs pickup -> stops -> dropoff.
func (s *RideService) routeWithStops(ctx context.Context, ride *domain.Ride) (*domain.RouteInfo, error) {
	points := make([]domain.Location, 0, len(ride.Stops)+2)
	points = append(points, ride.Pickup)
	points = append(points, ride.Stops...)
	points = append(points, ride.Dropoff)

	total := &domain.RouteInfo{}
	for i := 0; i+1 < len(points); i++ {
		leg, err := s.router.Route(ctx, points[i], points[i+1])
		if err != nil {
			return nil, err
		}
		total.DistanceMeters += leg.DistanceMeters
		total.DurationSeconds += leg.DurationSeconds
		if len(points) == 2 {
			total.Polyline = leg.Polyline
		}
	}
	return total, nil
}

// refreshSurge recomputes the pickup cell's multiplier from live supply
// and demand counts.
func (s *RideService) refreshSurge(ctx context.Context, cellID string) {
	if cellID == "" {
		return
	}
	drivers, err := s.pool.CountDriversInCell(ctx, cellID)
	if err != nil {
		return
	}
	pending, err := s.pool.CountPendingRequests(ctx, cellID)
	if err != nil {
		return
	}
	s.pricing.UpdateSurge(ctx, cellID, int(drivers), int(pending))
	observability.SurgeUpdates.Inc()
}

// settle finishes the money side of a completed ride and frees the driver.
func (s *RideService) settle(ctx context.Context, ride *domain.Ride) {
	if ride.DriverID != nil {
		if err := s.pool.UnlockDriver(ctx, *ride.DriverID); err != nil {
			s.logger.Warn("failed to unlock driver on completion", "driver_id", *ride.DriverID, "error", err)
		}
		if err := s.pool.SetDriverStatus(ctx, *ride.DriverID, domain.DriverStatusOnline); err != nil {
			s.logger.Warn("failed to restore driver status", "driver_id", *ride.DriverID, "error", err)
		}
	}
	if intentID, ok := ride.Metadata[paymentIntentKey].(string); ok && intentID != "" {
		if err := s.payments.Capture(ctx, intentID); err != nil {
			s.logger.Error("fare capture failed", "ride_id", ride.ID, "error", err)
		}
	}
}

// releaseHold cancels any outstanding fare hold.
func (s *RideService) releaseHold(ctx context.Context, ride *domain.Ride) {
	if intentID, ok := ride.Metadata[paymentIntentKey].(string); ok && intentID != "" {
		if err := s.payments.Cancel(ctx, intentID); err != nil {
			s.logger.Error("failed to release fare hold", "ride_id", ride.ID, "error", err)
		}
	}
}

func (s *RideService) mayActOn(ride *domain.Ride, actor uuid.UUID) bool {
	if ride.RiderID == actor {
		return true
	}
	return ride.DriverID != nil && *ride.DriverID == actor
}

func (s *RideService) publish(ctx context.Context, event string, ride *domain.Ride) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishRideEvent(ctx, event, ride); err != nil {
		s.logger.Warn("event publish failed", "event", event, "ride_id", ride.ID, "error", err)
	}
}
