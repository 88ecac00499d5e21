// Package matching runs the driver search for a ride: one session per ride,
// one outstanding offer at a time, candidates taken in ascending distance
// order. A per-ride lock in the pool guarantees a single live session even
// across server instances.
package matching

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/domain"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/pool"
)

// OfferSender delivers an offer to a driver's device.
type OfferSender interface {
	SendOffer(ctx context.Context, driverID uuid.UUID, offer *domain.DriverOffer) error
}

// RideStore is the subset of ride persistence the coordinator needs.
type RideStore interface {
	GetRide(ctx context.Context, rideID uuid.UUID) (*domain.Ride, error)
	UpdateRide(ctx context.Context, ride *domain.Ride) error
}

// EventPublisher emits ride lifecycle events. Best-effort; publish failures
// never block matching.
type EventPublisher interface {
	PublishRideEvent(ctx context.Context, event string, ride *domain.Ride) error
}

// Config tunes the search loop.
type Config struct {
	OfferTTL       time.Duration // how long a driver has to respond
	MaxSweeps      int           // candidate sweeps before giving up
	SweepBackoff   time.Duration // base pause between sweeps
	BackoffJitter  float64       // fraction of SweepBackoff added randomly
	InitialRadiusM float64
	MaxRadiusM     float64
	RadiusStepM    float64
	RideLockTTL    time.Duration // driver lock horizon after acceptance
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		OfferTTL:       15 * time.Second,
		MaxSweeps:      3,
		SweepBackoff:   5 * time.Second,
		BackoffJitter:  0.5,
		InitialRadiusM: 5000,
		MaxRadiusM:     15000,
		RadiusStepM:    5000,
		RideLockTTL:    2 * time.Hour,
	}
}

// Coordinator owns all live matching sessions in this process.
type Coordinator struct {
	pool   pool.Pool
	store  RideStore
	offers OfferSender
	events EventPublisher
	logger *slog.Logger
	cfg    Config

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
	wg       sync.WaitGroup
}

// session tracks one ride's search. pending is guarded by Coordinator.mu.
type session struct {
	ride    *domain.Ride
	pending *domain.DriverOffer
	tried   map[uuid.UUID]struct{}

	accepted  chan struct{}
	advance   chan struct{}
	cancelled chan struct{}

	startedAt time.Time
}

func NewCoordinator(p pool.Pool, store RideStore, offers OfferSender, events EventPublisher, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.OfferTTL <= 0 {
		cfg = DefaultConfig()
	}
	return &Coordinator{
		pool:     p,
		store:    store,
		offers:   offers,
		events:   events,
		logger:   logger,
		cfg:      cfg,
		sessions: make(map[uuid.UUID]*session),
	}
}

// StartMatching begins the driver search for a SEARCHING ride. Returns
// ErrMatchingInProgress when another session already holds the ride's
// matching lock.
func (c *Coordinator) StartMatching(ctx context.Context, ride *domain.Ride) error {
	if ride.Status != domain.RideStatusSearching {
		return domain.ErrRideNotActive
	}

	ok, err := c.pool.AcquireMatchingLock(ctx, ride.ID, pool.MatchingLockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrMatchingInProgress
	}

	s := &session{
		ride:      ride,
		tried:     make(map[uuid.UUID]struct{}),
		accepted:  make(chan struct{}),
		advance:   make(chan struct{}, 1),
		cancelled: make(chan struct{}),
		startedAt: time.Now(),
	}

	c.mu.Lock()
	c.sessions[ride.ID] = s
	c.mu.Unlock()

	// the session outlives the request that started it; offer windows are
	// bounded by their TTL, not by the caller
	c.wg.Add(1)
	go c.run(context.WithoutCancel(ctx), s)
	return nil
}

// AcceptOffer records a driver accepting the ride's pending offer. The
// driver keeps its pool lock, extended to cover the ride duration.
func (c *Coordinator) AcceptOffer(ctx context.Context, rideID, driverID uuid.UUID) (*domain.Ride, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[rideID]
	if !ok || s.pending == nil {
		return nil, domain.ErrOfferNotFound
	}
	offer := s.pending
	if offer.DriverID != driverID {
		return nil, domain.ErrOfferNotFound
	}
	if offer.Expired(time.Now()) {
		return nil, domain.ErrOfferExpired
	}

	if err := s.ride.AssignDriver(driverID, offer.VehicleID); err != nil {
		return nil, err
	}
	if err := c.store.UpdateRide(ctx, s.ride); err != nil {
		// persistence failed: leave the offer live so a retry can land
		if revertErr := s.ride.UnassignDriver(); revertErr != nil {
			c.logger.Error("failed to revert assignment", "ride_id", rideID, "error", revertErr)
		}
		return nil, err
	}
	s.pending = nil

	if err := c.pool.SetDriverStatus(ctx, driverID, domain.DriverStatusOnRide); err != nil {
		c.logger.Warn("failed to mark driver on ride", "driver_id", driverID, "error", err)
	}
	if err := c.pool.ExtendDriverLock(ctx, driverID, c.cfg.RideLockTTL); err != nil {
		c.logger.Warn("failed to extend driver lock", "driver_id", driverID, "error", err)
	}
	_ = c.pool.CacheRide(ctx, s.ride)
	if cell := s.ride.Pickup.CellID; cell != "" {
		_ = c.pool.UntrackRequest(ctx, cell, rideID)
	}

	observability.MatchesTotal.Inc()
	observability.MatchLatency.Observe(time.Since(s.startedAt).Seconds())
	c.publish(ctx, "ride.accepted", s.ride)

	close(s.accepted)
	cp := *s.ride
	return &cp, nil
}

// DeclineOffer records a driver declining the pending offer and moves the
// search to the next candidate.
func (c *Coordinator) DeclineOffer(ctx context.Context, rideID, driverID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[rideID]
	if !ok || s.pending == nil || s.pending.DriverID != driverID {
		return domain.ErrOfferNotFound
	}

	observability.OffersDeclined.Inc()
	select {
	case s.advance <- struct{}{}:
	default:
	}
	return nil
}

// CancelMatching stops the ride's session and releases every lock it holds.
// Safe to call when no session exists.
func (c *Coordinator) CancelMatching(ctx context.Context, rideID uuid.UUID) {
	c.mu.Lock()
	s, ok := c.sessions[rideID]
	if ok {
		delete(c.sessions, rideID)
		if s.pending != nil {
			if err := c.pool.UnlockDriver(ctx, s.pending.DriverID); err != nil {
				c.logger.Warn("failed to unlock driver on cancel", "driver_id", s.pending.DriverID, "error", err)
			}
			s.pending = nil
		}
		close(s.cancelled)
	}
	c.mu.Unlock()

	if err := c.pool.ReleaseMatchingLock(ctx, rideID); err != nil {
		c.logger.Warn("failed to release matching lock", "ride_id", rideID, "error", err)
	}
}

// Wait blocks until every live session has finished. Used during shutdown.
func (c *Coordinator) Wait() { c.wg.Wait() }

func (c *Coordinator) run(ctx context.Context, s *session) {
	defer c.wg.Done()
	defer c.cleanup(ctx, s)

	radius := c.cfg.InitialRadiusM
	for sweep := 0; sweep <= c.cfg.MaxSweeps; sweep++ {
		if sweep > 0 {
			if !c.pause(ctx, s) {
				return
			}
		}
		// each sweep re-arms the held per-ride lock for another window
		if err := c.pool.ExtendMatchingLock(ctx, s.ride.ID, pool.MatchingLockTTL); err != nil {
			c.logger.Warn("failed to refresh matching lock", "ride_id", s.ride.ID, "error", err)
		}

		cands, err := c.pool.NearbyDrivers(ctx, s.ride.Pickup.Latitude, s.ride.Pickup.Longitude, radius, s.ride.Type)
		if err != nil {
			c.logger.Error("nearby driver query failed", "ride_id", s.ride.ID, "error", err)
			continue
		}

		for _, cand := range cands {
			if _, seen := s.tried[cand.Driver.ID]; seen {
				continue
			}
			s.tried[cand.Driver.ID] = struct{}{}

			if done := c.offerTo(ctx, s, cand); done {
				return
			}
		}

		if radius < c.cfg.MaxRadiusM {
			radius += c.cfg.RadiusStepM
			if radius > c.cfg.MaxRadiusM {
				radius = c.cfg.MaxRadiusM
			}
		}
	}

	c.exhaust(ctx, s)
}

// offerTo locks the candidate, sends the offer and waits for a response.
// Returns true when the session should end, whether accepted or cancelled.
func (c *Coordinator) offerTo(ctx context.Context, s *session, cand *domain.NearbyDriver) bool {
	driverID := cand.Driver.ID

	// a grace period keeps the lock alive while the accept request is in flight
	if err := c.pool.LockDriver(ctx, driverID, c.cfg.OfferTTL+5*time.Second); err != nil {
		return false
	}

	offer := &domain.DriverOffer{
		RideID:     s.ride.ID,
		DriverID:   driverID,
		DistanceM:  cand.DistanceM,
		ETASeconds: cand.ETASeconds,
		OfferedAt:  time.Now().UTC(),
		ExpiresAt:  time.Now().UTC().Add(c.cfg.OfferTTL),
	}
	if cand.Driver.Vehicle != nil {
		offer.VehicleID = cand.Driver.Vehicle.ID
	}
	if s.ride.Price != nil {
		offer.FareTotal = s.ride.Price.Total
		offer.Currency = s.ride.Price.Currency
	}

	c.mu.Lock()
	if err := s.ride.Transition(domain.RideStatusMatched); err != nil {
		c.mu.Unlock()
		c.unlockDriver(ctx, driverID)
		return true
	}
	s.pending = offer
	c.mu.Unlock()

	if err := c.store.UpdateRide(ctx, s.ride); err != nil {
		c.logger.Error("failed to persist MATCHED", "ride_id", s.ride.ID, "error", err)
	}
	_ = c.pool.CacheRide(ctx, s.ride)

	if err := c.offers.SendOffer(ctx, driverID, offer); err != nil {
		c.logger.Warn("offer delivery failed", "ride_id", s.ride.ID, "driver_id", driverID, "error", err)
		c.retract(ctx, s, driverID)
		return false
	}
	observability.OffersSent.Inc()

	timer := time.NewTimer(c.cfg.OfferTTL)
	defer timer.Stop()

	select {
	case <-s.accepted:
		return true
	case <-s.advance:
		c.retract(ctx, s, driverID)
		return false
	case <-timer.C:
		observability.OffersExpired.Inc()
		c.retract(ctx, s, driverID)
		return false
	case <-s.cancelled:
		return true
	case <-ctx.Done():
		c.retract(ctx, s, driverID)
		return true
	}
}

// retract withdraws the pending offer, frees the driver and drops the ride
// back to SEARCHING.
func (c *Coordinator) retract(ctx context.Context, s *session, driverID uuid.UUID) {
	c.mu.Lock()
	if s.pending == nil || s.pending.DriverID != driverID {
		// accepted in the race window; nothing to retract
		c.mu.Unlock()
		return
	}
	s.pending = nil
	revertErr := s.ride.Transition(domain.RideStatusSearching)
	c.mu.Unlock()

	c.unlockDriver(ctx, driverID)
	if revertErr != nil {
		c.logger.Error("failed to revert ride to SEARCHING", "ride_id", s.ride.ID, "error", revertErr)
		return
	}
	if err := c.store.UpdateRide(ctx, s.ride); err != nil {
		c.logger.Error("failed to persist SEARCHING", "ride_id", s.ride.ID, "error", err)
	}
	_ = c.pool.CacheRide(ctx, s.ride)
}

// exhaust cancels the ride after every sweep came up empty.
func (c *Coordinator) exhaust(ctx context.Context, s *session) {
	c.mu.Lock()
	err := s.ride.Cancel(uuid.Nil, domain.CancelReasonNoDrivers)
	c.mu.Unlock()
	if err != nil {
		return
	}

	if err := c.store.UpdateRide(ctx, s.ride); err != nil {
		c.logger.Error("failed to persist exhaustion cancel", "ride_id", s.ride.ID, "error", err)
	}
	_ = c.pool.CacheRide(ctx, s.ride)
	if cell := s.ride.Pickup.CellID; cell != "" {
		_ = c.pool.UntrackRequest(ctx, cell, s.ride.ID)
	}

	observability.MatchExhausted.Inc()
	observability.RidesCancelled.Inc()
	c.publish(ctx, "ride.cancelled", s.ride)
	c.logger.Info("matching exhausted", "ride_id", s.ride.ID, "tried", len(s.tried))
}

func (c *Coordinator) pause(ctx context.Context, s *session) bool {
	d := c.cfg.SweepBackoff
	if c.cfg.BackoffJitter > 0 {
		d += time.Duration(rand.Float64() * c.cfg.BackoffJitter * float64(c.cfg.SweepBackoff))
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.accepted:
		return false
	case <-s.cancelled:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Coordinator) cleanup(ctx context.Context, s *session) {
	c.mu.Lock()
	delete(c.sessions, s.ride.ID)
	c.mu.Unlock()

	if err := c.pool.ReleaseMatchingLock(ctx, s.ride.ID); err != nil {
		c.logger.Warn("failed to release matching lock", "ride_id", s.ride.ID, "error", err)
	}
}

func (c *Coordinator) unlockDriver(ctx context.Context, driverID uuid.UUID) {
	if err := c.pool.UnlockDriver(ctx, driverID); err != nil {
		c.logger.Warn("failed to unlock driver", "driver_id", driverID, "error", err)
	}
}

func (c *Coordinator) publish(ctx context.Context, event string, ride *domain.Ride) {
	if c.events == nil {
		return
	}
	if err := c.events.PublishRideEvent(ctx, event, ride); err != nil {
		c.logger.Warn("event publish failed", "event", event, "ride_id", ride.ID, "error", err)
	}
}
