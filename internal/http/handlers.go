// Package httpapi exposes the dispatch API over HTTP and, for driver
// offer delivery, WebSocket.
package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/domain"
	"github.com/example/ride-dispatch/internal/pool"
	"github.com/example/ride-dispatch/internal/service"
)

type Server struct {
	rides  *service.RideService
	pool   pool.Pool
	wsReg  *dispatch.WSRegistry
	tokens *dispatch.TokenRegistry
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(rides *service.RideService, p pool.Pool, wsReg *dispatch.WSRegistry, tokens *dispatch.TokenRegistry, logger *slog.Logger) *Server {
	s := &Server{rides: rides, pool: p, wsReg: wsReg, tokens: tokens, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/rides/request", s.handleRideRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/estimate", s.handleEstimate).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides", s.handleListRides).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}", s.handleGetRide).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/accept", s.handleAccept).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/decline", s.handleDecline).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/cancel", s.handleCancel).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/status", s.handleStatus).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/rating", s.handleRating).Methods("POST")

	s.mux.HandleFunc("/api/v1/drivers/nearby", s.handleNearby).Methods("GET")
	s.mux.HandleFunc("/api/v1/drivers/status", s.handleDriverStatus).Methods("POST")
	s.mux.HandleFunc("/api/v1/drivers/vehicle", s.handleRegisterVehicle).Methods("POST")
	s.mux.HandleFunc("/api/v1/drivers/push-token", s.handlePushToken).Methods("POST")
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")

	s.mux.HandleFunc("/ws/driver/{driver_id}", s.handleWS)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	var req domain.RideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err)
		return
	}
	ride, err := s.rides.RequestRide(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pickup   domain.Location `json:"pickup"`
		Dropoff  domain.Location `json:"dropoff"`
		Currency domain.Currency `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err)
		return
	}
	estimates, err := s.rides.EstimatePrice(r.Context(), req.Pickup, req.Dropoff, req.Currency)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"estimates": estimates})
}

func (s *Server) handleListRides(w http.ResponseWriter, r *http.Request) {
	riderID, err := uuid.Parse(r.URL.Query().Get("rider_id"))
	if err != nil {
		badRequest(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rides, err := s.rides.RideHistory(r.Context(), riderID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": rides})
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	rideID, err := pathUUID(r, "ride_id")
	if err != nil {
		badRequest(w, err)
		return
	}
	ride, err := s.rides.GetRide(r.Context(), rideID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	rideID, driverID, err := rideAndDriver(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	ride, err := s.rides.AcceptRide(r.Context(), rideID, driverID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	rideID, driverID, err := rideAndDriver(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := s.rides.DeclineRide(r.Context(), rideID, driverID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	rideID, err := pathUUID(r, "ride_id")
	if err != nil {
		badRequest(w, err)
		return
	}
	var req struct {
		CancelledBy uuid.UUID `json:"cancelled_by"`
		Reason      string    `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err)
		return
	}
	ride, err := s.rides.CancelRide(r.Context(), rideID, req.CancelledBy, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rideID, err := pathUUID(r, "ride_id")
	if err != nil {
		badRequest(w, err)
		return
	}
	var req struct {
		DriverID uuid.UUID         `json:"driver_id"`
		Status   domain.RideStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err)
		return
	}
	ride, err := s.rides.UpdateRideStatus(r.Context(), rideID, req.DriverID, req.Status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleRating(w http.ResponseWriter, r *http.Request) {
	rideID, err := pathUUID(r, "ride_id")
	if err != nil {
		badRequest(w, err)
		return
	}
	var req struct {
		RaterID uuid.UUID `json:"rater_id"`
		Rating  float32   `json:"rating"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err)
		return
	}
	ride, err := s.rides.RateRide(r.Context(), rideID, req.RaterID, req.Rating)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		badRequest(w, err)
		return
	}
	lng, err := strconv.ParseFloat(q.Get("lng"), 64)
	if err != nil {
		badRequest(w, err)
		return
	}
	radius, _ := strconv.ParseFloat(q.Get("radius_m"), 64)
	rideType := domain.RideType(q.Get("ride_type"))

	drivers, err := s.rides.NearbyDrivers(r.Context(), lat, lng, radius, rideType)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drivers": drivers, "count": len(drivers)})
}

func (s *Server) handleDriverStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DriverID uuid.UUID           `json:"driver_id"`
		Status   domain.DriverStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err)
		return
	}
	if err := s.rides.SetDriverStatus(r.Context(), req.DriverID, req.Status); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRegisterVehicle(w http.ResponseWriter, r *http.Request) {
	var v domain.Vehicle
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		badRequest(w, err)
		return
	}
	if err := s.rides.RegisterVehicle(r.Context(), &v); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePushToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DriverID uuid.UUID `json:"driver_id"`
		Token    string    `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err)
		return
	}
	s.tokens.Set(req.DriverID, req.Token)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var loc domain.DriverLocation
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		badRequest(w, err)
		return
	}
	if err := s.rides.UpdateDriverLocation(r.Context(), &loc); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.pool.Ping(r.Context()); err != nil {
		http.Error(w, "pool not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(200)
	w.Write([]byte("ready"))
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	driverID, err := pathUUID(r, "driver_id")
	if err != nil {
		badRequest(w, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.wsReg.Add(driverID, conn)

	// drain the socket so peer closes are noticed; offers go out via Offer
	go func() {
		defer func() {
			s.wsReg.Remove(driverID)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// statusFor maps dispatch error codes to HTTP statuses.
func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeRideNotFound, domain.CodeDriverNotFound, domain.CodeOfferNotFound:
		return http.StatusNotFound
	case domain.CodeInvalidStatusTransition, domain.CodeRideAlreadyEnded,
		domain.CodeRideNotActive, domain.CodeActiveRideExists, domain.CodeDriverBusy, domain.CodeMatchingInProgress:
		return http.StatusConflict
	case domain.CodeOfferExpired:
		return http.StatusGone
	case domain.CodeInvalidLocation, domain.CodeInvalidPromoCode, domain.CodeInvalidRating:
		return http.StatusBadRequest
	case domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodeNoDriversAvailable, domain.CodeMatchingTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)
	status := statusFor(code)
	if status >= 500 {
		s.logger.Error("request failed", "code", code, "error", err)
	}
	writeJSON(w, status, map[string]any{"error": map[string]any{"code": code, "message": err.Error()}})
}

func badRequest(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func rideAndDriver(r *http.Request) (rideID, driverID uuid.UUID, err error) {
	rideID, err = pathUUID(r, "ride_id")
	if err != nil {
		return
	}
	var req struct {
		DriverID uuid.UUID `json:"driver_id"`
	}
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		return
	}
	driverID = req.DriverID
	return
}

func pathUUID(r *http.Request, key string) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)[key])
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
