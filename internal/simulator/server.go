package simulator

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-sync/internal/auth"
	"github.com/example/ride-sync/internal/config"
	"github.com/example/ride-sync/internal/fare"
	"github.com/example/ride-sync/internal/geo"
	"github.com/example/ride-sync/internal/ingest"
	"github.com/example/ride-sync/internal/logging"
	"github.com/example/ride-sync/internal/models"
)

// LocationForwarder pushes driver positions downstream (Kafka in
// production setups, nil in tests).
type LocationForwarder interface {
	ForwardLocation(loc models.DriverLocation) error
}

// Server is the dev stand-in for the ride backend: the REST lifecycle
// endpoints plus the realtime hub the client channel connects to.
type Server struct {
	store       RideStore
	geo         geo.Index
	hub         *Hub
	forwarder   LocationForwarder
	nearbyLimit int
	logger      *slog.Logger
	mux         *mux.Router
}

func NewServer(store RideStore, index geo.Index, hub *Hub, forwarder LocationForwarder, nearbyLimit int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if nearbyLimit <= 0 {
		nearbyLimit = 8
	}
	s := &Server{
		store:       store,
		geo:         index,
		hub:         hub,
		forwarder:   forwarder,
		nearbyLimit: nearbyLimit,
		logger:      logger,
		mux:         mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

// NewServerFromConfig wires storage, geo index and kafka from the
// environment-driven config, with in-memory fallbacks.
func NewServerFromConfig(cfg config.SimulatorConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	var store RideStore
	if cfg.PGDSN != "" {
		if ps, err := NewPostgresStore(cfg.PGDSN); err == nil {
			store = ps
		} else {
			logger.Warn("postgres unavailable, using memory store", "error", err)
		}
	}
	if store == nil {
		store = NewMemoryStore()
	}

	var index geo.Index
	if cfg.RedisAddr != "" {
		index = geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		index = geo.NewMemoryIndex()
	}

	var forwarder LocationForwarder
	if len(cfg.KafkaBrokers) > 0 {
		forwarder = ingest.NewKafkaForwarder(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	return NewServer(store, index, NewHub(logger), forwarder, cfg.NearbyLimit, logger)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/rides/estimate", s.handleEstimate).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/request", s.handleRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{id}/accept", s.transitionHandler(models.StatusAccepted)).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{id}/start", s.transitionHandler(models.StatusInProgress)).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{id}/complete", s.transitionHandler(models.StatusCompleted)).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{id}/cancel", s.transitionHandler(models.StatusCancelled)).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/history", s.handleHistory).Methods("GET")
	s.mux.HandleFunc("/api/v1/drivers/nearby", s.handleNearby).Methods("GET")
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// Hub exposes the realtime hub for wiring and tests.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req models.FareEstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	est := fare.Estimate(
		models.Coordinate{Lat: req.PickupLatitude, Lng: req.PickupLongitude},
		models.Coordinate{Lat: req.DropoffLatitude, Lng: req.DropoffLongitude},
		req.RideType, 1.0)
	writeJSON(w, http.StatusOK, est)
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var req models.RideRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	pickup := models.Coordinate{Lat: req.PickupLatitude, Lng: req.PickupLongitude}
	dest := models.Coordinate{Lat: req.DestinationLatitude, Lng: req.DestinationLongitude}
	if !pickup.Valid() || !dest.Valid() {
		http.Error(w, "invalid coordinates", http.StatusBadRequest)
		return
	}

	est := fare.Estimate(pickup, dest, req.RideType, 1.0)
	ride := models.Ride{
		ID:       uuid.NewString(),
		Status:   models.StatusRequested,
		RideType: req.RideType,
		Pickup: models.ResolvedLocation{
			Address:    req.PickupAddress,
			Coordinate: pickup,
		},
		Destination: models.ResolvedLocation{
			Address:    req.DestinationAddress,
			Coordinate: dest,
		},
		FareAmount:  est.TotalFare,
		PassengerID: s.callerID(r),
		RequestedAt: time.Now().UTC(),
	}
	if err := s.store.SaveRide(&ride); err != nil {
		http.Error(w, "save failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, ride.Wire())
}

// transitionHandler builds the accept/start/complete/cancel endpoints.
// The same status order the client enforces is enforced here, so a stale
// client gets a 409 instead of a corrupted ride.
func (s *Server) transitionHandler(target models.RideStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		ride, err := s.store.GetRide(id)
		if err != nil {
			http.Error(w, "ride not found", http.StatusNotFound)
			return
		}

		if target == models.StatusCancelled {
			var reason models.CancelRequestPayload
			_ = json.NewDecoder(r.Body).Decode(&reason)
			if reason.CancelledBy == "" {
				reason.CancelledBy = "rider"
			}
			s.logger.Info("ride cancelled", "ride_id", id, "by", reason.CancelledBy, "reason", reason.Reason)
		}

		if ride.Status != target {
			if !ride.Status.CanTransition(target) {
				http.Error(w, "conflicting ride status", http.StatusConflict)
				return
			}
			ride.Status = target
			if target == models.StatusAccepted && ride.DriverID == "" {
				ride.DriverID = s.callerID(r)
			}
			if err := s.store.UpdateRide(ride); err != nil {
				http.Error(w, "update failed", http.StatusInternalServerError)
				return
			}
			s.hub.Broadcast(models.RideTopic(ride.ID), models.RideStatusEvent{
				Type:     models.EventRideStatus,
				RideID:   ride.ID,
				Status:   ride.Status,
				DriverID: ride.DriverID,
			})
		}
		writeJSON(w, http.StatusOK, ride.Wire())
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	rides, err := s.store.ListByRider(s.callerID(r))
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	out := make([]models.RideWire, 0, len(rides))
	for _, ride := range rides {
		out = append(out, ride.Wire())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if err1 != nil || err2 != nil {
		http.Error(w, "lat/lng required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.geo.Nearby(lat, lng, s.nearbyLimit))
}

// driverLocationPayload is what driver daemons post.
type driverLocationPayload struct {
	DriverID  string  `json:"driver_id"`
	RideID    string  `json:"ride_id,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var req driverLocationPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	coord := models.Coordinate{Lat: req.Latitude, Lng: req.Longitude}
	if req.DriverID == "" || !coord.Valid() {
		http.Error(w, "driver_id and valid coordinates required", http.StatusBadRequest)
		return
	}

	loc := models.DriverLocation{DriverID: req.DriverID, Coordinate: coord, Online: true, Updated: time.Now().UTC()}
	s.geo.Upsert(loc)
	if s.forwarder != nil {
		if err := s.forwarder.ForwardLocation(loc); err != nil {
			s.logger.Warn("location forward failed", "driver_id", req.DriverID, "error", err)
		}
	}
	s.hub.Broadcast(models.DriverTopic(req.DriverID), models.DriverLocationEvent{
		Type:      models.EventDriverLocation,
		RideID:    req.RideID,
		DriverID:  req.DriverID,
		Location:  coord,
		Timestamp: loc.Updated,
	})
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if bearerToken(r) == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	go s.hub.serve(conn)
}

// callerID pulls the subject out of the bearer token. The simulator trusts
// anything parseable; real verification belongs to the real backend.
func (s *Server) callerID(r *http.Request) string {
	token := bearerToken(r)
	if token == "" {
		return "anonymous"
	}
	id, err := auth.ParseIdentity(token)
	if err != nil {
		// opaque dev tokens act as their own identity
		return token
	}
	return id.Subject
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
