package ridestate

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/ride-sync/internal/logging"
	"github.com/example/ride-sync/internal/models"
	"github.com/example/ride-sync/internal/observability"
)

// ErrNoActiveRide is returned when a mutation arrives with no current ride
// to apply it to.
var ErrNoActiveRide = errors.New("no active ride")

// LifecycleInconsistencyError reports a status transition that violates
// the ride lifecycle order. The offending transition is rejected and the
// last valid status kept.
type LifecycleInconsistencyError struct {
	RideID string
	From   models.RideStatus
	To     models.RideStatus
}

func (e *LifecycleInconsistencyError) Error() string {
	return fmt.Sprintf("lifecycle inconsistency on ride %s: %s -> %s", e.RideID, e.From, e.To)
}

// Change is the snapshot delivered to observers after each mutation.
type Change struct {
	Ride           models.Ride
	HasRide        bool
	DriverLocation *models.DriverLocation
}

// Store owns the client's view of the active ride. Mutations arrive from
// two goroutines in practice, the REST caller and the realtime read loop;
// each is applied atomically and observers only ever see complete states,
// delivered one at a time in mutation order.
type Store struct {
	logger *slog.Logger

	mu        sync.Mutex
	current   *models.Ride
	driverLoc *models.DriverLocation
	observers map[int]func(Change)
	nextObs   int
}

func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Store{logger: logger, observers: make(map[int]func(Change))}
}

// SetCurrentRide installs ride as the active ride, replacing any previous
// one and clearing stale driver location state.
func (s *Store) SetCurrentRide(ride models.Ride) {
	s.mu.Lock()
	r := ride
	s.current = &r
	s.driverLoc = nil
	s.deliverLocked(s.snapshotLocked())
}

// UpdateStatus applies newStatus to the active ride. Applying the current
// status again is an idempotent no-op. An out-of-order transition is
// rejected with *LifecycleInconsistencyError and the stored status is left
// unchanged.
func (s *Store) UpdateStatus(newStatus models.RideStatus) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return ErrNoActiveRide
	}
	if s.current.Status == newStatus {
		s.mu.Unlock()
		return nil
	}
	if !s.current.Status.CanTransition(newStatus) {
		err := &LifecycleInconsistencyError{RideID: s.current.ID, From: s.current.Status, To: newStatus}
		s.mu.Unlock()
		observability.LifecycleInconsistenciesTotal.Inc()
		s.logger.Warn("rejected status transition", "ride_id", err.RideID, "from", string(err.From), "to", string(err.To))
		return err
	}
	s.current.Status = newStatus
	s.deliverLocked(s.snapshotLocked())
	return nil
}

// AssignDriver records the driver on the active ride once known.
func (s *Store) AssignDriver(driverID string) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return ErrNoActiveRide
	}
	if s.current.DriverID == driverID {
		s.mu.Unlock()
		return nil
	}
	s.current.DriverID = driverID
	s.deliverLocked(s.snapshotLocked())
	return nil
}

// UpdateDriverLocation overwrites the tracked driver position. Updates are
// accepted only while a ride with a matching driver exists and is not in a
// terminal state; anything else is silently dropped by the caller on
// ErrNoActiveRide.
func (s *Store) UpdateDriverLocation(loc models.DriverLocation) error {
	s.mu.Lock()
	if s.current == nil || s.current.DriverID != loc.DriverID || s.current.Status.Terminal() {
		s.mu.Unlock()
		return ErrNoActiveRide
	}
	l := loc
	s.driverLoc = &l
	s.deliverLocked(s.snapshotLocked())
	return nil
}

// ClearCurrentRide drops the active ride and driver location.
func (s *Store) ClearCurrentRide() {
	s.mu.Lock()
	s.current = nil
	s.driverLoc = nil
	s.deliverLocked(s.snapshotLocked())
}

// CurrentRide returns a copy of the active ride, false when none is held.
func (s *Store) CurrentRide() (models.Ride, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return models.Ride{}, false
	}
	return *s.current, true
}

// DriverLocation returns the last accepted driver position for the active
// ride.
func (s *Store) DriverLocation() (models.DriverLocation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.driverLoc == nil {
		return models.DriverLocation{}, false
	}
	return *s.driverLoc, true
}

// Subscribe registers an observer; the returned func removes it.
// Callbacks run synchronously on the mutating goroutine, one at a time in
// mutation order; they must not call back into the store.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Store) snapshotLocked() Change {
	var change Change
	if s.current != nil {
		change.Ride = *s.current
		change.HasRide = true
	}
	if s.driverLoc != nil {
		l := *s.driverLoc
		change.DriverLocation = &l
	}
	return change
}

// deliverLocked hands change to every observer while still holding s.mu,
// then releases it. Keeping the lock across delivery is what guarantees
// observers see snapshots serially and in mutation order even with the
// REST path and the realtime read loop mutating concurrently. Observers
// must not call back into the store and should return quickly.
func (s *Store) deliverLocked(change Change) {
	defer s.mu.Unlock()
	for _, fn := range s.observers {
		fn(change)
	}
}
