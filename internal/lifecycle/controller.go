package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/ride-sync/internal/logging"
	"github.com/example/ride-sync/internal/models"
	"github.com/example/ride-sync/internal/observability"
	"github.com/example/ride-sync/internal/ridestate"
)

// Backend is the REST collaborator the controller sequences calls against.
type Backend interface {
	EstimateFare(ctx context.Context, pickup, dropoff models.ResolvedLocation, rideType string) (models.FareEstimate, error)
	RequestRide(ctx context.Context, pickup, dropoff models.ResolvedLocation, rideType string) (models.Ride, error)
	AcceptRide(ctx context.Context, rideID string) (models.Ride, error)
	StartRide(ctx context.Context, rideID string) (models.Ride, error)
	CompleteRide(ctx context.Context, rideID string) (models.Ride, error)
	CancelRide(ctx context.Context, rideID string, reason models.CancelRequestPayload) (models.Ride, error)
	RideHistory(ctx context.Context) ([]models.Ride, error)
}

// Events is the realtime channel surface the controller needs: topic
// subscription keyed by the active ride.
type Events interface {
	Subscribe(topic string, handler func(topic string, data []byte))
	Unsubscribe(topic string)
}

// Controller sequences the passenger/driver workflow: estimate, request,
// track, accept/start/complete/cancel. REST responses are applied
// optimistically; the realtime subscription stays the source of truth for
// transitions made by the other party. Races between the two resolve
// through the store's status order plus idempotent apply, never through
// arrival time.
type Controller struct {
	backend Backend
	events  Events
	store   *ridestate.Store
	logger  *slog.Logger

	mu          sync.Mutex
	rideTopic   string
	driverTopic string
}

func NewController(backend Backend, events Events, store *ridestate.Store, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Controller{backend: backend, events: events, store: store, logger: logger}
}

// EstimateFare is a pure query.
func (c *Controller) EstimateFare(ctx context.Context, pickup, dropoff models.ResolvedLocation, rideType string) (models.FareEstimate, error) {
	return c.backend.EstimateFare(ctx, pickup, dropoff, rideType)
}

// RequestRide creates the ride and begins tracking it: the store takes the
// returned ride and the channel subscribes to its update topic.
func (c *Controller) RequestRide(ctx context.Context, pickup, dropoff models.ResolvedLocation, rideType string) (models.Ride, error) {
	ride, err := c.backend.RequestRide(ctx, pickup, dropoff, rideType)
	if err != nil {
		return models.Ride{}, err
	}

	c.store.SetCurrentRide(ride)

	c.mu.Lock()
	c.rideTopic = models.RideTopic(ride.ID)
	c.mu.Unlock()
	c.events.Subscribe(models.RideTopic(ride.ID), c.handleRideEvent)
	if ride.DriverID != "" {
		c.trackDriver(ride.DriverID)
	}
	return ride, nil
}

// AcceptRide is the driver-side acknowledgement.
func (c *Controller) AcceptRide(ctx context.Context, rideID string) error {
	return c.transition(ctx, rideID, models.StatusAccepted, func() (models.Ride, error) {
		return c.backend.AcceptRide(ctx, rideID)
	})
}

// StartRide moves the ride into progress.
func (c *Controller) StartRide(ctx context.Context, rideID string) error {
	return c.transition(ctx, rideID, models.StatusInProgress, func() (models.Ride, error) {
		return c.backend.StartRide(ctx, rideID)
	})
}

// CompleteRide finishes the ride; on success tracking stops and the store
// is cleared.
func (c *Controller) CompleteRide(ctx context.Context, rideID string) error {
	if err := c.transition(ctx, rideID, models.StatusCompleted, func() (models.Ride, error) {
		return c.backend.CompleteRide(ctx, rideID)
	}); err != nil {
		return err
	}
	c.stopTracking()
	return nil
}

// CancelRide aborts the ride. Cancellation is only reachable from
// Requested or Accepted; anything else fails locally before the backend is
// touched.
func (c *Controller) CancelRide(ctx context.Context, rideID string, reason models.CancelRequestPayload) error {
	if err := c.transition(ctx, rideID, models.StatusCancelled, func() (models.Ride, error) {
		return c.backend.CancelRide(ctx, rideID, reason)
	}); err != nil {
		return err
	}
	c.stopTracking()
	return nil
}

// RideHistory lists past rides.
func (c *Controller) RideHistory(ctx context.Context) ([]models.Ride, error) {
	return c.backend.RideHistory(ctx)
}

// transition validates the step against the local status, issues the REST
// call, and applies the response optimistically. A REST failure leaves the
// store untouched. A response the store rejects as out of order after a
// successful call is a stale result, absorbed silently: the realtime feed
// has already moved the ride further along.
func (c *Controller) transition(ctx context.Context, rideID string, target models.RideStatus, call func() (models.Ride, error)) error {
	current, ok := c.store.CurrentRide()
	if !ok {
		return ridestate.ErrNoActiveRide
	}
	if current.ID != rideID {
		return fmt.Errorf("ride %s is not the active ride", rideID)
	}
	if current.Status != target && !current.Status.CanTransition(target) {
		observability.LifecycleInconsistenciesTotal.Inc()
		return &ridestate.LifecycleInconsistencyError{RideID: rideID, From: current.Status, To: target}
	}

	ride, err := call()
	if err != nil {
		return err
	}

	if ride.DriverID != "" {
		if err := c.store.AssignDriver(ride.DriverID); err == nil {
			c.trackDriver(ride.DriverID)
		}
	}
	c.applyStatus(ride.Status, "rest")
	return nil
}

// applyStatus applies a reported status, treating an order violation as a
// superseded result rather than a failure.
func (c *Controller) applyStatus(status models.RideStatus, source string) {
	err := c.store.UpdateStatus(status)
	if err == nil {
		return
	}
	var lie *ridestate.LifecycleInconsistencyError
	switch {
	case errors.As(err, &lie):
		observability.StaleResponsesDiscarded.Inc()
		c.logger.Debug("discarding stale status", "source", source, "status", string(status))
	case errors.Is(err, ridestate.ErrNoActiveRide):
		c.logger.Debug("status for no active ride", "source", source, "status", string(status))
	default:
		c.logger.Warn("status apply failed", "source", source, "error", err)
	}
}

// handleRideEvent applies pushed status changes for the active ride.
func (c *Controller) handleRideEvent(topic string, data []byte) {
	var event models.RideStatusEvent
	if err := json.Unmarshal(data, &event); err != nil {
		c.logger.Warn("malformed ride event", "topic", topic, "error", err)
		return
	}
	current, ok := c.store.CurrentRide()
	if !ok || current.ID != event.RideID {
		c.logger.Debug("event for inactive ride", "ride_id", event.RideID)
		return
	}

	if event.DriverID != "" && event.DriverID != current.DriverID {
		if err := c.store.AssignDriver(event.DriverID); err == nil {
			c.trackDriver(event.DriverID)
		}
	}
	c.applyStatus(event.Status, "realtime")

	if event.Status.Terminal() {
		c.stopTracking()
	}
}

// handleDriverLocation feeds pushed positions into the store. Updates for
// a ride that already ended are silently ignored.
func (c *Controller) handleDriverLocation(topic string, data []byte) {
	var event models.DriverLocationEvent
	if err := json.Unmarshal(data, &event); err != nil {
		c.logger.Warn("malformed driver location event", "topic", topic, "error", err)
		return
	}
	loc := models.DriverLocation{
		DriverID:   event.DriverID,
		Coordinate: event.Location,
		Online:     true,
		Updated:    event.Timestamp,
	}
	if err := c.store.UpdateDriverLocation(loc); err != nil {
		observability.StaleResponsesDiscarded.Inc()
		c.logger.Debug("driver location dropped", "driver_id", event.DriverID)
	}
}

// trackDriver subscribes to the driver's location topic, replacing any
// previous driver subscription.
func (c *Controller) trackDriver(driverID string) {
	topic := models.DriverTopic(driverID)
	c.mu.Lock()
	prev := c.driverTopic
	if prev == topic {
		c.mu.Unlock()
		return
	}
	c.driverTopic = topic
	c.mu.Unlock()

	if prev != "" {
		c.events.Unsubscribe(prev)
	}
	c.events.Subscribe(topic, c.handleDriverLocation)
}

// stopTracking unsubscribes the ride's topics and clears the store.
func (c *Controller) stopTracking() {
	c.mu.Lock()
	rideTopic := c.rideTopic
	driverTopic := c.driverTopic
	c.rideTopic = ""
	c.driverTopic = ""
	c.mu.Unlock()

	if rideTopic != "" {
		c.events.Unsubscribe(rideTopic)
	}
	if driverTopic != "" {
		c.events.Unsubscribe(driverTopic)
	}
	c.store.ClearCurrentRide()
}
