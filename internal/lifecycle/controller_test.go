package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/example/ride-sync/internal/models"
	"github.com/example/ride-sync/internal/ridestate"
)

// fakeBackend answers lifecycle calls from canned rides.
type fakeBackend struct {
	ride     models.Ride
	failNext error
	calls    []string
}

func (b *fakeBackend) record(name string) { b.calls = append(b.calls, name) }

func (b *fakeBackend) EstimateFare(ctx context.Context, pickup, dropoff models.ResolvedLocation, rideType string) (models.FareEstimate, error) {
	b.record("estimate")
	return models.FareEstimate{TotalFare: 12.50, SurgeMultiplier: 1.0}, nil
}

func (b *fakeBackend) RequestRide(ctx context.Context, pickup, dropoff models.ResolvedLocation, rideType string) (models.Ride, error) {
	b.record("request")
	if b.failNext != nil {
		err := b.failNext
		b.failNext = nil
		return models.Ride{}, err
	}
	b.ride.Status = models.StatusRequested
	return b.ride, nil
}

func (b *fakeBackend) respond(name string, status models.RideStatus) (models.Ride, error) {
	b.record(name)
	if b.failNext != nil {
		err := b.failNext
		b.failNext = nil
		return models.Ride{}, err
	}
	r := b.ride
	r.Status = status
	return r, nil
}

func (b *fakeBackend) AcceptRide(ctx context.Context, rideID string) (models.Ride, error) {
	return b.respond("accept", models.StatusAccepted)
}

func (b *fakeBackend) StartRide(ctx context.Context, rideID string) (models.Ride, error) {
	return b.respond("start", models.StatusInProgress)
}

func (b *fakeBackend) CompleteRide(ctx context.Context, rideID string) (models.Ride, error) {
	return b.respond("complete", models.StatusCompleted)
}

func (b *fakeBackend) CancelRide(ctx context.Context, rideID string, reason models.CancelRequestPayload) (models.Ride, error) {
	return b.respond("cancel", models.StatusCancelled)
}

func (b *fakeBackend) RideHistory(ctx context.Context) ([]models.Ride, error) {
	b.record("history")
	return []models.Ride{b.ride}, nil
}

// fakeEvents records subscriptions and lets tests push frames through the
// registered handlers.
type fakeEvents struct {
	handlers map[string]func(string, []byte)
	subs     []string
	unsubs   []string
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{handlers: make(map[string]func(string, []byte))}
}

func (e *fakeEvents) Subscribe(topic string, handler func(string, []byte)) {
	e.handlers[topic] = handler
	e.subs = append(e.subs, topic)
}

func (e *fakeEvents) Unsubscribe(topic string) {
	delete(e.handlers, topic)
	e.unsubs = append(e.unsubs, topic)
}

func (e *fakeEvents) push(t *testing.T, topic string, payload any) {
	t.Helper()
	h, ok := e.handlers[topic]
	if !ok {
		t.Fatalf("no handler for %s", topic)
	}
	data, _ := json.Marshal(payload)
	h(topic, data)
}

func newTestController() (*Controller, *fakeBackend, *fakeEvents, *ridestate.Store) {
	backend := &fakeBackend{ride: models.Ride{ID: "r1", PassengerID: "p1", RideType: models.RideTypeStandard, FareAmount: 12.50}}
	events := newFakeEvents()
	store := ridestate.NewStore(nil)
	return NewController(backend, events, store, nil), backend, events, store
}

func TestRequestTrackComplete(t *testing.T) {
	c, _, events, store := newTestController()
	ctx := context.Background()

	ride, err := c.RequestRide(ctx,
		models.ResolvedLocation{Address: "A", Coordinate: models.Coordinate{Lat: 40, Lng: -74}},
		models.ResolvedLocation{Address: "B", Coordinate: models.Coordinate{Lat: 40.1, Lng: -74.1}},
		models.RideTypeStandard)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if got, _ := store.CurrentRide(); got.Status != models.StatusRequested {
		t.Fatalf("expected requested, got %s", got.Status)
	}
	if len(events.subs) != 1 || events.subs[0] != "ride_r1_update" {
		t.Fatalf("expected ride topic subscription, got %v", events.subs)
	}

	// other party accepts via realtime push
	events.push(t, "ride_r1_update", models.RideStatusEvent{
		Type: models.EventRideStatus, RideID: ride.ID, Status: models.StatusAccepted, DriverID: "d7",
	})
	got, _ := store.CurrentRide()
	if got.Status != models.StatusAccepted || got.DriverID != "d7" {
		t.Fatalf("expected accepted with driver, got %+v", got)
	}
	if _, ok := events.handlers["driver_d7_location"]; !ok {
		t.Fatal("driver topic must be subscribed once a driver is known")
	}

	// driver location flows into the store
	events.push(t, "driver_d7_location", models.DriverLocationEvent{
		Type: models.EventDriverLocation, RideID: ride.ID, DriverID: "d7",
		Location: models.Coordinate{Lat: 40.05, Lng: -74.05},
	})
	if loc, ok := store.DriverLocation(); !ok || loc.Coordinate.Lat != 40.05 {
		t.Fatalf("expected driver location, got %+v ok=%v", loc, ok)
	}

	if err := c.StartRide(ctx, ride.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.CompleteRide(ctx, ride.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, ok := store.CurrentRide(); ok {
		t.Fatal("store must be cleared after completion")
	}
	if len(events.handlers) != 0 {
		t.Fatalf("all topics must be unsubscribed, left %v", events.handlers)
	}
}

func TestCancelDuringInProgressRejectedLocally(t *testing.T) {
	c, backend, events, store := newTestController()
	ctx := context.Background()

	if _, err := c.RequestRide(ctx, models.ResolvedLocation{}, models.ResolvedLocation{}, models.RideTypeStandard); err != nil {
		t.Fatal(err)
	}
	events.push(t, "ride_r1_update", models.RideStatusEvent{RideID: "r1", Status: models.StatusAccepted, DriverID: "d1"})
	if err := c.StartRide(ctx, "r1"); err != nil {
		t.Fatal(err)
	}

	calls := len(backend.calls)
	err := c.CancelRide(ctx, "r1", models.CancelRequestPayload{CancelledBy: "rider"})
	var lie *ridestate.LifecycleInconsistencyError
	if !errors.As(err, &lie) {
		t.Fatalf("expected lifecycle inconsistency, got %v", err)
	}
	if len(backend.calls) != calls {
		t.Fatal("rejected cancel must not reach the backend")
	}
	if got, _ := store.CurrentRide(); got.Status != models.StatusInProgress {
		t.Fatalf("store must remain in_progress, got %s", got.Status)
	}
}

func TestStaleRealtimeEventDoesNotRegress(t *testing.T) {
	c, _, events, store := newTestController()
	ctx := context.Background()

	if _, err := c.RequestRide(ctx, models.ResolvedLocation{}, models.ResolvedLocation{}, models.RideTypeStandard); err != nil {
		t.Fatal(err)
	}
	events.push(t, "ride_r1_update", models.RideStatusEvent{RideID: "r1", Status: models.StatusAccepted, DriverID: "d1"})
	if err := c.StartRide(ctx, "r1"); err != nil {
		t.Fatal(err)
	}

	// duplicate/stale Accepted push arrives after the ride moved on
	events.push(t, "ride_r1_update", models.RideStatusEvent{RideID: "r1", Status: models.StatusAccepted, DriverID: "d1"})

	if got, _ := store.CurrentRide(); got.Status != models.StatusInProgress {
		t.Fatalf("stale event must not regress status, got %s", got.Status)
	}
}

func TestBackendFailureLeavesStoreUnchanged(t *testing.T) {
	c, backend, events, store := newTestController()
	ctx := context.Background()

	if _, err := c.RequestRide(ctx, models.ResolvedLocation{}, models.ResolvedLocation{}, models.RideTypeStandard); err != nil {
		t.Fatal(err)
	}
	events.push(t, "ride_r1_update", models.RideStatusEvent{RideID: "r1", Status: models.StatusAccepted, DriverID: "d1"})

	backend.failNext = errors.New("backend down")
	if err := c.StartRide(ctx, "r1"); err == nil {
		t.Fatal("expected backend error")
	}
	if got, _ := store.CurrentRide(); got.Status != models.StatusAccepted {
		t.Fatalf("failed call must not mutate the store, got %s", got.Status)
	}
}

func TestTerminalRealtimeEventStopsTracking(t *testing.T) {
	c, _, events, store := newTestController()
	ctx := context.Background()

	if _, err := c.RequestRide(ctx, models.ResolvedLocation{}, models.ResolvedLocation{}, models.RideTypeStandard); err != nil {
		t.Fatal(err)
	}
	// driver cancels from their side: the push is authoritative
	events.push(t, "ride_r1_update", models.RideStatusEvent{RideID: "r1", Status: models.StatusCancelled})

	if _, ok := store.CurrentRide(); ok {
		t.Fatal("store must clear on pushed cancellation")
	}
	if len(events.handlers) != 0 {
		t.Fatalf("topics must be unsubscribed, left %v", events.handlers)
	}
}

func TestLateDriverLocationIgnoredAfterCompletion(t *testing.T) {
	c, _, events, store := newTestController()
	ctx := context.Background()

	if _, err := c.RequestRide(ctx, models.ResolvedLocation{}, models.ResolvedLocation{}, models.RideTypeStandard); err != nil {
		t.Fatal(err)
	}
	events.push(t, "ride_r1_update", models.RideStatusEvent{RideID: "r1", Status: models.StatusAccepted, DriverID: "d1"})
	handler := events.handlers["driver_d1_location"]
	if err := c.StartRide(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	if err := c.CompleteRide(ctx, "r1"); err != nil {
		t.Fatal(err)
	}

	// a location frame that was already in flight when the ride completed
	data, _ := json.Marshal(models.DriverLocationEvent{DriverID: "d1", Location: models.Coordinate{Lat: 1, Lng: 1}})
	handler("driver_d1_location", data)

	if _, ok := store.DriverLocation(); ok {
		t.Fatal("late driver location must be ignored")
	}
}
