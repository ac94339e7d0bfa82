package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-sync/internal/api"
	"github.com/example/ride-sync/internal/auth"
	"github.com/example/ride-sync/internal/config"
	"github.com/example/ride-sync/internal/lifecycle"
	"github.com/example/ride-sync/internal/logging"
	"github.com/example/ride-sync/internal/models"
	"github.com/example/ride-sync/internal/places"
	"github.com/example/ride-sync/internal/realtime"
	"github.com/example/ride-sync/internal/ridestate"
)

func main() {
	var (
		pickup     = flag.String("pickup", "40.7580,-73.9855", "pickup as lat,lng")
		pickupAddr = flag.String("pickup-addr", "Times Square", "pickup address")
		dest       = flag.String("dest", "40.6413,-73.7781", "destination as lat,lng")
		destAddr   = flag.String("dest-addr", "JFK Airport", "destination address")
		destQuery  = flag.String("dest-query", "", "resolve destination through the places API instead of -dest")
		rideType   = flag.String("ride-type", models.RideTypeStandard, "ride type")
	)
	flag.Parse()

	cfg, err := config.LoadClientConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	identity, err := auth.ParseIdentity(cfg.AuthToken)
	if err != nil {
		logger.Warn("token is not a parseable JWT, using it as an opaque bearer token", "error", err)
	} else if identity.Expired(time.Now()) {
		logger.Error("auth token is expired", "subject", identity.Subject)
		os.Exit(1)
	} else {
		logger.Info("riding as", "subject", identity.Subject)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pickupLoc, err := parseLocation(*pickup, *pickupAddr)
	if err != nil {
		logger.Error("bad -pickup", "error", err)
		os.Exit(1)
	}

	var destLoc models.ResolvedLocation
	if *destQuery != "" {
		destLoc, err = resolveDestination(ctx, cfg, *destQuery)
	} else {
		destLoc, err = parseLocation(*dest, *destAddr)
	}
	if err != nil {
		logger.Error("bad destination", "error", err)
		os.Exit(1)
	}

	channel := realtime.NewChannel(realtime.NewWSTransport(), cfg.RealtimeURL, logger)
	channel.SetReconnectPolicy(cfg.ReconnectBase, cfg.ReconnectMax)
	if err := channel.Connect(ctx, cfg.AuthToken); err != nil {
		logger.Error("realtime connect failed", "error", err)
		os.Exit(1)
	}
	defer channel.Disconnect()

	store := ridestate.NewStore(logger)
	backend := api.NewClient(cfg.APIBaseURL, cfg.AuthToken, cfg.RequestTimeout)
	controller := lifecycle.NewController(backend, channel, store, logger)

	done := make(chan models.RideStatus, 1)
	var lastStatus models.RideStatus
	var lastSeen time.Time
	unsubscribe := store.Subscribe(func(ch ridestate.Change) {
		if !ch.HasRide {
			return
		}
		if ch.Ride.Status != lastStatus {
			lastStatus = ch.Ride.Status
			logger.Info("ride update", "ride", ch.Ride.ID, "status", ch.Ride.Status, "driver", ch.Ride.DriverID)
		}
		if loc := ch.DriverLocation; loc != nil && loc.Updated.After(lastSeen) {
			lastSeen = loc.Updated
			logger.Info("driver position", "driver", loc.DriverID, "lat", loc.Coordinate.Lat, "lng", loc.Coordinate.Lng)
		}
		if ch.Ride.Status.Terminal() {
			select {
			case done <- ch.Ride.Status:
			default:
			}
		}
	})
	defer unsubscribe()

	estimate, err := backend.EstimateFare(ctx, pickupLoc, destLoc, *rideType)
	if err != nil {
		logger.Error("fare estimate failed", "error", err)
		os.Exit(1)
	}
	logger.Info("fare estimate", "total", estimate.TotalFare, "distance_m", estimate.EstimatedDistance)

	ride, err := controller.RequestRide(ctx, pickupLoc, destLoc, *rideType)
	if err != nil {
		logger.Error("ride request failed", "error", err)
		os.Exit(1)
	}
	logger.Info("ride requested", "ride", ride.ID, "fare", ride.FareAmount)

	select {
	case status := <-done:
		logger.Info("ride finished", "status", status)
	case <-ctx.Done():
		// best effort cancel on the way out; rejected once a driver
		// has started the trip
		cancelCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
		defer cancel()
		if err := controller.CancelRide(cancelCtx, ride.ID, models.CancelRequestPayload{
			CancelledBy: "rider", Reason: "client shutdown",
		}); err != nil {
			logger.Warn("cancel on shutdown failed", "error", err)
		}
	}
}

func parseLocation(coord, address string) (models.ResolvedLocation, error) {
	parts := strings.SplitN(coord, ",", 2)
	if len(parts) != 2 {
		return models.ResolvedLocation{}, fmt.Errorf("want lat,lng, got %q", coord)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return models.ResolvedLocation{}, err
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return models.ResolvedLocation{}, err
	}
	loc := models.ResolvedLocation{Address: address, Coordinate: models.Coordinate{Lat: lat, Lng: lng}}
	if !loc.Coordinate.Valid() {
		return models.ResolvedLocation{}, fmt.Errorf("coordinate out of range: %q", coord)
	}
	return loc, nil
}

// resolveDestination runs one debounced search and resolves the top
// suggestion, the same path an interactive search box takes.
func resolveDestination(ctx context.Context, cfg config.ClientConfig, query string) (models.ResolvedLocation, error) {
	provider := places.NewGoogleProvider(cfg.PlacesEndpoint, cfg.PlacesAPIKey)
	debouncer := places.NewDebouncer(provider, cfg.SearchDebounce, cfg.SearchTimeout, nil)
	defer debouncer.Close()

	type outcome struct {
		suggestions []models.PlaceSuggestion
		err         error
	}
	ch := make(chan outcome, 1)
	debouncer.OnResults(func(s []models.PlaceSuggestion) {
		select {
		case ch <- outcome{suggestions: s}:
		default:
		}
	})
	debouncer.OnError(func(err error) {
		select {
		case ch <- outcome{err: err}:
		default:
		}
	})
	debouncer.Search(query)

	select {
	case out := <-ch:
		if out.err != nil {
			return models.ResolvedLocation{}, out.err
		}
		if len(out.suggestions) == 0 {
			return models.ResolvedLocation{}, fmt.Errorf("no places matched %q", query)
		}
		return debouncer.Resolve(ctx, out.suggestions[0].ID)
	case <-ctx.Done():
		return models.ResolvedLocation{}, ctx.Err()
	}
}
