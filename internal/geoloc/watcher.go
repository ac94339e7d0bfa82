package geoloc

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-sync/internal/logging"
	"github.com/example/ride-sync/internal/models"
	"github.com/example/ride-sync/internal/observability"
)

// Classified reasons a reading can fail. The watch itself survives all of
// them; the caller decides whether to keep waiting or tear down.
var (
	ErrPermissionDenied    = errors.New("geolocation permission denied")
	ErrReadingTimeout      = errors.New("geolocation reading timed out")
	ErrPositionUnavailable = errors.New("geolocation position unavailable")
)

// Reading is one position fix from the host platform.
type Reading struct {
	Coord     models.Coordinate
	Accuracy  float64 // meters, 0 when unknown
	Timestamp time.Time
}

// WatchOptions are passed through to the platform provider.
type WatchOptions struct {
	HighAccuracy bool
	// Timeout bounds each individual reading.
	Timeout time.Duration
	// MaximumAge is the oldest cached fix the provider may return.
	// Zero means every reading must be fresh.
	MaximumAge time.Duration
}

// DefaultWatchOptions are what the ride workflow needs: fresh, accurate
// fixes with a bounded wait per reading.
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{HighAccuracy: true, Timeout: 10 * time.Second, MaximumAge: 0}
}

// WatchHandle releases a continuous watch.
type WatchHandle interface {
	Stop()
}

// LocationProvider is the injected capability over the host positioning
// service. Implementations deliver readings and classified errors until
// the returned handle is stopped.
type LocationProvider interface {
	Watch(opts WatchOptions, onReading func(Reading), onError func(error)) (WatchHandle, error)
}

// Watcher wraps a continuous position stream into a single current
// coordinate. Each successful reading overwrites the previous one; errors
// are reported but do not stop the watch.
type Watcher struct {
	provider LocationProvider
	opts     WatchOptions
	logger   *slog.Logger

	mu      sync.Mutex
	handle  WatchHandle
	current models.Coordinate
	hasFix  bool
	stopped bool
}

func NewWatcher(provider LocationProvider, opts WatchOptions, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Watcher{provider: provider, opts: opts, logger: logger}
}

// Start begins the watch. onUpdate fires for every accepted reading,
// onError for every classified failure; either may be nil. Start fails if
// the watcher was already started or stopped.
func (w *Watcher) Start(onUpdate func(models.Coordinate), onError func(error)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return fmt.Errorf("watcher already stopped")
	}
	if w.handle != nil {
		return fmt.Errorf("watcher already started")
	}

	handle, err := w.provider.Watch(w.opts,
		func(r Reading) { w.deliver(r, onUpdate) },
		func(err error) { w.fail(err, onError) },
	)
	if err != nil {
		return fmt.Errorf("start watch: %w", err)
	}
	w.handle = handle
	return nil
}

func (w *Watcher) deliver(r Reading, onUpdate func(models.Coordinate)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if !r.Coord.Valid() {
		w.logger.Warn("discarding invalid reading", "lat", r.Coord.Lat, "lng", r.Coord.Lng)
		return
	}
	w.current = r.Coord
	w.hasFix = true
	observability.GeoReadingsTotal.Inc()
	if onUpdate != nil {
		onUpdate(r.Coord)
	}
}

func (w *Watcher) fail(err error, onError func(error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	observability.GeoErrorsTotal.WithLabelValues(reasonLabel(err)).Inc()
	w.logger.Warn("position error", "error", err)
	if onError != nil {
		onError(err)
	}
}

// Current returns the latest accepted coordinate, false before the first
// fix arrives.
func (w *Watcher) Current() (models.Coordinate, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current, w.hasFix
}

// Stop releases the underlying watch. Idempotent; once it returns no
// further callbacks fire (callback dispatch and Stop serialize on the same
// mutex).
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	handle := w.handle
	w.handle = nil
	w.mu.Unlock()

	if handle != nil {
		handle.Stop()
	}
}

func reasonLabel(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "denied"
	case errors.Is(err, ErrReadingTimeout):
		return "timeout"
	case errors.Is(err, ErrPositionUnavailable):
		return "unavailable"
	default:
		return "other"
	}
}
