package places

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-sync/internal/logging"
	"github.com/example/ride-sync/internal/models"
	"github.com/example/ride-sync/internal/observability"
)

// ErrNotFound is returned by Resolve when the provider has no match for a
// suggestion identifier.
var ErrNotFound = errors.New("place not found")

// Provider is the injected place search capability: free-text suggestions
// and suggestion-to-coordinate resolution.
type Provider interface {
	Suggest(ctx context.Context, query string) ([]models.PlaceSuggestion, error)
	Resolve(ctx context.Context, suggestionID string) (models.ResolvedLocation, error)
}

// Debouncer rate-limits raw keystroke text into provider lookups.
// Each Search restarts a fixed delay window; only the last call within the
// window reaches the provider (trailing-edge debounce). In-flight provider
// requests are never cancelled; responses are sequence numbered and only a
// response newer than the last applied one is delivered, so a slow stale
// response can not overwrite a newer fast one.
type Debouncer struct {
	provider Provider
	delay    time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	timer     *time.Timer
	pending   string
	nextSeq   uint64
	applied   uint64
	onResults func([]models.PlaceSuggestion)
	onError   func(error)
	closed    bool
}

// NewDebouncer builds a debouncer with the given trailing delay. A zero
// delay falls back to the observed 500ms window.
func NewDebouncer(provider Provider, delay, timeout time.Duration, logger *slog.Logger) *Debouncer {
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Debouncer{provider: provider, delay: delay, timeout: timeout, logger: logger}
}

// OnResults registers the callback that receives suggestion sets. Replaces
// any previous registration.
func (d *Debouncer) OnResults(fn func([]models.PlaceSuggestion)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onResults = fn
}

// OnError registers the callback for provider failures. Failures never
// stop the debouncer; the next Search retries normally.
func (d *Debouncer) OnError(fn func(error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onError = fn
}

// Search schedules a lookup for text, restarting the debounce window.
// Empty input short-circuits to an empty result set without contacting
// the provider, and supersedes any in-flight lookup.
func (d *Debouncer) Search(text string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		observability.SearchDebouncedTotal.Inc()
	}
	if text == "" {
		d.nextSeq++
		d.applied = d.nextSeq
		deliver := d.onResults
		d.mu.Unlock()
		if deliver != nil {
			deliver(nil)
		}
		return
	}
	d.pending = text
	d.timer = time.AfterFunc(d.delay, d.fire)
	d.mu.Unlock()
}

// fire runs on the timer goroutine when the window closes.
func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.nextSeq++
	seq := d.nextSeq
	query := d.pending
	d.mu.Unlock()

	observability.SearchRequestsTotal.Inc()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	results, err := d.provider.Suggest(ctx, query)
	d.apply(seq, query, results, err)
}

func (d *Debouncer) apply(seq uint64, query string, results []models.PlaceSuggestion, err error) {
	d.mu.Lock()
	if d.closed || seq <= d.applied {
		stale := !d.closed
		d.mu.Unlock()
		if stale {
			// superseded by a newer search; internal no-op
			observability.StaleResponsesDiscarded.Inc()
			d.logger.Debug("discarding stale search response", "query", query)
		}
		return
	}
	d.applied = seq
	deliver := d.onResults
	fail := d.onError
	d.mu.Unlock()

	if err != nil {
		d.logger.Warn("place search failed", "query", query, "error", err)
		if fail != nil {
			fail(fmt.Errorf("place search %q: %w", query, err))
		}
		return
	}
	if deliver != nil {
		deliver(results)
	}
}

// Resolve looks a chosen suggestion up with the provider. Fails with
// ErrNotFound when the provider has no match.
func (d *Debouncer) Resolve(ctx context.Context, suggestionID string) (models.ResolvedLocation, error) {
	loc, err := d.provider.Resolve(ctx, suggestionID)
	if err != nil {
		return models.ResolvedLocation{}, fmt.Errorf("resolve %s: %w", suggestionID, err)
	}
	return loc, nil
}

// Close stops the pending timer and suppresses any late responses.
// Idempotent.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
