package places

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-sync/internal/models"
)

// fakeSearch records queries and lets each call block until released.
type fakeSearch struct {
	mu      sync.Mutex
	queries []string
	gates   map[string]chan struct{} // optional per-query release gate
	results map[string][]models.PlaceSuggestion
	resolve map[string]models.ResolvedLocation
}

func newFakeSearch() *fakeSearch {
	return &fakeSearch{
		gates:   make(map[string]chan struct{}),
		results: make(map[string][]models.PlaceSuggestion),
		resolve: make(map[string]models.ResolvedLocation),
	}
}

func (f *fakeSearch) Suggest(ctx context.Context, query string) ([]models.PlaceSuggestion, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	gate := f.gates[query]
	res := f.results[query]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return res, nil
}

func (f *fakeSearch) Resolve(ctx context.Context, id string) (models.ResolvedLocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	loc, ok := f.resolve[id]
	if !ok {
		return models.ResolvedLocation{}, ErrNotFound
	}
	return loc, nil
}

func (f *fakeSearch) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

func collect(d *Debouncer) func() [][]models.PlaceSuggestion {
	var mu sync.Mutex
	var got [][]models.PlaceSuggestion
	d.OnResults(func(s []models.PlaceSuggestion) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})
	return func() [][]models.PlaceSuggestion {
		mu.Lock()
		defer mu.Unlock()
		return got
	}
}

func TestDebounceCollapsesToLastInput(t *testing.T) {
	f := newFakeSearch()
	f.results["abc"] = []models.PlaceSuggestion{{ID: "p1", PrimaryText: "abc street"}}
	d := NewDebouncer(f, 20*time.Millisecond, time.Second, nil)
	defer d.Close()
	got := collect(d)

	d.Search("a")
	d.Search("ab")
	d.Search("abc")

	time.Sleep(100 * time.Millisecond)

	if calls := f.calls(); len(calls) != 1 || calls[0] != "abc" {
		t.Fatalf("expected exactly one provider call with abc, got %v", calls)
	}
	results := got()
	if len(results) != 1 || len(results[0]) != 1 || results[0][0].ID != "p1" {
		t.Fatalf("expected the abc result set, got %v", results)
	}
}

func TestDebounceEmptyInputShortCircuits(t *testing.T) {
	f := newFakeSearch()
	d := NewDebouncer(f, 10*time.Millisecond, time.Second, nil)
	defer d.Close()
	got := collect(d)

	d.Search("a")
	d.Search("")

	time.Sleep(50 * time.Millisecond)

	if calls := f.calls(); len(calls) != 0 {
		t.Fatalf("empty input must not reach the provider, got %v", calls)
	}
	results := got()
	if len(results) != 1 || results[0] != nil {
		t.Fatalf("expected one empty result set, got %v", results)
	}
}

func TestStaleSlowResponseDiscarded(t *testing.T) {
	f := newFakeSearch()
	slow := make(chan struct{})
	f.gates["a"] = slow
	f.results["a"] = []models.PlaceSuggestion{{ID: "stale"}}
	f.results["ab"] = []models.PlaceSuggestion{{ID: "fresh"}}

	d := NewDebouncer(f, 5*time.Millisecond, time.Second, nil)
	defer d.Close()
	got := collect(d)

	d.Search("a")
	time.Sleep(30 * time.Millisecond) // "a" dispatched, blocked in the provider
	d.Search("ab")
	time.Sleep(30 * time.Millisecond) // "ab" completes first
	close(slow)                       // now the slow "a" response lands
	time.Sleep(30 * time.Millisecond)

	results := got()
	if len(results) != 1 || results[0][0].ID != "fresh" {
		t.Fatalf("stale response must be discarded, got %v", results)
	}
}

func TestResolveNotFound(t *testing.T) {
	f := newFakeSearch()
	f.resolve["known"] = models.ResolvedLocation{Address: "1 Main St", Coordinate: models.Coordinate{Lat: 40, Lng: -74}}
	d := NewDebouncer(f, time.Millisecond, time.Second, nil)
	defer d.Close()

	loc, err := d.Resolve(context.Background(), "known")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if loc.Address != "1 Main St" {
		t.Fatalf("unexpected address %q", loc.Address)
	}

	if _, err := d.Resolve(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
