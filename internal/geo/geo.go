package geo

import (
	"sync"
	"time"

	"github.com/example/ride-sync/internal/fare"
	"github.com/example/ride-sync/internal/models"
)

// Index tracks the last known position of each driver and answers
// nearest-driver queries for the simulator.
type Index interface {
	Upsert(loc models.DriverLocation)
	Nearby(lat, lng float64, limit int) []models.DriverLocation
}

// MemoryIndex is the in-process fallback when no Redis is configured.
type MemoryIndex struct {
	mu      sync.RWMutex
	drivers map[string]models.DriverLocation
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{drivers: make(map[string]models.DriverLocation)}
}

func (g *MemoryIndex) Upsert(loc models.DriverLocation) {
	g.mu.Lock()
	defer g.mu.Unlock()
	loc.Updated = time.Now()
	g.drivers[loc.DriverID] = loc
}

// naive scan; fine for a dev stand-in
func (g *MemoryIndex) Nearby(lat, lng float64, limit int) []models.DriverLocation {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		loc  models.DriverLocation
		dist float64
	}
	arr := make([]pair, 0, len(g.drivers))
	for _, d := range g.drivers {
		if !d.Online {
			continue
		}
		dist := fare.Haversine(lat, lng, d.Coordinate.Lat, d.Coordinate.Lng)
		arr = append(arr, pair{d, dist})
	}
	n := limit
	if n > len(arr) {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.DriverLocation, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].loc)
	}
	return out
}
