package geo

import (
	"context"
	"math"
	"sync"
)

// Index tracks live positions for drivers currently eligible for offers and
// answers nearest-candidate queries. It is best-effort: a driver may still
// show up after going offline or being claimed by a concurrent dispatch, and
// callers re-verify driver status under lock before committing an assignment.
type Index interface {
	// Add registers or moves a driver. Idempotent.
	Add(ctx context.Context, driverID string, lat, lng float64) error
	// Remove drops a driver from the pool. Idempotent.
	Remove(ctx context.Context, driverID string) error
	// Nearby returns up to limit driver ids within radiusKm of the query
	// point, ordered by increasing distance.
	Nearby(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]string, error)
}

type entry struct {
	lat, lng float64
}

// MemoryIndex is the in-process Index used for local runs and tests.
type MemoryIndex struct {
	mu      sync.RWMutex
	drivers map[string]entry
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{drivers: make(map[string]entry)}
}

func (g *MemoryIndex) Add(_ context.Context, driverID string, lat, lng float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.drivers[driverID] = entry{lat: lat, lng: lng}
	return nil
}

func (g *MemoryIndex) Remove(_ context.Context, driverID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.drivers, driverID)
	return nil
}

// naive scan; the Redis GEO impl covers real deployments
func (g *MemoryIndex) Nearby(_ context.Context, lat, lng, radiusKm float64, limit int) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		id   string
		dist float64
	}
	arr := make([]pair, 0, len(g.drivers))
	for id, e := range g.drivers {
		d := HaversineKm(lat, lng, e.lat, e.lng)
		if d > radiusKm {
			continue
		}
		arr = append(arr, pair{id, d})
	}
	// partial selection sort for top-N
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
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].id)
	}
	return out, nil
}

// HaversineKm is the great-circle distance in kilometers.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
