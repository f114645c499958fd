package route

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// Plan is the routed path between two points.
type Plan struct {
	DistanceKm  float64
	DurationMin float64
	Polyline    string
}

// Planner resolves a drivable route between two coordinates.
type Planner interface {
	Plan(ctx context.Context, origin, destination models.Coord) (Plan, error)
}

// fallbackAvgSpeedKmh is the assumed city speed when no routing engine answers.
const fallbackAvgSpeedKmh = 40.0

// Estimate is the great-circle fallback. It never fails, only degrades
// precision, so route-provider outages cannot block ride creation.
func Estimate(origin, destination models.Coord) Plan {
	km := geo.HaversineKm(origin.Lat, origin.Lng, destination.Lat, destination.Lng)
	return Plan{
		DistanceKm:  km,
		DurationMin: km / fallbackAvgSpeedKmh * 60,
	}
}

// FallbackPlanner wraps a real planner and absorbs its failures.
type FallbackPlanner struct {
	Inner  Planner // may be nil
	Logger *slog.Logger
}

func (f *FallbackPlanner) Plan(ctx context.Context, origin, destination models.Coord) (Plan, error) {
	if f.Inner != nil {
		p, err := f.Inner.Plan(ctx, origin, destination)
		if err == nil {
			return p, nil
		}
		if f.Logger != nil {
			f.Logger.Warn("route planner failed, using haversine estimate", "error", err)
		}
	}
	return Estimate(origin, destination), nil
}

// Cache is a tiny in-memory TTL cache for route lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	p  Plan
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f->%.6f,%.6f", a.Lat, a.Lng, b.Lat, b.Lng)
}

func (c *Cache) Get(a, b models.Coord) (Plan, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return Plan{}, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return Plan{}, false
	}
	return e.p, true
}

func (c *Cache) Set(a, b models.Coord, p Plan) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{p: p, ts: time.Now()}
	c.mu.Unlock()
}

// CachedPlanner consults the cache before the wrapped planner.
type CachedPlanner struct {
	Inner Planner
	Cache *Cache
}

func (c *CachedPlanner) Plan(ctx context.Context, origin, destination models.Coord) (Plan, error) {
	if p, ok := c.Cache.Get(origin, destination); ok {
		return p, nil
	}
	p, err := c.Inner.Plan(ctx, origin, destination)
	if err != nil {
		return Plan{}, err
	}
	c.Cache.Set(origin, destination, p)
	return p, nil
}
