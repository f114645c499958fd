package surge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/observability"
)

const (
	Min = 1.0
	Max = 3.0
)

// CellID buckets a coordinate into a coarse pricing cell (~1.1 km squares).
func CellID(lat, lng float64) string {
	return fmt.Sprintf("%.2f:%.2f", lat, lng)
}

// Engine aggregates per-cell demand and supply and exposes the clamped
// multiplier. The multiplier is recomputed synchronously on every counter
// mutation and cached with a short TTL, so reads never observe a
// half-updated value, only the last fully computed one.
type Engine interface {
	IncrDemand(ctx context.Context, cell string) error
	DecrDemand(ctx context.Context, cell string) error
	IncrSupply(ctx context.Context, cell string) error
	DecrSupply(ctx context.Context, cell string) error
	// Multiplier returns the cached surge for the cell, 1.0 when none is cached.
	Multiplier(ctx context.Context, cell string) float64
}

func clamp(v float64) float64 {
	if v < Min {
		return Min
	}
	if v > Max {
		return Max
	}
	return v
}

// compute applies the surge rule: demand over supply, clamped; an empty or
// negative pool forces the maximum.
func compute(demand, supply int64) float64 {
	if supply <= 0 {
		return Max
	}
	return clamp(float64(demand) / float64(supply))
}

type cellState struct {
	demand, supply int64
	surge          float64
	computedAt     time.Time
}

// MemoryEngine is the in-process Engine for local runs and tests.
type MemoryEngine struct {
	mu    sync.Mutex
	cells map[string]*cellState
	ttl   time.Duration
	now   func() time.Time
}

func NewMemoryEngine(ttl time.Duration) *MemoryEngine {
	return &MemoryEngine{cells: make(map[string]*cellState), ttl: ttl, now: time.Now}
}

func (e *MemoryEngine) cell(id string) *cellState {
	c, ok := e.cells[id]
	if !ok {
		c = &cellState{}
		e.cells[id] = c
	}
	return c
}

func (e *MemoryEngine) mutate(id string, fn func(*cellState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.cell(id)
	fn(c)
	c.surge = compute(c.demand, c.supply)
	c.computedAt = e.now()
	observability.SurgeMultiplier.WithLabelValues(id).Set(c.surge)
}

func (e *MemoryEngine) IncrDemand(_ context.Context, id string) error {
	e.mutate(id, func(c *cellState) { c.demand++ })
	return nil
}

func (e *MemoryEngine) DecrDemand(_ context.Context, id string) error {
	e.mutate(id, func(c *cellState) { c.demand-- })
	return nil
}

func (e *MemoryEngine) IncrSupply(_ context.Context, id string) error {
	e.mutate(id, func(c *cellState) { c.supply++ })
	return nil
}

func (e *MemoryEngine) DecrSupply(_ context.Context, id string) error {
	e.mutate(id, func(c *cellState) { c.supply-- })
	return nil
}

func (e *MemoryEngine) Multiplier(_ context.Context, id string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.cells[id]
	if !ok || c.computedAt.IsZero() || e.now().Sub(c.computedAt) > e.ttl {
		return Min
	}
	return c.surge
}
