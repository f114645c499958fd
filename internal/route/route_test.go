package route

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

type failingPlanner struct{ calls int }

func (f *failingPlanner) Plan(_ context.Context, _, _ models.Coord) (Plan, error) {
	f.calls++
	return Plan{}, errors.New("routing engine down")
}

func TestFallbackNeverFails(t *testing.T) {
	fp := &FallbackPlanner{Inner: &failingPlanner{}}
	p, err := fp.Plan(context.Background(), models.Coord{Lat: 12.9716, Lng: 77.5946}, models.Coord{Lat: 12.9352, Lng: 77.6245})
	if err != nil {
		t.Fatalf("fallback must not error: %v", err)
	}
	if p.DistanceKm <= 0 || p.DurationMin <= 0 {
		t.Fatalf("expected positive estimate, got %+v", p)
	}
	// 40 km/h assumed speed
	wantMin := p.DistanceKm / 40 * 60
	if diff := p.DurationMin - wantMin; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("duration %f, want %f", p.DurationMin, wantMin)
	}
}

func TestFallbackWithoutInner(t *testing.T) {
	fp := &FallbackPlanner{}
	p, err := fp.Plan(context.Background(), models.Coord{}, models.Coord{Lat: 0.1})
	if err != nil || p.DistanceKm <= 0 {
		t.Fatalf("got %+v, %v", p, err)
	}
}

type countingPlanner struct{ calls int }

func (c *countingPlanner) Plan(_ context.Context, _, _ models.Coord) (Plan, error) {
	c.calls++
	return Plan{DistanceKm: 5, DurationMin: 15}, nil
}

func TestCachedPlanner(t *testing.T) {
	inner := &countingPlanner{}
	cp := &CachedPlanner{Inner: inner, Cache: NewCache(time.Minute)}
	a, b := models.Coord{Lat: 1}, models.Coord{Lat: 2}
	for i := 0; i < 3; i++ {
		if _, err := cp.Plan(context.Background(), a, b); err != nil {
			t.Fatal(err)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("expected 1 upstream call, got %d", inner.calls)
	}
}
