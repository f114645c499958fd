package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// fakeUpdater implements GeoUpdater for tests
type fakeUpdater struct {
	failGeo  int // number of times to fail GeoAdd before succeeding
	geoCalls int
	remCalls int
	removed  []string
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	if f.geoCalls <= f.failGeo {
		return errors.New("geo fail")
	}
	return nil
}

func (f *fakeUpdater) ZRem(ctx context.Context, key string, member string) error {
	f.remCalls++
	f.removed = append(f.removed, member)
	return nil
}

func TestApplyWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failGeo: 1}
	loc := models.DriverLocation{DriverID: "d1", Lat: 12.97, Lng: 77.59, Online: true}
	start := time.Now()
	if err := applyWithRetry(context.Background(), f, "drivers:geo", loc, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.geoCalls != 2 {
		t.Fatalf("expected one retry, got %d calls", f.geoCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestApplyWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failGeo: 5}
	loc := models.DriverLocation{DriverID: "d1", Lat: 12.97, Lng: 77.59, Online: true}
	if err := applyWithRetry(context.Background(), f, "drivers:geo", loc, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}

func TestApplyWithRetry_OfflineRemoves(t *testing.T) {
	f := &fakeUpdater{}
	loc := models.DriverLocation{DriverID: "d1", Online: false}
	if err := applyWithRetry(context.Background(), f, "drivers:geo", loc, 3, time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.geoCalls != 0 || f.remCalls != 1 {
		t.Fatalf("expected removal only, got geo=%d rem=%d", f.geoCalls, f.remCalls)
	}
	if len(f.removed) != 1 || f.removed[0] != "d1" {
		t.Fatalf("wrong member removed: %v", f.removed)
	}
}
