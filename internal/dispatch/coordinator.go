// Package dispatch orchestrates candidate selection, the offer protocol and
// ride lifecycle operations. Mutual exclusion is per entity, always acquired
// ride first, then driver.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/pricing"
	"github.com/example/ride-dispatch/internal/route"
	"github.com/example/ride-dispatch/internal/scheduler"
	"github.com/example/ride-dispatch/internal/settlement"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/surge"
)

// Config carries the dispatch tunables.
type Config struct {
	SearchRadiusKm float64
	CandidateLimit int
	OfferTimeout   time.Duration
	NoShowWait     time.Duration
}

func DefaultConfig() Config {
	return Config{
		SearchRadiusKm: 5,
		CandidateLimit: 5,
		OfferTimeout:   30 * time.Second,
		NoShowWait:     5 * time.Minute,
	}
}

// Coordinator drives each ride through its lifecycle under concurrent
// mutation from riders, drivers and timers.
type Coordinator struct {
	Rides      storage.RideStore
	Drivers    storage.DriverStore
	Geo        geo.Index
	Surge      surge.Engine
	Notifier   notify.Notifier
	Settlement settlement.Settlement
	Sched      scheduler.Scheduler
	Planner    route.Planner
	Fares      pricing.Config
	Cfg        Config
	Logger     *slog.Logger

	bus       events.Bus
	rideLocks *keyedMutex
	drvLocks  *keyedMutex
	now       func() time.Time
}

// New finishes Coordinator construction; the match-trigger bus is attached
// separately because it usually wants this coordinator as its handler.
func New(c *Coordinator) *Coordinator {
	c.rideLocks = newKeyedMutex()
	c.drvLocks = newKeyedMutex()
	c.now = time.Now
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Notifier == nil {
		c.Notifier = notify.Nop{}
	}
	return c
}

func (c *Coordinator) SetBus(b events.Bus) { c.bus = b }

// enqueue publishes the next match trigger for a ride. The attempt number is
// always persisted counter + 1, which is what the fence admits.
func (c *Coordinator) enqueue(ctx context.Context, r *models.Ride) {
	if c.bus == nil {
		return
	}
	t := models.MatchTrigger{
		Event:   models.EventRideSearching,
		RideID:  r.ID,
		Attempt: r.SearchAttempt + 1,
	}
	if err := c.bus.PublishMatchTrigger(ctx, t); err != nil {
		c.Logger.Error("match trigger publish failed", "ride_id", r.ID, "error", err)
	}
}

// HandleMatchTrigger processes one match trigger. Duplicates and reordered
// deliveries are expected; the status check and attempt fence make them
// no-ops. It never returns an error: every outcome here is terminal for the
// trigger itself.
func (c *Coordinator) HandleMatchTrigger(ctx context.Context, t models.MatchTrigger) {
	if t.Event != models.EventRideSearching {
		return
	}
	start := c.now()

	unlockRide := c.rideLocks.Lock(t.RideID)

	ride, err := c.Rides.GetRide(ctx, t.RideID)
	if err != nil {
		unlockRide()
		c.Logger.Error("trigger for unknown ride", "ride_id", t.RideID, "error", err)
		return
	}
	if ride.Status != models.RideSearching {
		unlockRide()
		return
	}
	if ride.SearchAttempt != t.Attempt-1 {
		unlockRide()
		observability.StaleTriggers.Inc()
		c.Logger.Info("stale match trigger discarded",
			"ride_id", t.RideID, "attempt", t.Attempt, "persisted", ride.SearchAttempt)
		return
	}

	candidates := t.DriverIDsHint
	if len(candidates) == 0 {
		candidates, err = c.Geo.Nearby(ctx, ride.Pickup.Lat, ride.Pickup.Lng,
			c.Cfg.SearchRadiusKm, c.Cfg.CandidateLimit)
		if err != nil {
			unlockRide()
			c.Logger.Error("geo query failed", "ride_id", t.RideID, "error", err)
			return
		}
	}

	// drivers that already passed on this ride never see it again
	eligible := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if !ride.Rejected(id) {
			eligible = append(eligible, id)
		}
	}
	if len(eligible) == 0 {
		unlockRide()
		observability.NoCandidates.Inc()
		return
	}

	for _, driverID := range eligible {
		offered, err := c.tryOffer(ctx, ride, driverID)
		if err != nil {
			unlockRide()
			c.Logger.Error("offer attempt failed", "ride_id", ride.ID, "driver_id", driverID, "error", err)
			return
		}
		if !offered {
			continue
		}
		offer := models.Offer{
			RideID:       ride.ID,
			Pickup:       ride.Pickup,
			Drop:         ride.Drop,
			FareEstimate: c.Fares.Estimate(ride.PlannedDistanceKm, ride.PlannedDurationMin),
			TimeoutSec:   int(c.Cfg.OfferTimeout / time.Second),
		}
		unlockRide()

		// outside the locks: notify is fire-and-forget, the timer guards itself
		if err := c.Notifier.OfferRide(driverID, offer); err != nil {
			c.Logger.Warn("offer notify failed", "ride_id", ride.ID, "driver_id", driverID, "error", err)
		}
		c.Sched.After(c.Cfg.OfferTimeout, func() {
			c.expireOffer(context.Background(), ride.ID, driverID)
		})
		observability.OffersTotal.Inc()
		observability.DispatchLatency.Observe(c.now().Sub(start).Seconds())
		c.Logger.Info("ride offered", "ride_id", ride.ID, "driver_id", driverID)
		return
	}

	// every candidate failed re-verification: same as no candidates
	unlockRide()
	observability.NoCandidates.Inc()
}

// tryOffer locks a candidate, re-verifies it is still ONLINE (the geo index
// is eventually consistent) and commits the offer. Caller holds the ride lock.
func (c *Coordinator) tryOffer(ctx context.Context, ride *models.Ride, driverID string) (bool, error) {
	unlockDrv := c.drvLocks.Lock(driverID)
	defer unlockDrv()

	driver, err := c.Drivers.GetDriver(ctx, driverID)
	if err != nil {
		return false, nil // vanished driver: try the next candidate
	}
	if driver.Status != models.DriverOnline {
		return false, nil
	}

	now := c.now()
	ride.DriverID = driver.ID
	if err := lifecycle.TransitionRide(ride, models.RideOffered, now); err != nil {
		ride.DriverID = ""
		return false, err
	}
	if err := lifecycle.TransitionDriver(driver, models.DriverBusy, now); err != nil {
		return false, err
	}
	if err := c.Rides.SaveRide(ctx, ride); err != nil {
		return false, err
	}
	if err := c.Drivers.SaveDriver(ctx, driver); err != nil {
		return false, err
	}
	if err := c.Geo.Remove(ctx, driver.ID); err != nil {
		c.Logger.Warn("geo remove failed", "driver_id", driver.ID, "error", err)
	}
	c.bumpSupply(ctx, driver, -1)
	observability.DriversOnline.Dec()
	return true, nil
}

// expireOffer fires when the offer deadline passes. If the ride moved on
// (accepted, cancelled, re-dispatched) it is a safe no-op.
func (c *Coordinator) expireOffer(ctx context.Context, rideID, driverID string) {
	released, err := c.releaseOffer(ctx, rideID, driverID)
	if err != nil {
		c.Logger.Error("offer expiry failed", "ride_id", rideID, "error", err)
		return
	}
	if released {
		observability.TimeoutsTotal.Inc()
		c.Logger.Info("offer timed out", "ride_id", rideID, "driver_id", driverID)
	}
}

// releaseOffer rolls an OFFERED ride back to SEARCHING: the driver joins the
// rejected list, returns to ONLINE and the pool, the fence advances and a
// fresh trigger re-enters the pipeline. Returns false when the ride is no
// longer offered to that driver.
func (c *Coordinator) releaseOffer(ctx context.Context, rideID, driverID string) (bool, error) {
	unlockRide := c.rideLocks.Lock(rideID)

	ride, err := c.Rides.GetRide(ctx, rideID)
	if err != nil {
		unlockRide()
		return false, err
	}
	if ride.Status != models.RideOffered || ride.DriverID != driverID {
		unlockRide()
		return false, nil
	}

	now := c.now()
	ride.RejectedDriverIDs = append(ride.RejectedDriverIDs, driverID)
	if err := lifecycle.TransitionRide(ride, models.RideSearching, now); err != nil {
		unlockRide()
		return false, err
	}
	ride.SearchAttempt++
	if err := c.Rides.SaveRide(ctx, ride); err != nil {
		unlockRide()
		return false, err
	}

	if err := c.returnDriverToPool(ctx, driverID, func(*models.Driver) {}); err != nil {
		c.Logger.Error("driver release failed", "driver_id", driverID, "error", err)
	}
	unlockRide()

	// re-enqueue and notify outside the locks
	c.enqueue(ctx, ride)
	c.Notifier.RideChanged(ride, "ride_searching")
	return true, nil
}

// returnDriverToPool moves a BUSY driver back to ONLINE, applies mutate,
// persists and re-registers it with the geo index and supply counter.
// Callers may hold the ride lock; ride-then-driver ordering is preserved.
func (c *Coordinator) returnDriverToPool(ctx context.Context, driverID string, mutate func(*models.Driver)) error {
	unlockDrv := c.drvLocks.Lock(driverID)
	defer unlockDrv()

	driver, err := c.Drivers.GetDriver(ctx, driverID)
	if err != nil {
		return err
	}
	now := c.now()
	if err := lifecycle.TransitionDriver(driver, models.DriverOnline, now); err != nil {
		return err
	}
	mutate(driver)
	driver.UpdatedAt = now
	if err := c.Drivers.SaveDriver(ctx, driver); err != nil {
		return err
	}
	if driver.HasPosition {
		if err := c.Geo.Add(ctx, driver.ID, driver.Position.Lat, driver.Position.Lng); err != nil {
			c.Logger.Warn("geo re-add failed", "driver_id", driver.ID, "error", err)
		}
	}
	c.bumpSupply(ctx, driver, +1)
	observability.DriversOnline.Inc()
	return nil
}

// bumpSupply adjusts the surge supply counter for the driver's current cell.
func (c *Coordinator) bumpSupply(ctx context.Context, d *models.Driver, delta int) {
	if !d.HasPosition {
		return
	}
	cell := surge.CellID(d.Position.Lat, d.Position.Lng)
	var err error
	if delta > 0 {
		err = c.Surge.IncrSupply(ctx, cell)
	} else {
		err = c.Surge.DecrSupply(ctx, cell)
	}
	if err != nil {
		c.Logger.Warn("surge supply update failed", "cell", cell, "error", err)
	}
}

func (c *Coordinator) bumpDemand(ctx context.Context, pickup models.Coord, delta int) {
	cell := surge.CellID(pickup.Lat, pickup.Lng)
	var err error
	if delta > 0 {
		err = c.Surge.IncrDemand(ctx, cell)
	} else {
		err = c.Surge.DecrDemand(ctx, cell)
	}
	if err != nil {
		c.Logger.Warn("surge demand update failed", "cell", cell, "error", err)
	}
}
