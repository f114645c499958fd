package dispatch

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/otp"
	"github.com/example/ride-dispatch/internal/surge"
)

// ErrNoShowTooEarly rejects a no-show declared before the wait window ends.
var ErrNoShowTooEarly = errors.New("no-show wait time not completed")

// CreateRide plans the route, persists a SEARCHING ride, bumps demand for
// the pickup cell and enqueues the first match trigger.
func (c *Coordinator) CreateRide(ctx context.Context, riderID string, pickup, drop models.Coord) (*models.Ride, error) {
	active, err := c.Rides.RiderHasActiveRide(ctx, riderID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, models.ErrActiveRide
	}

	// planner runs before any lock is taken; the fallback makes it total
	plan, err := c.Planner.Plan(ctx, pickup, drop)
	if err != nil {
		return nil, err
	}

	now := c.now()
	ride := &models.Ride{
		ID:                 uuid.NewString(),
		RiderID:            riderID,
		Pickup:             pickup,
		Drop:               drop,
		PlannedPolyline:    plan.Polyline,
		PlannedDistanceKm:  plan.DistanceKm,
		PlannedDurationMin: plan.DurationMin,
		Status:             models.RideSearching,
		BaseFare:           c.Fares.BaseFare,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := c.Rides.CreateRide(ctx, ride); err != nil {
		return nil, err
	}
	c.bumpDemand(ctx, pickup, +1)
	c.enqueue(ctx, ride)
	c.Notifier.RideChanged(ride, "ride_created")
	return ride, nil
}

// Accept finalizes an offer: OFFERED -> ASSIGNED. Valid only while the ride
// is offered to exactly this driver; a late accept after timeout rollback is
// an invalid transition, not a race.
func (c *Coordinator) Accept(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	unlockRide := c.rideLocks.Lock(rideID)
	defer unlockRide()

	ride, err := c.Rides.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.Status != models.RideOffered || ride.DriverID != driverID {
		return nil, models.NewInvalidRideTransition(ride.Status, models.RideAssigned)
	}
	if err := lifecycle.TransitionRide(ride, models.RideAssigned, c.now()); err != nil {
		return nil, err
	}
	if err := c.Rides.SaveRide(ctx, ride); err != nil {
		return nil, err
	}
	observability.AcceptsTotal.Inc()
	c.Notifier.RideChanged(ride, "ride_assigned")
	return ride, nil
}

// Reject is the driver's explicit pass on an offer.
func (c *Coordinator) Reject(ctx context.Context, rideID, driverID string) error {
	released, err := c.releaseOffer(ctx, rideID, driverID)
	if err != nil {
		return err
	}
	if !released {
		ride, gerr := c.Rides.GetRide(ctx, rideID)
		if gerr != nil {
			return gerr
		}
		return models.NewInvalidRideTransition(ride.Status, models.RideSearching)
	}
	observability.RejectsTotal.Inc()
	return nil
}

// MarkArrived records arrival at the pickup point, arms the OTP and starts
// the no-show clock.
func (c *Coordinator) MarkArrived(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	unlockRide := c.rideLocks.Lock(rideID)

	ride, err := c.Rides.GetRide(ctx, rideID)
	if err != nil {
		unlockRide()
		return nil, err
	}
	if ride.DriverID != driverID {
		unlockRide()
		return nil, models.ErrNotFound
	}
	if err := lifecycle.TransitionRide(ride, models.RideArrived, c.now()); err != nil {
		unlockRide()
		return nil, err
	}
	if err := c.Rides.SaveRide(ctx, ride); err != nil {
		unlockRide()
		return nil, err
	}
	unlockRide()

	c.Sched.After(c.Cfg.NoShowWait, func() {
		c.noShowCheck(context.Background(), rideID)
	})
	c.Notifier.RideChanged(ride, "ride_arrived")
	return ride, nil
}

// VerifyOTP consumes the rider's boarding code and starts the trip:
// ARRIVED -> ONGOING. OTP failures surface to the caller and leave the ride
// untouched.
func (c *Coordinator) VerifyOTP(ctx context.Context, rideID, riderID, code string) (*models.Ride, error) {
	unlockRide := c.rideLocks.Lock(rideID)
	defer unlockRide()

	ride, err := c.Rides.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.RiderID != riderID {
		return nil, models.ErrNotFound
	}
	if ride.Status != models.RideArrived {
		return nil, models.NewInvalidRideTransition(ride.Status, models.RideOngoing)
	}
	now := c.now()
	if err := otp.VerifyAndConsume(ride, code, now); err != nil {
		return nil, err
	}
	if err := lifecycle.TransitionRide(ride, models.RideOngoing, now); err != nil {
		return nil, err
	}
	if err := c.Rides.SaveRide(ctx, ride); err != nil {
		return nil, err
	}
	c.Notifier.RideChanged(ride, "ride_started")
	return ride, nil
}

// RideOTP hands the rider their boarding code while the driver waits at the
// pickup point. The code never rides along in serialized ride payloads.
func (c *Coordinator) RideOTP(ctx context.Context, rideID, riderID string) (string, error) {
	ride, err := c.Rides.GetRide(ctx, rideID)
	if err != nil {
		return "", err
	}
	if ride.RiderID != riderID {
		return "", models.ErrNotFound
	}
	if ride.Status != models.RideArrived || ride.OTPCode == "" {
		return "", models.NewInvalidRideTransition(ride.Status, models.RideOngoing)
	}
	return ride.OTPCode, nil
}

// RecordDistance accumulates tracked distance while the trip is ONGOING.
func (c *Coordinator) RecordDistance(ctx context.Context, rideID string, deltaKm float64) error {
	if deltaKm <= 0 {
		return nil
	}
	unlockRide := c.rideLocks.Lock(rideID)
	defer unlockRide()

	ride, err := c.Rides.GetRide(ctx, rideID)
	if err != nil {
		return err
	}
	if ride.Status != models.RideOngoing {
		return models.NewInvalidRideTransition(ride.Status, models.RideOngoing)
	}
	ride.ActualDistanceKm += deltaKm
	ride.UpdatedAt = c.now()
	return c.Rides.SaveRide(ctx, ride)
}

// Complete computes the final fare with the pickup cell's surge applied
// exactly once, transitions to COMPLETED, returns the driver to the pool and
// settles the fare. Settlement failures are the collaborator's retry
// problem and never roll back the completion.
func (c *Coordinator) Complete(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	unlockRide := c.rideLocks.Lock(rideID)

	ride, err := c.Rides.GetRide(ctx, rideID)
	if err != nil {
		unlockRide()
		return nil, err
	}
	if ride.DriverID != driverID {
		unlockRide()
		return nil, models.ErrNotFound
	}
	if ride.Status != models.RideOngoing {
		unlockRide()
		return nil, models.NewInvalidRideTransition(ride.Status, models.RideCompleted)
	}

	distanceKm := ride.ActualDistanceKm
	if distanceKm == 0 {
		// no tracking feed for this trip: planned distance stands in
		distanceKm = ride.PlannedDistanceKm
		ride.ActualDistanceKm = distanceKm
	}
	cell := surge.CellID(ride.Pickup.Lat, ride.Pickup.Lng)
	multiplier := c.Surge.Multiplier(ctx, cell)
	fare := c.Fares.Final(ride.BaseFare, distanceKm, multiplier)
	ride.FinalFare = &fare

	now := c.now()
	if err := lifecycle.TransitionRide(ride, models.RideCompleted, now); err != nil {
		unlockRide()
		return nil, err
	}
	if err := c.Rides.SaveRide(ctx, ride); err != nil {
		unlockRide()
		return nil, err
	}

	if err := c.returnDriverToPool(ctx, driverID, func(d *models.Driver) {
		d.CompletedRides++
	}); err != nil {
		c.Logger.Error("driver release on completion failed", "driver_id", driverID, "error", err)
	}
	c.bumpDemand(ctx, ride.Pickup, -1)
	unlockRide()

	// exactly once, synchronously, with the finalized fare; outside the locks
	if err := c.Settlement.Settle(ctx, ride, fare); err != nil {
		c.Logger.Error("settlement failed", "ride_id", ride.ID, "final_fare", fare, "error", err)
	}
	observability.CompletedTotal.Inc()
	c.Notifier.RideChanged(ride, "ride_completed")
	return ride, nil
}

// Cancel ends a live ride from any non-terminal state. A cancellation racing
// an in-flight dispatch resolves through the ride lock: the dispatch either
// finished first or sees CANCELLED and no-ops.
func (c *Coordinator) Cancel(ctx context.Context, rideID string, by models.CancelledBy) (*models.Ride, error) {
	unlockRide := c.rideLocks.Lock(rideID)

	ride, err := c.Rides.GetRide(ctx, rideID)
	if err != nil {
		unlockRide()
		return nil, err
	}
	previousDriver := ride.DriverID
	if err := lifecycle.CancelRide(ride, by, c.now()); err != nil {
		unlockRide()
		return nil, err
	}
	if err := c.Rides.SaveRide(ctx, ride); err != nil {
		unlockRide()
		return nil, err
	}

	if previousDriver != "" {
		if err := c.returnDriverToPool(ctx, previousDriver, func(d *models.Driver) {
			if by == models.CancelledByDriver {
				d.CancelledRides++
			}
		}); err != nil {
			c.Logger.Error("driver release on cancel failed", "driver_id", previousDriver, "error", err)
		}
	}
	c.bumpDemand(ctx, ride.Pickup, -1)
	unlockRide()

	observability.CancelledTotal.Inc()
	c.Notifier.RideChanged(ride, "ride_cancelled")
	return ride, nil
}

// MarkNoShow is the driver's explicit declaration that the rider never
// boarded. Only legal once the wait window has fully elapsed.
func (c *Coordinator) MarkNoShow(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	return c.declareNoShow(ctx, rideID, driverID, true)
}

// noShowCheck is the scheduled variant: silent no-op when stale or early.
func (c *Coordinator) noShowCheck(ctx context.Context, rideID string) {
	if _, err := c.declareNoShow(ctx, rideID, "", false); err != nil &&
		!models.IsInvalidTransition(err) && !errors.Is(err, ErrNoShowTooEarly) {
		c.Logger.Error("no-show check failed", "ride_id", rideID, "error", err)
	}
}

func (c *Coordinator) declareNoShow(ctx context.Context, rideID, driverID string, explicit bool) (*models.Ride, error) {
	unlockRide := c.rideLocks.Lock(rideID)

	ride, err := c.Rides.GetRide(ctx, rideID)
	if err != nil {
		unlockRide()
		return nil, err
	}
	if explicit && ride.DriverID != driverID {
		unlockRide()
		return nil, models.ErrNotFound
	}
	if ride.Status != models.RideArrived {
		unlockRide()
		return nil, models.NewInvalidRideTransition(ride.Status, models.RideNoShow)
	}
	now := c.now()
	if ride.ArrivedAt == nil || now.Before(ride.ArrivedAt.Add(c.Cfg.NoShowWait)) {
		unlockRide()
		return nil, ErrNoShowTooEarly
	}

	assignedDriver := ride.DriverID
	if err := lifecycle.TransitionRide(ride, models.RideNoShow, now); err != nil {
		unlockRide()
		return nil, err
	}
	ride.DriverID = ""
	if err := c.Rides.SaveRide(ctx, ride); err != nil {
		unlockRide()
		return nil, err
	}

	if err := c.returnDriverToPool(ctx, assignedDriver, func(d *models.Driver) {
		d.NoShows++
	}); err != nil {
		c.Logger.Error("driver release on no-show failed", "driver_id", assignedDriver, "error", err)
	}
	c.bumpDemand(ctx, ride.Pickup, -1)
	unlockRide()

	observability.NoShowsTotal.Inc()
	c.Notifier.RideChanged(ride, "ride_no_show")
	return ride, nil
}

// ForceRedispatch is the admin recovery for a stuck ride: an OFFERED ride is
// rolled back as if the offer timed out; a SEARCHING ride just gets a fresh
// trigger.
func (c *Coordinator) ForceRedispatch(ctx context.Context, rideID string) error {
	unlockRide := c.rideLocks.Lock(rideID)
	ride, err := c.Rides.GetRide(ctx, rideID)
	if err != nil {
		unlockRide()
		return err
	}
	status, driverID := ride.Status, ride.DriverID
	if status == models.RideSearching {
		unlockRide()
		c.enqueue(ctx, ride)
		return nil
	}
	unlockRide()

	if status != models.RideOffered {
		return models.NewInvalidRideTransition(status, models.RideSearching)
	}
	_, err = c.releaseOffer(ctx, rideID, driverID)
	return err
}

func (c *Coordinator) GetRide(ctx context.Context, rideID string) (*models.Ride, error) {
	return c.Rides.GetRide(ctx, rideID)
}
