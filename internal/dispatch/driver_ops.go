package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// RegisterDriver creates a new OFFLINE driver record.
func (c *Coordinator) RegisterDriver(ctx context.Context, userID string) (*models.Driver, error) {
	now := c.now()
	d := &models.Driver{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    models.DriverOffline,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.Drivers.CreateDriver(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// GoOnline puts a driver into the dispatch pool at the given position.
// BLOCKED drivers stay out until an admin unblocks them.
func (c *Coordinator) GoOnline(ctx context.Context, driverID string, pos models.Coord) (*models.Driver, error) {
	unlockDrv := c.drvLocks.Lock(driverID)
	defer unlockDrv()

	d, err := c.Drivers.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	// a BUSY driver would re-enter the pool while attached to a ride; the
	// BUSY->ONLINE edge is reserved for the dispatch release path
	if d.Status == models.DriverBusy {
		return nil, models.ErrDriverHasActiveRide
	}
	active, err := c.Rides.DriverHasActiveRide(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, models.ErrDriverHasActiveRide
	}
	now := c.now()
	wasOnline := d.Status == models.DriverOnline
	if err := lifecycle.TransitionDriver(d, models.DriverOnline, now); err != nil {
		return nil, err
	}
	if wasOnline && d.HasPosition {
		// repeated go-online is a position refresh, not a second pool entry
		c.bumpSupply(ctx, d, -1)
		observability.DriversOnline.Dec()
	}
	c.setPosition(d, pos, now)
	if err := c.Drivers.SaveDriver(ctx, d); err != nil {
		return nil, err
	}
	if err := c.Geo.Add(ctx, d.ID, pos.Lat, pos.Lng); err != nil {
		c.Logger.Warn("geo add failed", "driver_id", d.ID, "error", err)
	}
	c.bumpSupply(ctx, d, +1)
	observability.DriversOnline.Inc()
	c.Logger.Info("driver online", "driver_id", d.ID)
	return d, nil
}

// GoOffline removes a driver from the pool. Refused while the driver is
// attached to a live ride; that ride has to finish or be cancelled first.
func (c *Coordinator) GoOffline(ctx context.Context, driverID string) (*models.Driver, error) {
	unlockDrv := c.drvLocks.Lock(driverID)
	defer unlockDrv()

	d, err := c.Drivers.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if d.Status == models.DriverBusy {
		return nil, models.ErrDriverHasActiveRide
	}
	active, err := c.Rides.DriverHasActiveRide(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, models.ErrDriverHasActiveRide
	}

	wasOnline := d.Status == models.DriverOnline
	if err := lifecycle.TransitionDriver(d, models.DriverOffline, c.now()); err != nil {
		return nil, err
	}
	if err := c.Drivers.SaveDriver(ctx, d); err != nil {
		return nil, err
	}
	if wasOnline {
		if err := c.Geo.Remove(ctx, d.ID); err != nil {
			c.Logger.Warn("geo remove failed", "driver_id", d.ID, "error", err)
		}
		c.bumpSupply(ctx, d, -1)
		observability.DriversOnline.Dec()
	}
	c.Logger.Info("driver offline", "driver_id", d.ID)
	return d, nil
}

// UpdateLocation records a position report. Only ONLINE drivers are kept in
// the geo index; BUSY and OFFLINE drivers just update their stored position.
// Supply counters move when the report crosses a cell boundary.
func (c *Coordinator) UpdateLocation(ctx context.Context, driverID string, pos models.Coord) (*models.Driver, error) {
	unlockDrv := c.drvLocks.Lock(driverID)
	defer unlockDrv()

	d, err := c.Drivers.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if d.Status == models.DriverOnline {
		c.bumpSupply(ctx, d, -1)
	}
	c.setPosition(d, pos, c.now())
	if err := c.Drivers.SaveDriver(ctx, d); err != nil {
		return nil, err
	}
	if d.Status == models.DriverOnline {
		if err := c.Geo.Add(ctx, d.ID, pos.Lat, pos.Lng); err != nil {
			c.Logger.Warn("geo add failed", "driver_id", d.ID, "error", err)
		}
		c.bumpSupply(ctx, d, +1)
	}
	return d, nil
}

// BlockDriver is the admin kill switch: the driver leaves the pool
// immediately and cannot come back online until unblocked.
func (c *Coordinator) BlockDriver(ctx context.Context, driverID string) (*models.Driver, error) {
	unlockDrv := c.drvLocks.Lock(driverID)
	defer unlockDrv()

	d, err := c.Drivers.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	wasOnline := d.Status == models.DriverOnline
	lifecycle.Block(d, c.now())
	if err := c.Drivers.SaveDriver(ctx, d); err != nil {
		return nil, err
	}
	if wasOnline {
		if err := c.Geo.Remove(ctx, d.ID); err != nil {
			c.Logger.Warn("geo remove failed", "driver_id", d.ID, "error", err)
		}
		c.bumpSupply(ctx, d, -1)
		observability.DriversOnline.Dec()
	}
	c.Logger.Warn("driver blocked", "driver_id", d.ID)
	return d, nil
}

// UnblockDriver lifts a block; the driver lands OFFLINE and must go online
// explicitly.
func (c *Coordinator) UnblockDriver(ctx context.Context, driverID string) (*models.Driver, error) {
	unlockDrv := c.drvLocks.Lock(driverID)
	defer unlockDrv()

	d, err := c.Drivers.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if d.Status != models.DriverBlocked {
		return nil, models.NewInvalidDriverTransition(d.Status, models.DriverOffline)
	}
	lifecycle.Unblock(d, c.now())
	if err := c.Drivers.SaveDriver(ctx, d); err != nil {
		return nil, err
	}
	c.Logger.Info("driver unblocked", "driver_id", d.ID)
	return d, nil
}

func (c *Coordinator) GetDriver(ctx context.Context, driverID string) (*models.Driver, error) {
	return c.Drivers.GetDriver(ctx, driverID)
}

func (c *Coordinator) setPosition(d *models.Driver, pos models.Coord, now time.Time) {
	d.Position = pos
	d.HasPosition = true
	t := now
	d.LocatedAt = &t
	d.UpdatedAt = now
}
