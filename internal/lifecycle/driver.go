package lifecycle

import (
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// TransitionDriver moves a driver along an allowed availability edge.
// Same-state transitions are a no-op so retried calls stay safe. BLOCKED is
// not in the table; Block is the only way in.
func TransitionDriver(d *models.Driver, to models.DriverStatus, now time.Time) error {
	if d.Status == to {
		return nil
	}
	if !d.Status.CanTransitionTo(to) {
		return models.NewInvalidDriverTransition(d.Status, to)
	}
	d.Status = to
	d.UpdatedAt = now
	return nil
}

// Block is the administrative trust action; it works from any state and is
// the sole path into BLOCKED.
func Block(d *models.Driver, now time.Time) {
	d.Status = models.DriverBlocked
	d.UpdatedAt = now
}

// Unblock reverses Block, returning the driver to OFFLINE.
func Unblock(d *models.Driver, now time.Time) {
	if d.Status == models.DriverBlocked {
		d.Status = models.DriverOffline
		d.UpdatedAt = now
	}
}
