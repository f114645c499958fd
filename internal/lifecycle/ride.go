// Package lifecycle validates and applies ride and driver state transitions.
// It mutates entities in memory only; callers hold the entity locks and
// persist the result, so a failed guard never leaves a partial write behind.
package lifecycle

import (
	"errors"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/otp"
)

var (
	// ErrOTPNotVerified blocks ONGOING until the rider's code is consumed.
	ErrOTPNotVerified = errors.New("otp not verified by rider")
	// ErrFinalFareRequired blocks COMPLETED until the fare is computed.
	ErrFinalFareRequired = errors.New("final fare not computed")
)

// TransitionRide moves a ride along an allowed edge and applies the
// state-specific side effects. On any error the ride is untouched.
func TransitionRide(r *models.Ride, to models.RideStatus, now time.Time) error {
	if !r.Status.CanTransitionTo(to) {
		return models.NewInvalidRideTransition(r.Status, to)
	}
	switch to {
	case models.RideOngoing:
		if r.OTPVerifiedAt == nil {
			return ErrOTPNotVerified
		}
	case models.RideCompleted:
		if r.FinalFare == nil {
			return ErrFinalFareRequired
		}
	}

	r.Status = to
	r.UpdatedAt = now
	switch to {
	case models.RideSearching:
		// falling back from OFFERED releases the driver slot
		r.DriverID = ""
	case models.RideArrived:
		arrived := now
		r.ArrivedAt = &arrived
		otp.Attach(r, now)
	}
	return nil
}

// CancelRide is the guarded shortcut reachable from every live state; it
// bypasses the edge table because cancellation is legal anywhere pre-terminal.
func CancelRide(r *models.Ride, by models.CancelledBy, now time.Time) error {
	if r.Status.Terminal() {
		return models.NewInvalidRideTransition(r.Status, models.RideCancelled)
	}
	r.Status = models.RideCancelled
	r.DriverID = ""
	cancelled := now
	r.CancelledAt = &cancelled
	r.CancelledBy = by
	r.UpdatedAt = now
	return nil
}
