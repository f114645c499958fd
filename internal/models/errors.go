package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers missing rides and drivers alike.
	ErrNotFound = errors.New("not found")
	// ErrStaleEvent marks a match trigger whose attempt fence does not line up
	// with the persisted search attempt. Discard and log, never surface.
	ErrStaleEvent = errors.New("stale match trigger")
	// ErrDriverUnavailable means a candidate failed re-verification under lock.
	ErrDriverUnavailable = errors.New("driver unavailable")
	// ErrActiveRide blocks a rider from holding two live rides at once.
	ErrActiveRide = errors.New("active ride already exists")
	// ErrDriverHasActiveRide blocks going offline mid-ride.
	ErrDriverHasActiveRide = errors.New("cannot go offline during active ride")
)

// InvalidTransitionError rejects an illegal state edge without mutating anything.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Entity, e.From, e.To)
}

func NewInvalidRideTransition(from, to RideStatus) error {
	return &InvalidTransitionError{Entity: "ride", From: string(from), To: string(to)}
}

func NewInvalidDriverTransition(from, to DriverStatus) error {
	return &InvalidTransitionError{Entity: "driver", From: string(from), To: string(to)}
}

// IsInvalidTransition reports whether err is a rejected state edge.
func IsInvalidTransition(err error) bool {
	var it *InvalidTransitionError
	return errors.As(err, &it)
}

type OtpReason string

const (
	OtpExpired         OtpReason = "expired"
	OtpMismatch        OtpReason = "mismatch"
	OtpAlreadyConsumed OtpReason = "already_consumed"
)

// OtpError is surfaced to the caller and never changes ride status.
type OtpError struct {
	Reason OtpReason
}

func (e *OtpError) Error() string { return "otp " + string(e.Reason) }

func IsOtpError(err error) (OtpReason, bool) {
	var oe *OtpError
	if errors.As(err, &oe) {
		return oe.Reason, true
	}
	return "", false
}
