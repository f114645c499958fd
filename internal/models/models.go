package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RideStatus is the closed set of ride lifecycle states.
type RideStatus string

const (
	RideSearching RideStatus = "SEARCHING"
	RideOffered   RideStatus = "OFFERED"
	RideAssigned  RideStatus = "ASSIGNED"
	RideArrived   RideStatus = "ARRIVED"
	RideOngoing   RideStatus = "ONGOING"
	RideCompleted RideStatus = "COMPLETED"
	RideCancelled RideStatus = "CANCELLED"
	RideNoShow    RideStatus = "NO_SHOW"
)

// RideTransitions is the ride state flow expressed as data. States absent
// from the map are terminal.
var RideTransitions = map[RideStatus][]RideStatus{
	RideSearching: {RideOffered, RideCancelled},
	RideOffered:   {RideAssigned, RideSearching, RideCancelled},
	RideAssigned:  {RideArrived, RideCancelled},
	RideArrived:   {RideOngoing, RideNoShow, RideCancelled},
	RideOngoing:   {RideCompleted},
}

func (s RideStatus) CanTransitionTo(to RideStatus) bool {
	for _, next := range RideTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status has no outgoing edges.
func (s RideStatus) Terminal() bool {
	return len(RideTransitions[s]) == 0
}

// Active reports whether a ride in this status occupies its driver.
func (s RideStatus) Active() bool {
	switch s {
	case RideAssigned, RideArrived, RideOngoing:
		return true
	}
	return false
}

type CancelledBy string

const (
	CancelledByRider  CancelledBy = "RIDER"
	CancelledByDriver CancelledBy = "DRIVER"
	CancelledBySystem CancelledBy = "SYSTEM"
)

type Ride struct {
	ID      string `json:"id"`
	RiderID string `json:"rider_id"`
	// DriverID is non-empty iff status is OFFERED, ASSIGNED, ARRIVED or ONGOING.
	DriverID string `json:"driver_id,omitempty"`

	Pickup Coord `json:"pickup"`
	Drop   Coord `json:"drop"`

	PlannedPolyline    string  `json:"planned_polyline,omitempty"`
	PlannedDistanceKm  float64 `json:"planned_distance_km"`
	PlannedDurationMin float64 `json:"planned_duration_min"`

	Status RideStatus `json:"status"`

	// RejectedDriverIDs is append-only: once a driver rejects or times out it
	// is never offered this ride again.
	RejectedDriverIDs []string `json:"rejected_driver_ids,omitempty"`
	// SearchAttempt fences duplicate/stale match triggers.
	SearchAttempt int `json:"search_attempt"`

	OTPCode       string     `json:"-"`
	OTPExpiresAt  *time.Time `json:"-"`
	OTPVerifiedAt *time.Time `json:"otp_verified_at,omitempty"`

	ArrivedAt   *time.Time  `json:"arrived_at,omitempty"`
	CancelledAt *time.Time  `json:"cancelled_at,omitempty"`
	CancelledBy CancelledBy `json:"cancelled_by,omitempty"`

	ActualDistanceKm float64 `json:"actual_distance_km"`
	BaseFare         float64 `json:"base_fare"`
	// FinalFare is set exactly once, at COMPLETED.
	FinalFare *float64 `json:"final_fare,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Rejected reports whether driverID already rejected or timed out this ride.
func (r *Ride) Rejected(driverID string) bool {
	for _, id := range r.RejectedDriverIDs {
		if id == driverID {
			return true
		}
	}
	return false
}

// DriverStatus is the closed set of driver availability states.
type DriverStatus string

const (
	DriverOffline DriverStatus = "OFFLINE"
	DriverOnline  DriverStatus = "ONLINE"
	DriverBusy    DriverStatus = "BUSY"
	DriverBlocked DriverStatus = "BLOCKED"
)

// DriverTransitions mirrors RideTransitions for drivers. BLOCKED is entered
// only through the admin trust action, never through this table.
var DriverTransitions = map[DriverStatus][]DriverStatus{
	DriverOffline: {DriverOnline},
	DriverOnline:  {DriverBusy, DriverOffline},
	DriverBusy:    {DriverOnline},
}

func (s DriverStatus) CanTransitionTo(to DriverStatus) bool {
	for _, next := range DriverTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type Driver struct {
	ID     string       `json:"id"`
	UserID string       `json:"user_id"`
	Status DriverStatus `json:"status"`

	Position    Coord      `json:"position"`
	HasPosition bool       `json:"has_position"`
	LocatedAt   *time.Time `json:"located_at,omitempty"`

	CompletedRides int `json:"completed_rides"`
	CancelledRides int `json:"cancelled_rides"`
	NoShows        int `json:"no_shows"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MatchTrigger asks the coordinator to (re)dispatch a ride. Delivery is
// at-least-once and ordered per ride id; Attempt carries the fence value.
type MatchTrigger struct {
	Event         string   `json:"event"`
	RideID        string   `json:"ride_id"`
	DriverIDsHint []string `json:"driver_ids,omitempty"`
	Attempt       int      `json:"attempt"`
}

const EventRideSearching = "RIDE_SEARCHING"

// Offer is the payload pushed to a driver's channel when a ride is offered.
type Offer struct {
	RideID       string  `json:"ride_id"`
	Pickup       Coord   `json:"pickup"`
	Drop         Coord   `json:"drop"`
	FareEstimate float64 `json:"fare_estimate"`
	TimeoutSec   int     `json:"timeout"`
}

// DriverLocation is the message published on the driver-location topic.
type DriverLocation struct {
	DriverID string    `json:"driver_id"`
	Lat      float64   `json:"lat"`
	Lng      float64   `json:"lng"`
	Online   bool      `json:"online"`
	Updated  time.Time `json:"updated"`
}
