// Package notify pushes offers and ride updates to connected clients.
// Delivery is fire-and-forget: the dispatch core never waits on it and never
// rolls back on a failed send.
package notify

import "github.com/example/ride-dispatch/internal/models"

type Notifier interface {
	// OfferRide pushes a time-bounded offer to one driver's channel.
	OfferRide(driverID string, offer models.Offer) error
	// RideChanged fans out after every successful ride transition.
	RideChanged(ride *models.Ride, event string)
}

// Nop drops everything; useful in tests and the consumer binary.
type Nop struct{}

func (Nop) OfferRide(string, models.Offer) error { return nil }
func (Nop) RideChanged(*models.Ride, string)     {}
