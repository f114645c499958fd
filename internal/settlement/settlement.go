// Package settlement is the boundary to the payments collaborator. The
// dispatch core calls Settle exactly once per ride, inside the COMPLETED
// transition, with a finalized fare; retries and dead-lettering beyond that
// are the collaborator's own policy.
package settlement

import (
	"context"
	"log/slog"

	"github.com/example/ride-dispatch/internal/models"
)

type Settlement interface {
	Settle(ctx context.Context, ride *models.Ride, finalFare float64) error
}

// Nop logs instead of charging; used locally and in tests.
type Nop struct {
	Logger *slog.Logger
}

func (n *Nop) Settle(_ context.Context, ride *models.Ride, finalFare float64) error {
	if n.Logger != nil {
		n.Logger.Info("settlement skipped (no provider configured)",
			"ride_id", ride.ID, "final_fare", finalFare)
	}
	return nil
}
