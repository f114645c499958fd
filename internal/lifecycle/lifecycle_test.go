package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/models"
)

var allRideStatuses = []models.RideStatus{
	models.RideSearching, models.RideOffered, models.RideAssigned,
	models.RideArrived, models.RideOngoing, models.RideCompleted,
	models.RideCancelled, models.RideNoShow,
}

// Every (from, to) pair absent from the table must be rejected without
// mutating the ride.
func TestRideRejectsEdgesOutsideTable(t *testing.T) {
	now := time.Now()
	for _, from := range allRideStatuses {
		for _, to := range allRideStatuses {
			if from.CanTransitionTo(to) {
				continue
			}
			r := &models.Ride{ID: "r1", Status: from, DriverID: "d1"}
			err := TransitionRide(r, to, now)
			require.Errorf(t, err, "%s -> %s should fail", from, to)
			assert.True(t, models.IsInvalidTransition(err))
			assert.Equal(t, from, r.Status, "ride mutated on rejected edge")
		}
	}
}

func TestRideAllowedEdges(t *testing.T) {
	now := time.Now()
	verified := now
	fare := 60.0
	for from, tos := range models.RideTransitions {
		for _, to := range tos {
			r := &models.Ride{
				ID:            "r1",
				Status:        from,
				DriverID:      "d1",
				OTPVerifiedAt: &verified,
				FinalFare:     &fare,
			}
			require.NoErrorf(t, TransitionRide(r, to, now), "%s -> %s", from, to)
			assert.Equal(t, to, r.Status)
		}
	}
}

func TestArrivedArmsOTP(t *testing.T) {
	now := time.Now()
	r := &models.Ride{Status: models.RideAssigned, DriverID: "d1"}
	require.NoError(t, TransitionRide(r, models.RideArrived, now))
	require.NotNil(t, r.ArrivedAt)
	assert.Len(t, r.OTPCode, 4)
	require.NotNil(t, r.OTPExpiresAt)
	assert.Equal(t, now.Add(5*time.Minute), *r.OTPExpiresAt)

	// an existing code is kept
	code := r.OTPCode
	r2 := &models.Ride{Status: models.RideAssigned, DriverID: "d1", OTPCode: code}
	require.NoError(t, TransitionRide(r2, models.RideArrived, now))
	assert.Equal(t, code, r2.OTPCode)
}

func TestOngoingRequiresVerifiedOTP(t *testing.T) {
	now := time.Now()
	r := &models.Ride{Status: models.RideArrived, DriverID: "d1"}
	err := TransitionRide(r, models.RideOngoing, now)
	assert.ErrorIs(t, err, ErrOTPNotVerified)
	assert.Equal(t, models.RideArrived, r.Status)
}

func TestCompletedRequiresFinalFare(t *testing.T) {
	now := time.Now()
	r := &models.Ride{Status: models.RideOngoing, DriverID: "d1"}
	err := TransitionRide(r, models.RideCompleted, now)
	assert.ErrorIs(t, err, ErrFinalFareRequired)
	assert.Equal(t, models.RideOngoing, r.Status)
}

func TestBackToSearchingReleasesDriver(t *testing.T) {
	r := &models.Ride{Status: models.RideOffered, DriverID: "d1"}
	require.NoError(t, TransitionRide(r, models.RideSearching, time.Now()))
	assert.Empty(t, r.DriverID)
}

func TestCancelFromLiveStates(t *testing.T) {
	now := time.Now()
	for _, from := range allRideStatuses {
		r := &models.Ride{Status: from, DriverID: "d1"}
		err := CancelRide(r, models.CancelledByRider, now)
		if from.Terminal() {
			require.Errorf(t, err, "cancel from terminal %s should fail", from)
			assert.Equal(t, from, r.Status)
			continue
		}
		require.NoErrorf(t, err, "cancel from %s", from)
		assert.Equal(t, models.RideCancelled, r.Status)
		assert.Equal(t, models.CancelledByRider, r.CancelledBy)
		require.NotNil(t, r.CancelledAt)
		assert.Empty(t, r.DriverID)
	}
}

func TestDriverTransitionTable(t *testing.T) {
	now := time.Now()
	all := []models.DriverStatus{
		models.DriverOffline, models.DriverOnline, models.DriverBusy, models.DriverBlocked,
	}
	for _, from := range all {
		for _, to := range all {
			d := &models.Driver{ID: "d1", Status: from}
			err := TransitionDriver(d, to, now)
			if from == to {
				require.NoError(t, err)
				continue
			}
			if from.CanTransitionTo(to) {
				require.NoErrorf(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, d.Status)
			} else {
				require.Errorf(t, err, "%s -> %s should fail", from, to)
				assert.Equal(t, from, d.Status)
			}
		}
	}
}

func TestBlockedHasNoWayBackWithoutAdmin(t *testing.T) {
	now := time.Now()
	d := &models.Driver{Status: models.DriverBlocked}
	for _, to := range []models.DriverStatus{models.DriverOffline, models.DriverOnline, models.DriverBusy} {
		assert.Error(t, TransitionDriver(d, to, now))
	}
	Unblock(d, now)
	assert.Equal(t, models.DriverOffline, d.Status)
}

func TestBlockWorksFromAnyState(t *testing.T) {
	now := time.Now()
	d := &models.Driver{Status: models.DriverBusy}
	Block(d, now)
	assert.Equal(t, models.DriverBlocked, d.Status)
}
