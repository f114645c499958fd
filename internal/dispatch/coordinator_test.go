package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/pricing"
	"github.com/example/ride-dispatch/internal/route"
	"github.com/example/ride-dispatch/internal/scheduler"
	"github.com/example/ride-dispatch/internal/settlement"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/surge"
)

// recordingNotifier captures offers so tests can assert who was asked.
type recordingNotifier struct {
	mu     sync.Mutex
	offers []string // driver ids in offer order
	events []string
}

func (r *recordingNotifier) OfferRide(driverID string, _ models.Offer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offers = append(r.offers, driverID)
	return nil
}

func (r *recordingNotifier) RideChanged(_ *models.Ride, event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingNotifier) offered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.offers...)
}

type fixture struct {
	c        *Coordinator
	store    *storage.MemoryStore
	geo      *geo.MemoryIndex
	sched    *scheduler.Manual
	notifier *recordingNotifier
	clock    time.Time
	seq      int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    storage.NewMemoryStore(),
		geo:      geo.NewMemoryIndex(),
		sched:    scheduler.NewManual(),
		notifier: &recordingNotifier{},
		clock:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.c = New(&Coordinator{
		Rides:      f.store,
		Drivers:    f.store,
		Geo:        f.geo,
		Surge:      surge.NewMemoryEngine(time.Minute),
		Notifier:   f.notifier,
		Settlement: &settlement.Nop{},
		Sched:      f.sched,
		Planner:    &route.FallbackPlanner{},
		Fares:      pricing.DefaultConfig(),
		Cfg:        DefaultConfig(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	f.c.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

// onlineDriver registers a driver and puts it online at pos.
func (f *fixture) onlineDriver(t *testing.T, pos models.Coord) *models.Driver {
	t.Helper()
	ctx := context.Background()
	f.seq++
	d, err := f.c.RegisterDriver(ctx, fmt.Sprintf("user-%d", f.seq))
	require.NoError(t, err)
	_, err = f.c.GoOnline(ctx, d.ID, pos)
	require.NoError(t, err)
	return d
}

// searchingRide creates a ride and replays its first trigger synchronously.
func (f *fixture) searchingRide(t *testing.T, riderID string) *models.Ride {
	t.Helper()
	r, err := f.c.CreateRide(context.Background(), riderID,
		models.Coord{Lat: 12.97, Lng: 77.59}, models.Coord{Lat: 12.99, Lng: 77.61})
	require.NoError(t, err)
	return r
}

func (f *fixture) trigger(rideID string, attempt int) {
	f.c.HandleMatchTrigger(context.Background(), models.MatchTrigger{
		Event:   models.EventRideSearching,
		RideID:  rideID,
		Attempt: attempt,
	})
}

func (f *fixture) ride(t *testing.T, id string) *models.Ride {
	t.Helper()
	r, err := f.store.GetRide(context.Background(), id)
	require.NoError(t, err)
	return r
}

func (f *fixture) driver(t *testing.T, id string) *models.Driver {
	t.Helper()
	d, err := f.store.GetDriver(context.Background(), id)
	require.NoError(t, err)
	return d
}

func TestOfferFlow(t *testing.T) {
	f := newFixture(t)
	d := f.onlineDriver(t, models.Coord{Lat: 12.971, Lng: 77.591})
	r := f.searchingRide(t, "rider-1")

	f.trigger(r.ID, 1)

	got := f.ride(t, r.ID)
	assert.Equal(t, models.RideOffered, got.Status)
	assert.Equal(t, d.ID, got.DriverID)
	assert.Equal(t, models.DriverBusy, f.driver(t, d.ID).Status)
	assert.Equal(t, []string{d.ID}, f.notifier.offered())
	assert.Equal(t, 1, f.sched.Pending(), "offer timeout must be scheduled")

	// the offered driver is no longer a candidate for anyone else
	ids, err := f.geo.Nearby(context.Background(), 12.97, 77.59, 5, 5)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRejectThenNextCandidateAccepts(t *testing.T) {
	f := newFixture(t)
	// d1 is closer, so it is asked first
	d1 := f.onlineDriver(t, models.Coord{Lat: 12.9701, Lng: 77.5901})
	d2 := f.onlineDriver(t, models.Coord{Lat: 12.975, Lng: 77.595})
	r := f.searchingRide(t, "rider-1")

	f.trigger(r.ID, 1)
	require.Equal(t, d1.ID, f.ride(t, r.ID).DriverID)

	require.NoError(t, f.c.Reject(context.Background(), r.ID, d1.ID))

	got := f.ride(t, r.ID)
	assert.Equal(t, models.RideSearching, got.Status)
	assert.Equal(t, []string{d1.ID}, got.RejectedDriverIDs)
	assert.Equal(t, 1, got.SearchAttempt)
	assert.Equal(t, models.DriverOnline, f.driver(t, d1.ID).Status)

	f.trigger(r.ID, 2)
	require.Equal(t, d2.ID, f.ride(t, r.ID).DriverID, "rejected driver must be skipped")

	_, err := f.c.Accept(context.Background(), r.ID, d2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RideAssigned, f.ride(t, r.ID).Status)
	assert.Equal(t, models.DriverBusy, f.driver(t, d2.ID).Status)
}

func TestDuplicateTriggerIsFenced(t *testing.T) {
	f := newFixture(t)
	f.onlineDriver(t, models.Coord{Lat: 12.971, Lng: 77.591})
	f.onlineDriver(t, models.Coord{Lat: 12.972, Lng: 77.592})
	r := f.searchingRide(t, "rider-1")

	f.trigger(r.ID, 1)
	f.trigger(r.ID, 1) // redelivery

	assert.Len(t, f.notifier.offered(), 1, "duplicate trigger must not double-offer")
}

func TestTriggerHintSliceNotMutated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d1 := f.onlineDriver(t, models.Coord{Lat: 12.971, Lng: 77.591})
	d2 := f.onlineDriver(t, models.Coord{Lat: 12.972, Lng: 77.592})
	r := f.searchingRide(t, "rider-1")

	f.trigger(r.ID, 1)
	require.NoError(t, f.c.Reject(ctx, r.ID, d1.ID))

	// filtering out the rejected driver must not write through the hint
	hint := []string{d1.ID, d2.ID}
	f.c.HandleMatchTrigger(ctx, models.MatchTrigger{
		Event:         models.EventRideSearching,
		RideID:        r.ID,
		Attempt:       2,
		DriverIDsHint: hint,
	})

	assert.Equal(t, []string{d1.ID, d2.ID}, hint)
	assert.Equal(t, d2.ID, f.ride(t, r.ID).DriverID)
}

func TestStaleTriggerDiscarded(t *testing.T) {
	f := newFixture(t)
	f.onlineDriver(t, models.Coord{Lat: 12.971, Lng: 77.591})
	r := f.searchingRide(t, "rider-1")

	f.trigger(r.ID, 3) // fence expects attempt 1
	assert.Equal(t, models.RideSearching, f.ride(t, r.ID).Status)
	assert.Empty(t, f.notifier.offered())
}

func TestOfferTimeoutRollsBack(t *testing.T) {
	f := newFixture(t)
	d := f.onlineDriver(t, models.Coord{Lat: 12.971, Lng: 77.591})
	r := f.searchingRide(t, "rider-1")

	f.trigger(r.ID, 1)
	require.Equal(t, models.RideOffered, f.ride(t, r.ID).Status)

	f.sched.Fire() // the offer timer

	got := f.ride(t, r.ID)
	assert.Equal(t, models.RideSearching, got.Status)
	assert.Empty(t, got.DriverID)
	assert.Equal(t, []string{d.ID}, got.RejectedDriverIDs)
	assert.Equal(t, models.DriverOnline, f.driver(t, d.ID).Status)

	// driver is back in the geo pool
	ids, err := f.geo.Nearby(context.Background(), 12.97, 77.59, 5, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{d.ID}, ids)
}

func TestLateAcceptAfterTimeoutRejected(t *testing.T) {
	f := newFixture(t)
	d := f.onlineDriver(t, models.Coord{Lat: 12.971, Lng: 77.591})
	r := f.searchingRide(t, "rider-1")

	f.trigger(r.ID, 1)
	f.sched.Fire()

	_, err := f.c.Accept(context.Background(), r.ID, d.ID)
	assert.True(t, models.IsInvalidTransition(err))
}

func TestStaleTimerAfterAcceptIsNoop(t *testing.T) {
	f := newFixture(t)
	d := f.onlineDriver(t, models.Coord{Lat: 12.971, Lng: 77.591})
	r := f.searchingRide(t, "rider-1")

	f.trigger(r.ID, 1)
	_, err := f.c.Accept(context.Background(), r.ID, d.ID)
	require.NoError(t, err)

	f.sched.Fire() // expired timer must not disturb the assignment

	assert.Equal(t, models.RideAssigned, f.ride(t, r.ID).Status)
	assert.Equal(t, models.DriverBusy, f.driver(t, d.ID).Status)
}

func TestNoCandidatesLeavesRideSearching(t *testing.T) {
	f := newFixture(t)
	r := f.searchingRide(t, "rider-1")

	f.trigger(r.ID, 1)

	got := f.ride(t, r.ID)
	assert.Equal(t, models.RideSearching, got.Status)
	assert.Zero(t, got.SearchAttempt)
}

func TestRiderActiveRideGuard(t *testing.T) {
	f := newFixture(t)
	f.searchingRide(t, "rider-1")

	_, err := f.c.CreateRide(context.Background(), "rider-1",
		models.Coord{Lat: 12.97, Lng: 77.59}, models.Coord{Lat: 12.99, Lng: 77.61})
	assert.ErrorIs(t, err, models.ErrActiveRide)
}

func TestFullTripLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.onlineDriver(t, models.Coord{Lat: 12.971, Lng: 77.591})
	// a second idle driver keeps the cell's supply positive, surge stays 1.0
	f.onlineDriver(t, models.Coord{Lat: 12.974, Lng: 77.594})
	r := f.searchingRide(t, "rider-1")

	f.trigger(r.ID, 1)
	_, err := f.c.Accept(ctx, r.ID, d.ID)
	require.NoError(t, err)

	arrived, err := f.c.MarkArrived(ctx, r.ID, d.ID)
	require.NoError(t, err)
	require.NotEmpty(t, arrived.OTPCode)
	require.NotNil(t, arrived.ArrivedAt)

	f.advance(time.Minute)
	_, err = f.c.VerifyOTP(ctx, r.ID, "rider-1", arrived.OTPCode)
	require.NoError(t, err)
	assert.Equal(t, models.RideOngoing, f.ride(t, r.ID).Status)

	require.NoError(t, f.c.RecordDistance(ctx, r.ID, 3.5))
	require.NoError(t, f.c.RecordDistance(ctx, r.ID, 2.5))

	done, err := f.c.Complete(ctx, r.ID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RideCompleted, done.Status)
	require.NotNil(t, done.FinalFare)
	// 40 base + 6 km * 12, surge 1.0, above the 60 minimum
	assert.InDelta(t, 112.00, *done.FinalFare, 0.001)

	got := f.driver(t, d.ID)
	assert.Equal(t, models.DriverOnline, got.Status)
	assert.Equal(t, 1, got.CompletedRides)
}

func TestVerifyOTPWrongCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.onlineDriver(t, models.Coord{Lat: 12.971, Lng: 77.591})
	r := f.searchingRide(t, "rider-1")
	f.trigger(r.ID, 1)
	_, err := f.c.Accept(ctx, r.ID, d.ID)
	require.NoError(t, err)
	_, err = f.c.MarkArrived(ctx, r.ID, d.ID)
	require.NoError(t, err)

	_, err = f.c.VerifyOTP(ctx, r.ID, "rider-1", "0000")
	assert.Error(t, err)
	assert.Equal(t, models.RideArrived, f.ride(t, r.ID).Status)
}

func TestRideOTPRiderOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.onlineDriver(t, models.Coord{Lat: 12.971, Lng: 77.591})
	r := f.searchingRide(t, "rider-1")
	f.trigger(r.ID, 1)
	_, err := f.c.Accept(ctx, r.ID, d.ID)
	require.NoError(t, err)

	_, err = f.c.RideOTP(ctx, r.ID, "rider-1")
	assert.True(t, models.IsInvalidTransition(err), "no code before arrival")

	arrived, err := f.c.MarkArrived(ctx, r.ID, d.ID)
	require.NoError(t, err)

	code, err := f.c.RideOTP(ctx, r.ID, "rider-1")
	require.NoError(t, err)
	assert.Equal(t, arrived.OTPCode, code)

	_, err = f.c.RideOTP(ctx, r.ID, "someone-else")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCancelReleasesDriver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.onlineDriver(t, models.Coord{Lat: 12.971, Lng: 77.591})
	r := f.searchingRide(t, "rider-1")
	f.trigger(r.ID, 1)
	_, err := f.c.Accept(ctx, r.ID, d.ID)
	require.NoError(t, err)

	got, err := f.c.Cancel(ctx, r.ID, models.CancelledByRider)
	require.NoError(t, err)
	assert.Equal(t, models.RideCancelled, got.Status)
	assert.Empty(t, got.DriverID)
	assert.Equal(t, models.CancelledByRider, got.CancelledBy)
	assert.Equal(t, models.DriverOnline, f.driver(t, d.ID).Status)

	_, err = f.c.Cancel(ctx, r.ID, models.CancelledByRider)
	assert.True(t, models.IsInvalidTransition(err), "terminal ride cannot be cancelled again")
}

func TestDriverCancelBumpsCounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.onlineDriver(t, models.Coord{Lat: 12.971, Lng: 77.591})
	r := f.searchingRide(t, "rider-1")
	f.trigger(r.ID, 1)
	_, err := f.c.Accept(ctx, r.ID, d.ID)
	require.NoError(t, err)

	_, err = f.c.Cancel(ctx, r.ID, models.CancelledByDriver)
	require.NoError(t, err)
	assert.Equal(t, 1, f.driver(t, d.ID).CancelledRides)
}

func TestNoShowTooEarly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.onlineDriver(t, models.Coord{Lat: 12.971, Lng: 77.591})
	r := f.searchingRide(t, "rider-1")
	f.trigger(r.ID, 1)
	_, err := f.c.Accept(ctx, r.ID, d.ID)
	require.NoError(t, err)
	_, err = f.c.MarkArrived(ctx, r.ID, d.ID)
	require.NoError(t, err)

	f.advance(4 * time.Minute)
	_, err = f.c.MarkNoShow(ctx, r.ID, d.ID)
	assert.ErrorIs(t, err, ErrNoShowTooEarly)

	f.advance(time.Minute)
	got, err := f.c.MarkNoShow(ctx, r.ID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RideNoShow, got.Status)
	assert.Equal(t, models.DriverOnline, f.driver(t, d.ID).Status)
	assert.Equal(t, 1, f.driver(t, d.ID).NoShows)
}

func TestScheduledNoShowCheckFiresAfterWait(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.onlineDriver(t, models.Coord{Lat: 12.971, Lng: 77.591})
	r := f.searchingRide(t, "rider-1")
	f.trigger(r.ID, 1)
	_, err := f.c.Accept(ctx, r.ID, d.ID)
	require.NoError(t, err)
	f.sched.Fire() // drain the now-stale offer timer
	_, err = f.c.MarkArrived(ctx, r.ID, d.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.sched.Pending())

	f.advance(5 * time.Minute)
	f.sched.Fire()

	assert.Equal(t, models.RideNoShow, f.ride(t, r.ID).Status)
}

func TestScheduledNoShowCheckIsNoopAfterBoarding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.onlineDriver(t, models.Coord{Lat: 12.971, Lng: 77.591})
	r := f.searchingRide(t, "rider-1")
	f.trigger(r.ID, 1)
	_, err := f.c.Accept(ctx, r.ID, d.ID)
	require.NoError(t, err)
	f.sched.Fire()
	arrived, err := f.c.MarkArrived(ctx, r.ID, d.ID)
	require.NoError(t, err)
	_, err = f.c.VerifyOTP(ctx, r.ID, "rider-1", arrived.OTPCode)
	require.NoError(t, err)

	f.advance(5 * time.Minute)
	f.sched.Fire() // no-show timer sees ONGOING and does nothing

	assert.Equal(t, models.RideOngoing, f.ride(t, r.ID).Status)
}

func TestGoOfflineBlockedDuringRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.onlineDriver(t, models.Coord{Lat: 12.971, Lng: 77.591})
	r := f.searchingRide(t, "rider-1")
	f.trigger(r.ID, 1)
	_, err := f.c.Accept(ctx, r.ID, d.ID)
	require.NoError(t, err)

	_, err = f.c.GoOffline(ctx, d.ID)
	assert.ErrorIs(t, err, models.ErrDriverHasActiveRide)
}

func TestGoOnlineBlockedDuringRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.onlineDriver(t, models.Coord{Lat: 12.971, Lng: 77.591})
	r := f.searchingRide(t, "rider-1")
	f.trigger(r.ID, 1)
	_, err := f.c.Accept(ctx, r.ID, d.ID)
	require.NoError(t, err)

	// a busy driver must not slip back into the candidate pool
	_, err = f.c.GoOnline(ctx, d.ID, models.Coord{Lat: 12.971, Lng: 77.591})
	assert.ErrorIs(t, err, models.ErrDriverHasActiveRide)
	assert.Equal(t, models.DriverBusy, f.driver(t, d.ID).Status)

	r2 := f.searchingRide(t, "rider-2")
	f.trigger(r2.ID, 1)

	got := f.ride(t, r2.ID)
	assert.Equal(t, models.RideSearching, got.Status)
	assert.Empty(t, got.DriverID)
	assert.Equal(t, []string{d.ID}, f.notifier.offered())
}

func TestBlockedDriverStaysOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.onlineDriver(t, models.Coord{Lat: 12.971, Lng: 77.591})

	_, err := f.c.BlockDriver(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DriverBlocked, f.driver(t, d.ID).Status)

	_, err = f.c.GoOnline(ctx, d.ID, models.Coord{Lat: 12.971, Lng: 77.591})
	assert.True(t, models.IsInvalidTransition(err))

	// blocked drivers never surface as candidates
	ids, err := f.geo.Nearby(ctx, 12.97, 77.59, 5, 5)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = f.c.UnblockDriver(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DriverOffline, f.driver(t, d.ID).Status)
}

func TestForceRedispatchReleasesOffer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.onlineDriver(t, models.Coord{Lat: 12.971, Lng: 77.591})
	r := f.searchingRide(t, "rider-1")
	f.trigger(r.ID, 1)

	require.NoError(t, f.c.ForceRedispatch(ctx, r.ID))

	got := f.ride(t, r.ID)
	assert.Equal(t, models.RideSearching, got.Status)
	assert.Equal(t, []string{d.ID}, got.RejectedDriverIDs)
	assert.Equal(t, models.DriverOnline, f.driver(t, d.ID).Status)
}

func TestSurgeAppliedToFinalFare(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.onlineDriver(t, models.Coord{Lat: 12.971, Lng: 77.591})
	r := f.searchingRide(t, "rider-1")

	// pile demand on the pickup cell with no supply left after the offer
	cell := surge.CellID(r.Pickup.Lat, r.Pickup.Lng)
	for i := 0; i < 5; i++ {
		require.NoError(t, f.c.Surge.IncrDemand(ctx, cell))
	}

	f.trigger(r.ID, 1)
	_, err := f.c.Accept(ctx, r.ID, d.ID)
	require.NoError(t, err)
	arrived, err := f.c.MarkArrived(ctx, r.ID, d.ID)
	require.NoError(t, err)
	_, err = f.c.VerifyOTP(ctx, r.ID, "rider-1", arrived.OTPCode)
	require.NoError(t, err)
	require.NoError(t, f.c.RecordDistance(ctx, r.ID, 10))

	done, err := f.c.Complete(ctx, r.ID, d.ID)
	require.NoError(t, err)
	require.NotNil(t, done.FinalFare)
	// (40 + 10*12) * 3.0 with supply exhausted in the cell
	assert.InDelta(t, 480.00, *done.FinalFare, 0.001)
}

func TestCompleteWithoutTrackingUsesPlannedDistance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.onlineDriver(t, models.Coord{Lat: 12.971, Lng: 77.591})
	r := f.searchingRide(t, "rider-1")
	require.Greater(t, r.PlannedDistanceKm, 0.0)

	f.trigger(r.ID, 1)
	_, err := f.c.Accept(ctx, r.ID, d.ID)
	require.NoError(t, err)
	arrived, err := f.c.MarkArrived(ctx, r.ID, d.ID)
	require.NoError(t, err)
	_, err = f.c.VerifyOTP(ctx, r.ID, "rider-1", arrived.OTPCode)
	require.NoError(t, err)

	done, err := f.c.Complete(ctx, r.ID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, r.PlannedDistanceKm, done.ActualDistanceKm)
}

func TestBusyDriverInvariant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d1 := f.onlineDriver(t, models.Coord{Lat: 12.9701, Lng: 77.5901})
	r1 := f.searchingRide(t, "rider-1")
	f.trigger(r1.ID, 1)
	require.Equal(t, d1.ID, f.ride(t, r1.ID).DriverID)

	// second ride in the same area must not see the busy driver
	r2, err := f.c.CreateRide(ctx, "rider-2",
		models.Coord{Lat: 12.9702, Lng: 77.5902}, models.Coord{Lat: 12.99, Lng: 77.61})
	require.NoError(t, err)
	f.trigger(r2.ID, 1)

	assert.Equal(t, models.RideSearching, f.ride(t, r2.ID).Status)
	assert.Empty(t, f.ride(t, r2.ID).DriverID)
}

func TestConcurrentAcceptAndTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.onlineDriver(t, models.Coord{Lat: 12.971, Lng: 77.591})
	r := f.searchingRide(t, "rider-1")
	f.trigger(r.ID, 1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = f.c.Accept(ctx, r.ID, d.ID)
	}()
	go func() {
		defer wg.Done()
		f.c.expireOffer(ctx, r.ID, d.ID)
	}()
	wg.Wait()

	// exactly one side wins; either way the state pair stays coherent
	got := f.ride(t, r.ID)
	drv := f.driver(t, d.ID)
	switch got.Status {
	case models.RideAssigned:
		assert.Equal(t, d.ID, got.DriverID)
		assert.Equal(t, models.DriverBusy, drv.Status)
	case models.RideSearching:
		assert.Empty(t, got.DriverID)
		assert.Equal(t, models.DriverOnline, drv.Status)
	default:
		t.Fatalf("unexpected ride status %s", got.Status)
	}
}
