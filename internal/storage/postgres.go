package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

// PostgresStore persists rides and drivers in Postgres.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

const rideColumns = `id, rider_id, driver_id, pickup_lat, pickup_lng, drop_lat, drop_lng,
	planned_polyline, planned_distance_km, planned_duration_min, status,
	rejected_driver_ids, search_attempt, otp_code, otp_expires_at, otp_verified_at,
	arrived_at, cancelled_at, cancelled_by, actual_distance_km, base_fare, final_fare,
	created_at, updated_at`

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides(`+rideColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
		r.ID, r.RiderID, nullStr(r.DriverID), r.Pickup.Lat, r.Pickup.Lng, r.Drop.Lat, r.Drop.Lng,
		nullStr(r.PlannedPolyline), r.PlannedDistanceKm, r.PlannedDurationMin, string(r.Status),
		pq.Array(r.RejectedDriverIDs), r.SearchAttempt, nullStr(r.OTPCode), r.OTPExpiresAt, r.OTPVerifiedAt,
		r.ArrivedAt, r.CancelledAt, nullStr(string(r.CancelledBy)), r.ActualDistanceKm, r.BaseFare, r.FinalFare,
		r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1`, id)
	return scanRide(row)
}

func (p *PostgresStore) SaveRide(ctx context.Context, r *models.Ride) error {
	res, err := p.db.ExecContext(ctx, `UPDATE rides SET
		driver_id=$2, status=$3, rejected_driver_ids=$4, search_attempt=$5,
		otp_code=$6, otp_expires_at=$7, otp_verified_at=$8, arrived_at=$9,
		cancelled_at=$10, cancelled_by=$11, actual_distance_km=$12, base_fare=$13,
		final_fare=$14, updated_at=$15
		WHERE id=$1`,
		r.ID, nullStr(r.DriverID), string(r.Status), pq.Array(r.RejectedDriverIDs), r.SearchAttempt,
		nullStr(r.OTPCode), r.OTPExpiresAt, r.OTPVerifiedAt, r.ArrivedAt,
		r.CancelledAt, nullStr(string(r.CancelledBy)), r.ActualDistanceKm, r.BaseFare,
		r.FinalFare, r.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (p *PostgresStore) RiderHasActiveRide(ctx context.Context, riderID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS(
		SELECT 1 FROM rides WHERE rider_id=$1
		AND status IN ('SEARCHING','OFFERED','ASSIGNED','ARRIVED','ONGOING'))`, riderID).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) DriverHasActiveRide(ctx context.Context, driverID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS(
		SELECT 1 FROM rides WHERE driver_id=$1
		AND status IN ('ASSIGNED','ARRIVED','ONGOING'))`, driverID).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) CreateDriver(ctx context.Context, d *models.Driver) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO drivers(
		id, user_id, status, last_lat, last_lng, located_at,
		completed_rides, cancelled_rides, no_shows, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		d.ID, d.UserID, string(d.Status), posVal(d, func(c models.Coord) float64 { return c.Lat }),
		posVal(d, func(c models.Coord) float64 { return c.Lng }), d.LocatedAt,
		d.CompletedRides, d.CancelledRides, d.NoShows, d.CreatedAt, d.UpdatedAt)
	return err
}

func (p *PostgresStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	var (
		d        models.Driver
		status   string
		lat, lng sql.NullFloat64
	)
	err := p.db.QueryRowContext(ctx, `SELECT id, user_id, status, last_lat, last_lng, located_at,
		completed_rides, cancelled_rides, no_shows, created_at, updated_at
		FROM drivers WHERE id=$1`, id).Scan(
		&d.ID, &d.UserID, &status, &lat, &lng, &d.LocatedAt,
		&d.CompletedRides, &d.CancelledRides, &d.NoShows, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Status = models.DriverStatus(status)
	if lat.Valid && lng.Valid {
		d.Position = models.Coord{Lat: lat.Float64, Lng: lng.Float64}
		d.HasPosition = true
	}
	return &d, nil
}

func (p *PostgresStore) SaveDriver(ctx context.Context, d *models.Driver) error {
	res, err := p.db.ExecContext(ctx, `UPDATE drivers SET
		status=$2, last_lat=$3, last_lng=$4, located_at=$5,
		completed_rides=$6, cancelled_rides=$7, no_shows=$8, updated_at=$9
		WHERE id=$1`,
		d.ID, string(d.Status), posVal(d, func(c models.Coord) float64 { return c.Lat }),
		posVal(d, func(c models.Coord) float64 { return c.Lng }), d.LocatedAt,
		d.CompletedRides, d.CancelledRides, d.NoShows, d.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*models.Ride, error) {
	var (
		r           models.Ride
		driverID    sql.NullString
		polyline    sql.NullString
		status      string
		rejected    pq.StringArray
		otpCode     sql.NullString
		cancelledBy sql.NullString
	)
	err := row.Scan(&r.ID, &r.RiderID, &driverID, &r.Pickup.Lat, &r.Pickup.Lng,
		&r.Drop.Lat, &r.Drop.Lng, &polyline, &r.PlannedDistanceKm, &r.PlannedDurationMin,
		&status, &rejected, &r.SearchAttempt, &otpCode, &r.OTPExpiresAt, &r.OTPVerifiedAt,
		&r.ArrivedAt, &r.CancelledAt, &cancelledBy, &r.ActualDistanceKm, &r.BaseFare,
		&r.FinalFare, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.DriverID = driverID.String
	r.PlannedPolyline = polyline.String
	r.Status = models.RideStatus(status)
	r.RejectedDriverIDs = []string(rejected)
	r.OTPCode = otpCode.String
	r.CancelledBy = models.CancelledBy(cancelledBy.String)
	return &r, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func posVal(d *models.Driver, f func(models.Coord) float64) sql.NullFloat64 {
	if !d.HasPosition {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f(d.Position), Valid: true}
}
