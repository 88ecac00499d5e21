package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/domain"
)

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

func (p *PostgresStore) SaveRide(ctx context.Context, r *domain.Ride) error {
	pickup, dropoff, stops, route, price, meta, err := marshalRide(r)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO rides(
			id, rider_id, driver_id, vehicle_id, pickup, dropoff, stops,
			ride_type, status, payment_method, route, price, promo_code,
			cancellation_reason, cancelled_by, rider_rating, driver_rating,
			metadata, scheduled_for, requested_at, accepted_at, arrived_at,
			started_at, completed_at, cancelled_at, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)`,
		r.ID, r.RiderID, r.DriverID, r.VehicleID, pickup, dropoff, stops,
		r.Type, r.Status, r.PaymentMethod, route, price, nullStr(r.PromoCode),
		nullStr(r.CancellationReason), r.CancelledBy, r.RiderRating, r.DriverRating,
		meta, r.ScheduledFor, r.RequestedAt, r.AcceptedAt, r.ArrivedAt,
		r.StartedAt, r.CompletedAt, r.CancelledAt, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) UpdateRide(ctx context.Context, r *domain.Ride) error {
	_, _, _, route, price, meta, err := marshalRide(r)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `UPDATE rides SET
			driver_id=$1, vehicle_id=$2, status=$3, route=$4, price=$5,
			cancellation_reason=$6, cancelled_by=$7, rider_rating=$8,
			driver_rating=$9, metadata=$10, accepted_at=$11, arrived_at=$12,
			started_at=$13, completed_at=$14, cancelled_at=$15, updated_at=$16
		WHERE id=$17`,
		r.DriverID, r.VehicleID, r.Status, route, price,
		nullStr(r.CancellationReason), r.CancelledBy, r.RiderRating,
		r.DriverRating, meta, r.AcceptedAt, r.ArrivedAt,
		r.StartedAt, r.CompletedAt, r.CancelledAt, time.Now().UTC(), r.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrRideNotFound
	}
	return nil
}

func (p *PostgresStore) GetRide(ctx context.Context, id uuid.UUID) (*domain.Ride, error) {
	row := p.db.QueryRowContext(ctx, selectRide+` WHERE id=$1`, id)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRideNotFound
	}
	return r, err
}

func (p *PostgresStore) GetActiveRideByRider(ctx context.Context, riderID uuid.UUID) (*domain.Ride, error) {
	row := p.db.QueryRowContext(ctx, selectRide+
		` WHERE rider_id=$1 AND status NOT IN ('COMPLETED','CANCELLED') ORDER BY created_at DESC LIMIT 1`, riderID)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (p *PostgresStore) GetActiveRideByDriver(ctx context.Context, driverID uuid.UUID) (*domain.Ride, error) {
	row := p.db.QueryRowContext(ctx, selectRide+
		` WHERE driver_id=$1 AND status NOT IN ('COMPLETED','CANCELLED') ORDER BY created_at DESC LIMIT 1`, driverID)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (p *PostgresStore) ListRidesByRider(ctx context.Context, riderID uuid.UUID, limit int) ([]*domain.Ride, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.db.QueryContext(ctx, selectRide+
		` WHERE rider_id=$1 ORDER BY created_at DESC LIMIT $2`, riderID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const selectRide = `SELECT id, rider_id, driver_id, vehicle_id, pickup, dropoff, stops,
	ride_type, status, payment_method, route, price, promo_code,
	cancellation_reason, cancelled_by, rider_rating, driver_rating, metadata,
	scheduled_for, requested_at, accepted_at, arrived_at, started_at,
	completed_at, cancelled_at, created_at, updated_at FROM rides`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*domain.Ride, error) {
	var (
		r                             domain.Ride
		pickup, dropoff               []byte
		stops, route, price, meta     []byte
		promoCode, cancellationReason sql.NullString
	)
	err := row.Scan(&r.ID, &r.RiderID, &r.DriverID, &r.VehicleID, &pickup, &dropoff, &stops,
		&r.Type, &r.Status, &r.PaymentMethod, &route, &price, &promoCode,
		&cancellationReason, &r.CancelledBy, &r.RiderRating, &r.DriverRating, &meta,
		&r.ScheduledFor, &r.RequestedAt, &r.AcceptedAt, &r.ArrivedAt, &r.StartedAt,
		&r.CompletedAt, &r.CancelledAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(pickup, &r.Pickup); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(dropoff, &r.Dropoff); err != nil {
		return nil, err
	}
	if len(stops) > 0 {
		if err := json.Unmarshal(stops, &r.Stops); err != nil {
			return nil, err
		}
	}
	if len(route) > 0 {
		if err := json.Unmarshal(route, &r.Route); err != nil {
			return nil, err
		}
	}
	if len(price) > 0 {
		if err := json.Unmarshal(price, &r.Price); err != nil {
			return nil, err
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &r.Metadata); err != nil {
			return nil, err
		}
	}
	r.PromoCode = promoCode.String
	r.CancellationReason = cancellationReason.String
	return &r, nil
}

func marshalRide(r *domain.Ride) (pickup, dropoff, stops, route, price, meta []byte, err error) {
	if pickup, err = json.Marshal(r.Pickup); err != nil {
		return
	}
	if dropoff, err = json.Marshal(r.Dropoff); err != nil {
		return
	}
	if r.Stops != nil {
		if stops, err = json.Marshal(r.Stops); err != nil {
			return
		}
	}
	if r.Route != nil {
		if route, err = json.Marshal(r.Route); err != nil {
			return
		}
	}
	if r.Price != nil {
		if price, err = json.Marshal(r.Price); err != nil {
			return
		}
	}
	if r.Metadata != nil {
		meta, err = json.Marshal(r.Metadata)
	}
	return
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
