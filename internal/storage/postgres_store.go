package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/example/freight-marketplace/internal/models"
)

// uniqueViolation is the Postgres error code raised when the
// (freight_id, driver_id) constraint fires.
const uniqueViolation = "23505"

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

func activeStatusArray() pq.StringArray {
	arr := make(pq.StringArray, len(models.ActiveAssignmentStatuses))
	for i, s := range models.ActiveAssignmentStatuses {
		arr[i] = string(s)
	}
	return arr
}

func (p *PostgresStore) GetFreight(ctx context.Context, id string) (*models.Freight, error) {
	var f models.Freight
	err := p.db.QueryRowContext(ctx, `SELECT id, producer_id, status, required_trucks, accepted_trucks, price, pricing_type, distance_km, weight_tons, minimum_antt_price, created_at, updated_at FROM freights WHERE id=$1`, id).
		Scan(&f.ID, &f.ProducerID, &f.Status, &f.RequiredTrucks, &f.AcceptedTrucks, &f.Price, &f.PricingType, &f.DistanceKm, &f.WeightTons, &f.MinimumAnttPrice, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFreightNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (p *PostgresStore) SaveFreight(ctx context.Context, f *models.Freight) error {
	f.UpdatedAt = time.Now()
	_, err := p.db.ExecContext(ctx, `INSERT INTO freights(id, producer_id, status, required_trucks, accepted_trucks, price, pricing_type, distance_km, weight_tons, minimum_antt_price, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, required_trucks=EXCLUDED.required_trucks, accepted_trucks=EXCLUDED.accepted_trucks, price=EXCLUDED.price, pricing_type=EXCLUDED.pricing_type, distance_km=EXCLUDED.distance_km, weight_tons=EXCLUDED.weight_tons, minimum_antt_price=EXCLUDED.minimum_antt_price, updated_at=EXCLUDED.updated_at`,
		f.ID, f.ProducerID, f.Status, f.RequiredTrucks, f.AcceptedTrucks, f.Price, f.PricingType, f.DistanceKm, f.WeightTons, f.MinimumAnttPrice, f.CreatedAt, f.UpdatedAt)
	return err
}

func (p *PostgresStore) CountActiveAssignments(ctx context.Context, freightID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assignments WHERE freight_id=$1 AND status = ANY($2)`, freightID, activeStatusArray()).Scan(&n)
	return n, err
}

func (p *PostgresStore) AssignmentExists(ctx context.Context, freightID, driverID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM assignments WHERE freight_id=$1 AND driver_id=$2)`, freightID, driverID).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) InsertAssignment(ctx context.Context, a *models.Assignment) error {
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	_, err := p.db.ExecContext(ctx, `INSERT INTO assignments(id, freight_id, driver_id, company_id, status, agreed_price, pricing_type, price_per_km, minimum_antt_price, payment_intent_id, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		a.ID, a.FreightID, a.DriverID, nullString(a.CompanyID), a.Status, a.AgreedPrice, a.PricingType, a.PricePerKm, a.MinimumAnttPrice, nullString(a.PaymentIntentID), a.CreatedAt, a.UpdatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicateAssignment
	}
	return err
}

func (p *PostgresStore) GetAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	a, err := scanAssignment(p.db.QueryRowContext(ctx, `SELECT id, freight_id, driver_id, company_id, status, agreed_price, pricing_type, price_per_km, minimum_antt_price, payment_intent_id, created_at, updated_at FROM assignments WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAssignmentNotFound
	}
	return a, err
}

func (p *PostgresStore) ListAssignments(ctx context.Context, freightID string) ([]models.Assignment, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, freight_id, driver_id, company_id, status, agreed_price, pricing_type, price_per_km, minimum_antt_price, payment_intent_id, created_at, updated_at FROM assignments WHERE freight_id=$1 ORDER BY created_at`, freightID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SetAssignmentPayment(ctx context.Context, id, paymentIntentID string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE assignments SET payment_intent_id=$1, updated_at=$2 WHERE id=$3`, paymentIntentID, time.Now(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

func (p *PostgresStore) UpdateAssignmentStatus(ctx context.Context, id string, status models.AssignmentStatus) (*models.Assignment, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE assignments SET status=$1, updated_at=$2 WHERE id=$3`, status, time.Now(), id)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrAssignmentNotFound
	}
	return p.GetAssignment(ctx, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssignment(r rowScanner) (*models.Assignment, error) {
	var a models.Assignment
	var companyID, paymentIntentID sql.NullString
	err := r.Scan(&a.ID, &a.FreightID, &a.DriverID, &companyID, &a.Status, &a.AgreedPrice, &a.PricingType, &a.PricePerKm, &a.MinimumAnttPrice, &paymentIntentID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.CompanyID = companyID.String
	a.PaymentIntentID = paymentIntentID.String
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
