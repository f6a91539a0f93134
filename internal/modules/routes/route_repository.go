package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"courier-routing/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryInterface defines persistence for claimed courier routes. Claim
// runs inside a caller-owned transaction so the route insert and the order
// claims commit or roll back together.
type RepositoryInterface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	CreateDraftTx(ctx context.Context, tx pgx.Tx, route *models.CourierRoute) error
	FindByID(ctx context.Context, routeID string) (*models.CourierRoute, error)
	ListByCourier(ctx context.Context, courierID string, page, limit int) ([]*models.CourierRoute, int, error)
	Update(ctx context.Context, route *models.CourierRoute) error
	UpdateTx(ctx context.Context, tx pgx.Tx, route *models.CourierRoute) error
}

// Repository implements RepositoryInterface on PostgreSQL. The stop list is
// stored as a JSONB document; scalar progress fields are proper columns so
// history queries do not have to unpack the document.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) RepositoryInterface {
	return &Repository{db: db}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository.Begin: %w", err)
	}
	return tx, nil
}

func (r *Repository) CreateDraftTx(ctx context.Context, tx pgx.Tx, route *models.CourierRoute) error {
	stops, err := json.Marshal(route.Stops)
	if err != nil {
		return fmt.Errorf("repository.CreateDraftTx: encode stops: %w", err)
	}

	const query = `
		INSERT INTO courier_routes (
			id, courier_id, status, start_lat, start_lng, target_duration_min,
			stops, current_stop_index, completed_stops,
			estimated_duration_min, estimated_distance_km, estimated_earnings,
			actual_earnings, order_ids
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at`

	err = tx.QueryRow(ctx, query,
		route.ID, route.CourierID, route.Status,
		route.Start.Lat, route.Start.Lng, route.TargetDurationMin,
		stops, route.CurrentStopIndex, route.CompletedStops,
		route.EstimatedDurationMin, route.EstimatedDistanceKm, route.EstimatedEarnings,
		route.ActualEarnings, route.OrderIDs,
	).Scan(&route.CreatedAt, &route.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository.CreateDraftTx: %w", err)
	}
	return nil
}

const selectColumns = `
	id, courier_id, status, start_lat, start_lng, target_duration_min,
	stops, current_stop_index, completed_stops,
	estimated_duration_min, estimated_distance_km, estimated_earnings,
	actual_earnings, order_ids, actual_start_time, completed_at,
	abandoned_at, abandon_reason, created_at, updated_at`

func (r *Repository) FindByID(ctx context.Context, routeID string) (*models.CourierRoute, error) {
	query := `SELECT ` + selectColumns + ` FROM courier_routes WHERE id = $1`
	route, err := scanRoute(r.db.QueryRow(ctx, query, routeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("repository.FindByID: %w", err)
	}
	return route, nil
}

func (r *Repository) ListByCourier(ctx context.Context, courierID string, page, limit int) ([]*models.CourierRoute, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM courier_routes WHERE courier_id = $1`, courierID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repository.ListByCourier: count: %w", err)
	}

	query := `SELECT ` + selectColumns + `
		FROM courier_routes
		WHERE courier_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, courierID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("repository.ListByCourier: %w", err)
	}
	defer rows.Close()

	out := make([]*models.CourierRoute, 0, limit)
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("repository.ListByCourier: scan: %w", err)
		}
		out = append(out, route)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("repository.ListByCourier: %w", err)
	}
	return out, total, nil
}

func (r *Repository) Update(ctx context.Context, route *models.CourierRoute) error {
	return r.update(ctx, r.db, route)
}

func (r *Repository) UpdateTx(ctx context.Context, tx pgx.Tx, route *models.CourierRoute) error {
	return r.update(ctx, tx, route)
}

type execer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repository) update(ctx context.Context, db execer, route *models.CourierRoute) error {
	stops, err := json.Marshal(route.Stops)
	if err != nil {
		return fmt.Errorf("repository.Update: encode stops: %w", err)
	}

	const query = `
		UPDATE courier_routes SET
			status = $2, stops = $3, current_stop_index = $4,
			completed_stops = $5, actual_earnings = $6,
			actual_start_time = $7, completed_at = $8,
			abandoned_at = $9, abandon_reason = $10,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err = db.QueryRow(ctx, query,
		route.ID, route.Status, stops, route.CurrentStopIndex,
		route.CompletedStops, route.ActualEarnings,
		route.ActualStartTime, route.CompletedAt,
		route.AbandonedAt, nullableString(route.AbandonReason),
	).Scan(&route.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrNotFound
		}
		return fmt.Errorf("repository.Update: %w", err)
	}
	return nil
}

// scanRoute reads one courier_routes row into a model.
func scanRoute(row pgx.Row) (*models.CourierRoute, error) {
	var route models.CourierRoute
	var stops []byte
	var abandonReason *string
	err := row.Scan(
		&route.ID, &route.CourierID, &route.Status,
		&route.Start.Lat, &route.Start.Lng, &route.TargetDurationMin,
		&stops, &route.CurrentStopIndex, &route.CompletedStops,
		&route.EstimatedDurationMin, &route.EstimatedDistanceKm, &route.EstimatedEarnings,
		&route.ActualEarnings, &route.OrderIDs, &route.ActualStartTime, &route.CompletedAt,
		&route.AbandonedAt, &abandonReason, &route.CreatedAt, &route.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stops, &route.Stops); err != nil {
		return nil, fmt.Errorf("decode stops: %w", err)
	}
	if abandonReason != nil {
		route.AbandonReason = *abandonReason
	}
	return &route, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
