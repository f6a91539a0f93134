package orders

import (
	"context"
	"fmt"

	"courier-routing/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryInterface defines the order-pool operations the routing engine
// needs: listing unclaimed orders and the atomic claim/release pair.
type RepositoryInterface interface {
	// ListAvailable returns unclaimed, routable orders a vehicle of the
	// given type can carry.
	ListAvailable(ctx context.Context, vehicle models.VehicleProfile) ([]models.AvailableOrder, error)
	// ClaimTx claims one order for a courier inside the caller's
	// transaction. The update is conditional on the order being unclaimed;
	// losing the race returns models.ErrConflict.
	ClaimTx(ctx context.Context, tx pgx.Tx, orderID, courierID string) error
	// Release unclaims the given orders, returning them to the pool.
	Release(ctx context.Context, orderIDs []string) error
	// ReleaseTx is Release inside the caller's transaction, so an abandon
	// commits the route transition and the order releases together.
	ReleaseTx(ctx context.Context, tx pgx.Tx, orderIDs []string) error
}

// Repository implements RepositoryInterface on PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) RepositoryInterface {
	return &Repository{db: db}
}

func (r *Repository) ListAvailable(ctx context.Context, vehicle models.VehicleProfile) ([]models.AvailableOrder, error) {
	const query = `
		SELECT id, pickup_lat, pickup_lng, pickup_address, pickup_city,
		       dropoff_lat, dropoff_lng, dropoff_address, dropoff_city,
		       contact_name, contact_phone, value, courier_earning,
		       shipping_size, deadline, requires_pickup
		FROM orders
		WHERE claimed_by IS NULL
		  AND status = 'READY_FOR_COURIER'
		  AND shipping_size = ANY($1)
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, carriableSizes(vehicle))
	if err != nil {
		return nil, fmt.Errorf("repository.ListAvailable: %w", err)
	}
	defer rows.Close()

	out := make([]models.AvailableOrder, 0)
	for rows.Next() {
		var o models.AvailableOrder
		err := rows.Scan(
			&o.ID,
			&o.PickupLocation.Lat, &o.PickupLocation.Lng, &o.PickupAddress, &o.PickupCity,
			&o.DropoffLocation.Lat, &o.DropoffLocation.Lng, &o.DropoffAddress, &o.DropoffCity,
			&o.ContactName, &o.ContactPhone, &o.Value, &o.Earning,
			&o.ShippingSize, &o.Deadline, &o.RequiresPickup,
		)
		if err != nil {
			return nil, fmt.Errorf("repository.ListAvailable: scan: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.ListAvailable: %w", err)
	}
	return out, nil
}

func (r *Repository) ClaimTx(ctx context.Context, tx pgx.Tx, orderID, courierID string) error {
	const query = `
		UPDATE orders
		SET claimed_by = $2, claimed_at = now(), updated_at = now()
		WHERE id = $1 AND claimed_by IS NULL`

	tag, err := tx.Exec(ctx, query, orderID, courierID)
	if err != nil {
		return fmt.Errorf("repository.ClaimTx: order %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		// Either claimed by someone else between generation and claim time,
		// or the order no longer exists. Both are a claim conflict.
		return fmt.Errorf("repository.ClaimTx: order %s already claimed: %w", orderID, models.ErrConflict)
	}
	return nil
}

const releaseQuery = `
	UPDATE orders
	SET claimed_by = NULL, claimed_at = NULL, updated_at = now()
	WHERE id = ANY($1)`

func (r *Repository) Release(ctx context.Context, orderIDs []string) error {
	if len(orderIDs) == 0 {
		return nil
	}
	if _, err := r.db.Exec(ctx, releaseQuery, orderIDs); err != nil {
		return fmt.Errorf("repository.Release: %w", err)
	}
	return nil
}

func (r *Repository) ReleaseTx(ctx context.Context, tx pgx.Tx, orderIDs []string) error {
	if len(orderIDs) == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, releaseQuery, orderIDs); err != nil {
		return fmt.Errorf("repository.ReleaseTx: %w", err)
	}
	return nil
}

func carriableSizes(vehicle models.VehicleProfile) []string {
	sizes := []string{string(models.ShippingSizeSmall)}
	switch vehicle.MaxShippingSize() {
	case models.ShippingSizeLarge:
		sizes = append(sizes, string(models.ShippingSizeMedium), string(models.ShippingSizeLarge))
	case models.ShippingSizeMedium:
		sizes = append(sizes, string(models.ShippingSizeMedium))
	}
	return sizes
}
