package orders

import (
	"context"
	"fmt"

	"courier-routing/internal/models"

	"github.com/jackc/pgx/v5"
)

// ServiceInterface is the order pool as other modules consume it: a source
// of available orders for route generation, and claim/release primitives for
// the lifecycle controller.
type ServiceInterface interface {
	ListAvailable(ctx context.Context, vehicleType string) ([]models.AvailableOrder, error)
	ClaimTx(ctx context.Context, tx pgx.Tx, orderID, courierID string) error
	Release(ctx context.Context, orderIDs []string) error
	ReleaseTx(ctx context.Context, tx pgx.Tx, orderIDs []string) error
}

// Service implements ServiceInterface over the repository.
type Service struct {
	repo RepositoryInterface
}

func NewService(repo RepositoryInterface) *Service {
	return &Service{repo: repo}
}

func (s *Service) ListAvailable(ctx context.Context, vehicleType string) ([]models.AvailableOrder, error) {
	orders, err := s.repo.ListAvailable(ctx, models.VehicleProfile{Type: vehicleType})
	if err != nil {
		return nil, fmt.Errorf("service.ListAvailable: %w", err)
	}
	return orders, nil
}

func (s *Service) ClaimTx(ctx context.Context, tx pgx.Tx, orderID, courierID string) error {
	return s.repo.ClaimTx(ctx, tx, orderID, courierID)
}

func (s *Service) Release(ctx context.Context, orderIDs []string) error {
	return s.repo.Release(ctx, orderIDs)
}

func (s *Service) ReleaseTx(ctx context.Context, tx pgx.Tx, orderIDs []string) error {
	return s.repo.ReleaseTx(ctx, tx, orderIDs)
}
