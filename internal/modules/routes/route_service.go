package routes

import (
	"context"
	"fmt"
	"log"
	"time"

	"courier-routing/internal/models"
	"courier-routing/internal/modules/orders"
	"courier-routing/internal/modules/routecache"

	"github.com/google/uuid"
)

// ServiceInterface is the route lifecycle controller: claiming a candidate
// and driving the draft -> active -> completed/abandoned state machine.
type ServiceInterface interface {
	Claim(ctx context.Context, courierID, candidateID string) (*models.CourierRoute, error)
	GetRoute(ctx context.Context, courierID, routeID string) (*models.CourierRoute, error)
	ListRoutes(ctx context.Context, courierID string, page, limit int) ([]*models.CourierRoute, int, error)
	ArriveAtStop(ctx context.Context, courierID, routeID, stopID string) (*models.CourierRoute, error)
	CompleteStop(ctx context.Context, courierID, routeID, stopID string) (*models.CourierRoute, error)
	SkipStop(ctx context.Context, courierID, routeID, stopID string) (*models.CourierRoute, error)
	Abandon(ctx context.Context, courierID, routeID, reason string) (*models.CourierRoute, error)
}

// Service implements the lifecycle state machine. Out-of-sequence stop
// transitions and mutations of terminal routes are caller bugs and come back
// as models.ErrConflict, never retried internally.
type Service struct {
	repo   RepositoryInterface
	orders orders.ServiceInterface
	cache  routecache.ServiceInterface
	now    func() time.Time
}

func NewService(repo RepositoryInterface, orderSvc orders.ServiceInterface, cacheSvc routecache.ServiceInterface) *Service {
	return &Service{
		repo:   repo,
		orders: orderSvc,
		cache:  cacheSvc,
		now:    time.Now,
	}
}

// Claim copies a cached candidate into a persisted DRAFT route and claims
// every referenced order in one transaction. Claim status is re-validated
// per order at claim time: any order taken by another courier since
// generation rolls the whole claim back with a conflict.
func (s *Service) Claim(ctx context.Context, courierID, candidateID string) (*models.CourierRoute, error) {
	candidate, err := s.cache.Candidate(ctx, courierID, candidateID)
	if err != nil {
		return nil, fmt.Errorf("service.Claim: %w", err)
	}

	route := draftFromCandidate(courierID, candidate)

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("service.Claim: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, orderID := range route.OrderIDs {
		if err := s.orders.ClaimTx(ctx, tx, orderID, courierID); err != nil {
			return nil, fmt.Errorf("service.Claim: %w", err)
		}
	}
	if err := s.repo.CreateDraftTx(ctx, tx, route); err != nil {
		return nil, fmt.Errorf("service.Claim: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("service.Claim: commit: %w", err)
	}

	// The pool just shrank: every courier whose cache references these
	// orders (this one included) needs a regeneration pass.
	s.invalidate(ctx, courierID, route.OrderIDs)

	return route, nil
}

func draftFromCandidate(courierID string, candidate *models.CandidateRoute) *models.CourierRoute {
	stops := make([]models.RouteStop, 0, len(candidate.Stops))
	for _, stop := range candidate.Stops {
		stops = append(stops, models.RouteStop{Stop: stop, Status: models.StopStatusPending})
	}
	return &models.CourierRoute{
		ID:                   uuid.NewString(),
		CourierID:            courierID,
		Status:               models.RouteStatusDraft,
		Start:                candidate.Start,
		TargetDurationMin:    candidate.BucketMinutes,
		Stops:                stops,
		EstimatedDurationMin: candidate.EstimatedDurationMin,
		EstimatedDistanceKm:  candidate.EstimatedDistanceKm,
		EstimatedEarnings:    candidate.EstimatedEarnings,
		OrderIDs:             candidate.OrderIDs(),
	}
}

func (s *Service) GetRoute(ctx context.Context, courierID, routeID string) (*models.CourierRoute, error) {
	return s.load(ctx, courierID, routeID)
}

func (s *Service) ListRoutes(ctx context.Context, courierID string, page, limit int) ([]*models.CourierRoute, int, error) {
	routes, total, err := s.repo.ListByCourier(ctx, courierID, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("service.ListRoutes: %w", err)
	}
	return routes, total, nil
}

// ArriveAtStop marks arrival at the current stop. The first arrival takes
// the route from DRAFT to ACTIVE and stamps the actual start time.
func (s *Service) ArriveAtStop(ctx context.Context, courierID, routeID, stopID string) (*models.CourierRoute, error) {
	route, err := s.load(ctx, courierID, routeID)
	if err != nil {
		return nil, err
	}
	stop, err := currentStop(route, stopID)
	if err != nil {
		return nil, err
	}
	if stop.Status != models.StopStatusPending {
		return nil, fmt.Errorf("service.ArriveAtStop: stop %s is %s: %w", stopID, stop.Status, models.ErrConflict)
	}

	now := s.now()
	stop.Status = models.StopStatusArrived
	stop.ArrivedAt = &now
	if route.Status == models.RouteStatusDraft {
		route.Status = models.RouteStatusActive
		route.ActualStartTime = &now
	}

	if err := s.repo.Update(ctx, route); err != nil {
		return nil, fmt.Errorf("service.ArriveAtStop: %w", err)
	}
	return route, nil
}

// CompleteStop finishes the current stop. Pickup and delivery stops must
// have been arrived at first; a break may complete directly. Completing the
// last stop completes the route.
func (s *Service) CompleteStop(ctx context.Context, courierID, routeID, stopID string) (*models.CourierRoute, error) {
	route, err := s.load(ctx, courierID, routeID)
	if err != nil {
		return nil, err
	}
	stop, err := currentStop(route, stopID)
	if err != nil {
		return nil, err
	}

	switch {
	case stop.Status == models.StopStatusArrived:
	case stop.Status == models.StopStatusPending && stop.Type == models.StopTypeBreak:
	default:
		return nil, fmt.Errorf("service.CompleteStop: stop %s is %s, arrival required first: %w", stopID, stop.Status, models.ErrConflict)
	}

	now := s.now()
	stop.Status = models.StopStatusCompleted
	stop.CompletedAt = &now
	route.CompletedStops++
	route.ActualEarnings += stop.Earning
	route.CurrentStopIndex++
	if route.Status == models.RouteStatusDraft {
		// Breaks can complete without a prior arrival, so activation may
		// happen here as well.
		route.Status = models.RouteStatusActive
		route.ActualStartTime = &now
	}
	s.finalizeIfDone(route, now)

	if err := s.repo.Update(ctx, route); err != nil {
		return nil, fmt.Errorf("service.CompleteStop: %w", err)
	}
	return route, nil
}

// SkipStop bypasses the current stop (customer unreachable, store closed).
// Skipping a pickup also skips its paired delivery and releases the order
// back to the pool; skipping a delivery after a completed pickup keeps the
// order claimed, since the courier still holds the item.
func (s *Service) SkipStop(ctx context.Context, courierID, routeID, stopID string) (*models.CourierRoute, error) {
	route, err := s.load(ctx, courierID, routeID)
	if err != nil {
		return nil, err
	}
	stop, err := currentStop(route, stopID)
	if err != nil {
		return nil, err
	}
	if stop.Status != models.StopStatusPending && stop.Status != models.StopStatusArrived {
		return nil, fmt.Errorf("service.SkipStop: stop %s is %s: %w", stopID, stop.Status, models.ErrConflict)
	}

	now := s.now()
	stop.Status = models.StopStatusSkipped
	stop.SkippedAt = &now
	route.CurrentStopIndex++

	released := make([]string, 0, 1)
	if stop.OrderID != "" {
		pickedUp := false
		for i := range route.Stops {
			other := &route.Stops[i]
			if other.OrderID != stop.OrderID {
				continue
			}
			if other.Type == models.StopTypePickup && other.Status == models.StopStatusCompleted {
				pickedUp = true
			}
			// A delivery is pointless without its pickup; fold it into the skip.
			if stop.Type == models.StopTypePickup && other.Type == models.StopTypeDelivery && other.Status == models.StopStatusPending {
				other.Status = models.StopStatusSkipped
				other.SkippedAt = &now
			}
		}
		if !pickedUp {
			released = append(released, stop.OrderID)
		}
	}
	s.finalizeIfDone(route, now)

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("service.SkipStop: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := s.orders.ReleaseTx(ctx, tx, released); err != nil {
		return nil, fmt.Errorf("service.SkipStop: %w", err)
	}
	if err := s.repo.UpdateTx(ctx, tx, route); err != nil {
		return nil, fmt.Errorf("service.SkipStop: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("service.SkipStop: commit: %w", err)
	}

	if len(released) > 0 {
		s.invalidate(ctx, courierID, released)
	}
	return route, nil
}

// Abandon terminates a non-terminal route and releases every order whose
// stops were not yet resolved, in the same transaction as the transition, so
// no claimed-but-unrouted orders can survive a crash between the two.
func (s *Service) Abandon(ctx context.Context, courierID, routeID, reason string) (*models.CourierRoute, error) {
	route, err := s.load(ctx, courierID, routeID)
	if err != nil {
		return nil, err
	}
	if route.Status.Terminal() {
		return nil, fmt.Errorf("service.Abandon: route %s is %s: %w", routeID, route.Status, models.ErrConflict)
	}

	now := s.now()
	released := route.UnresolvedOrderIDs()
	route.Status = models.RouteStatusAbandoned
	route.AbandonedAt = &now
	route.AbandonReason = reason

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("service.Abandon: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := s.orders.ReleaseTx(ctx, tx, released); err != nil {
		return nil, fmt.Errorf("service.Abandon: %w", err)
	}
	if err := s.repo.UpdateTx(ctx, tx, route); err != nil {
		return nil, fmt.Errorf("service.Abandon: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("service.Abandon: commit: %w", err)
	}

	s.invalidate(ctx, courierID, released)
	return route, nil
}

// load fetches a route and checks ownership. Foreign routes come back as
// not-found rather than forbidden so route IDs cannot be probed.
func (s *Service) load(ctx context.Context, courierID, routeID string) (*models.CourierRoute, error) {
	route, err := s.repo.FindByID(ctx, routeID)
	if err != nil {
		return nil, fmt.Errorf("service: find route %s: %w", routeID, err)
	}
	if route.CourierID != courierID {
		return nil, fmt.Errorf("service: route %s: %w", routeID, models.ErrNotFound)
	}
	return route, nil
}

// currentStop validates that stopID is the route's current stop on a
// non-terminal route.
func currentStop(route *models.CourierRoute, stopID string) (*models.RouteStop, error) {
	if route.Status.Terminal() {
		return nil, fmt.Errorf("service: route %s is %s: %w", route.ID, route.Status, models.ErrConflict)
	}
	stop := route.CurrentStop()
	if stop == nil {
		return nil, fmt.Errorf("service: route %s has no remaining stops: %w", route.ID, models.ErrConflict)
	}
	if stop.ID != stopID {
		return nil, fmt.Errorf("service: stop %s is not the current stop: %w", stopID, models.ErrConflict)
	}
	return stop, nil
}

// finalizeIfDone advances past stops already resolved out of band (a
// delivery auto-skipped with its pickup) and completes the route once the
// courier has moved past the last stop (all stops completed or skipped).
func (s *Service) finalizeIfDone(route *models.CourierRoute, now time.Time) {
	for route.CurrentStopIndex < len(route.Stops) {
		stop := route.Stops[route.CurrentStopIndex]
		if stop.Status != models.StopStatusCompleted && stop.Status != models.StopStatusSkipped {
			break
		}
		route.CurrentStopIndex++
	}
	if route.CurrentStopIndex < len(route.Stops) {
		return
	}
	route.Status = models.RouteStatusCompleted
	route.CompletedAt = &now
}

// invalidate is best-effort: the claim or release is already durable, and a
// failed cache touch only delays regeneration until expiry.
func (s *Service) invalidate(ctx context.Context, courierID string, orderIDs []string) {
	if err := s.cache.InvalidateOrders(ctx, orderIDs); err != nil {
		log.Printf("routes: invalidate orders courier=%s err=%v", courierID, err)
	}
	if err := s.cache.InvalidateCouriers(ctx, courierID); err != nil {
		log.Printf("routes: invalidate courier=%s err=%v", courierID, err)
	}
}
