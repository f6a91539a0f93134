package routecache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"courier-routing/internal/models"
	"courier-routing/internal/modules/routing"
	"courier-routing/pkg/geo"
)

// errGenerating is returned internally when another process holds the
// generation lock; callers serve last-known data or report "generating".
var errGenerating = errors.New("generation already in progress")

// BuilderInterface is the route builder as the cache manager sees it.
type BuilderInterface interface {
	BuildRoutes(ctx context.Context, estimator routing.Estimator, in routing.Input) ([]models.CandidateRoute, error)
}

// OrderSourceInterface is the available-orders source: the current set of
// unclaimed orders a vehicle of the given type could serve.
type OrderSourceInterface interface {
	ListAvailable(ctx context.Context, vehicleType string) ([]models.AvailableOrder, error)
}

// ServiceInterface defines what the cache manager exposes to handlers and to
// the route lifecycle module.
type ServiceInterface interface {
	GetOrGenerateRoutes(ctx context.Context, q RouteQuery) (*models.RouteOptionsResponse, error)
	// Candidate resolves a cached candidate route for claiming.
	Candidate(ctx context.Context, courierID, candidateID string) (*models.CandidateRoute, error)
	// InvalidateCouriers marks the given couriers' caches stale.
	InvalidateCouriers(ctx context.Context, courierIDs ...string) error
	// InvalidateOrders marks stale every cache whose candidates reference
	// any of the given orders.
	InvalidateOrders(ctx context.Context, orderIDs []string) error
}

// RouteQuery is one courier's route-options request.
type RouteQuery struct {
	CourierID    string
	Vehicle      models.VehicleProfile
	Start        models.Coordinates
	Buckets      []int
	BreakMinutes int
}

// startMoveToleranceKm absorbs GPS jitter between consecutive requests; a
// move beyond it counts as a new starting point.
const startMoveToleranceKm = 0.25

// matches reports whether a cache entry built from in can answer this query.
// Different buckets, vehicle, break, or a moved start all require a rebuild.
func (q RouteQuery) matches(in *models.GenerationInputs) bool {
	if in == nil {
		return false
	}
	if in.VehicleType != q.Vehicle.Type || in.BreakMinutes != q.BreakMinutes {
		return false
	}
	if len(in.Buckets) != len(q.Buckets) {
		return false
	}
	for i := range in.Buckets {
		if in.Buckets[i] != q.Buckets[i] {
			return false
		}
	}
	return geo.DistanceKm(in.Start, q.Start) <= startMoveToleranceKm
}

func (q RouteQuery) inputs() models.GenerationInputs {
	return models.GenerationInputs{
		VehicleType:  q.Vehicle.Type,
		Start:        q.Start,
		Buckets:      q.Buckets,
		BreakMinutes: q.BreakMinutes,
	}
}

// Config tunes the cache manager.
type Config struct {
	// TTL is how long a generated result counts as fresh.
	TTL time.Duration
	// GenerationTimeout is both the wall-clock ceiling of one generation run
	// and the age at which a foreign isGenerating lock counts as crashed.
	GenerationTimeout time.Duration
	// MaxRegenAttempts bounds the recompute loop when commits keep losing
	// version races or invalidations keep arriving mid-generation.
	MaxRegenAttempts int
}

func (c Config) withDefaults() Config {
	if c.TTL == 0 {
		c.TTL = 5 * time.Minute
	}
	if c.GenerationTimeout == 0 {
		c.GenerationTimeout = 15 * time.Second
	}
	if c.MaxRegenAttempts == 0 {
		c.MaxRegenAttempts = 3
	}
	return c
}

// Service decides when to (re)run the route builder for a courier and serves
// cached results otherwise. At most one generation runs per courier at a
// time, enforced by the repository's atomic lock, not an in-process mutex.
type Service struct {
	repo      RepositoryInterface
	builder   BuilderInterface
	orders    OrderSourceInterface
	estimator func(vehicleType string) routing.Estimator
	earnings  models.EarningsConfig
	cfg       Config
	now       func() time.Time
}

func NewService(repo RepositoryInterface, builder BuilderInterface, orders OrderSourceInterface, estimator func(vehicleType string) routing.Estimator, earnings models.EarningsConfig, cfg Config) *Service {
	return &Service{
		repo:      repo,
		builder:   builder,
		orders:    orders,
		estimator: estimator,
		earnings:  earnings,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
	}
}

// GetOrGenerateRoutes serves the courier's candidate routes. Fresh cache is
// returned as-is. A stale cache with data triggers regeneration in the
// background and returns the last-known routes immediately; an absent cache
// generates synchronously since there is nothing to serve meanwhile.
func (s *Service) GetOrGenerateRoutes(ctx context.Context, q RouteQuery) (*models.RouteOptionsResponse, error) {
	if len(q.Buckets) == 0 {
		return nil, fmt.Errorf("routecache.GetOrGenerateRoutes: no duration buckets: %w", models.ErrInvalidInput)
	}

	cached, err := s.repo.Get(ctx, q.CourierID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	// An entry generated for different buckets, vehicle, or start cannot
	// answer this query at all, fresh or not. It is regenerated synchronously
	// like an absent entry rather than served stale.
	matched := cached != nil && q.matches(cached.Inputs)

	if matched && cached.Fresh(s.now()) {
		return response(cached, false, cached.IsGenerating), nil
	}

	if matched && len(cached.Routes) > 0 {
		// Serve stale data now, refresh behind the request. The background
		// run gets its own context: the refresh must outlive the response.
		go func() {
			bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.GenerationTimeout)
			defer cancel()
			if _, err := s.regenerate(bgCtx, q); err != nil && !errors.Is(err, errGenerating) {
				log.Printf("routecache: background regeneration courier=%s err=%v", q.CourierID, err)
			}
		}()
		return response(cached, true, true), nil
	}

	fresh, err := s.regenerate(ctx, q)
	if errors.Is(err, errGenerating) {
		// Someone else is on it and we have nothing to serve yet: tell the
		// caller to poll again shortly rather than blocking the request.
		return &models.RouteOptionsResponse{Routes: []models.CandidateRoute{}, Generating: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return response(fresh, false, false), nil
}

func response(cache *models.RouteCache, stale, generating bool) *models.RouteOptionsResponse {
	routes := cache.Routes
	if routes == nil {
		routes = []models.CandidateRoute{}
	}
	return &models.RouteOptionsResponse{
		Routes:      routes,
		GeneratedAt: cache.GeneratedAt,
		ExpiresAt:   cache.ExpiresAt,
		Version:     cache.Version,
		Stale:       stale,
		Generating:  generating,
	}
}

// regenerate runs the acquire -> build -> versioned-commit loop. A lost
// version race or an invalidation that lands mid-generation discards the
// just-computed result and recomputes against the fresh pool, up to
// MaxRegenAttempts times.
func (s *Service) regenerate(ctx context.Context, q RouteQuery) (*models.RouteCache, error) {
	for attempt := 0; attempt < s.cfg.MaxRegenAttempts; attempt++ {
		version, acquired, err := s.repo.AcquireGeneration(ctx, q.CourierID, s.now(), s.cfg.GenerationTimeout)
		if err != nil {
			return nil, err
		}
		if !acquired {
			return nil, errGenerating
		}

		routes, err := s.build(ctx, q)
		if err != nil {
			// All-or-nothing: a failed run never writes a partial entry.
			if relErr := s.repo.ReleaseGeneration(context.WithoutCancel(ctx), q.CourierID); relErr != nil {
				log.Printf("routecache: release generation courier=%s err=%v", q.CourierID, relErr)
			}
			return nil, err
		}

		generatedAt := s.now()
		expiresAt := generatedAt.Add(s.cfg.TTL)
		// The hash outlives freshness so stale data remains servable while
		// the next generation runs.
		_, stillStale, err := s.repo.CommitGeneration(ctx, q.CourierID, version, routes, q.inputs(), generatedAt, expiresAt, 4*s.cfg.TTL)
		if errors.Is(err, models.ErrVersionMismatch) {
			log.Printf("routecache: version race lost courier=%s attempt=%d", q.CourierID, attempt)
			continue
		}
		if err != nil {
			return nil, err
		}
		if stillStale {
			log.Printf("routecache: pool changed mid-generation courier=%s attempt=%d", q.CourierID, attempt)
			continue
		}
		return s.repo.Get(ctx, q.CourierID)
	}
	// Attempts exhausted: the latest committed entry is still marked stale
	// and the next read will retry. Serve whatever was last written.
	return s.repo.Get(ctx, q.CourierID)
}

func (s *Service) build(ctx context.Context, q RouteQuery) ([]models.CandidateRoute, error) {
	orders, err := s.orders.ListAvailable(ctx, q.Vehicle.Type)
	if err != nil {
		return nil, fmt.Errorf("routecache: list available orders: %w", err)
	}
	return s.builder.BuildRoutes(ctx, s.estimator(q.Vehicle.Type), routing.Input{
		Start:        q.Start,
		StartTime:    s.now(),
		Vehicle:      q.Vehicle,
		Orders:       orders,
		Earnings:     s.earnings,
		Buckets:      q.Buckets,
		BreakMinutes: q.BreakMinutes,
	})
}

func (s *Service) Candidate(ctx context.Context, courierID, candidateID string) (*models.CandidateRoute, error) {
	cached, err := s.repo.Get(ctx, courierID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrCandidateExpired
	}
	if err != nil {
		return nil, err
	}
	route := cached.FindRoute(candidateID)
	if route == nil {
		return nil, models.ErrCandidateExpired
	}
	return route, nil
}

func (s *Service) InvalidateCouriers(ctx context.Context, courierIDs ...string) error {
	return s.repo.MarkStale(ctx, courierIDs...)
}

func (s *Service) InvalidateOrders(ctx context.Context, orderIDs []string) error {
	if len(orderIDs) == 0 {
		return nil
	}
	courierIDs, err := s.repo.CourierIDsForOrders(ctx, orderIDs)
	if err != nil {
		return err
	}
	return s.repo.MarkStale(ctx, courierIDs...)
}
