package routing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"courier-routing/internal/models"
	"courier-routing/pkg/geo"

	"github.com/google/uuid"
)

// Config holds the tuning knobs of the route builder. Zero values are
// replaced by the defaults below.
type Config struct {
	// ToleranceMinutes is how far past the target duration a route may run.
	ToleranceMinutes float64
	// HandoverMinutes is the fixed service time at a pickup or delivery stop.
	HandoverMinutes float64
	// ExactSearchThreshold is the largest stop count solved by exact
	// subset dynamic programming; larger pools fall back to beam search.
	ExactSearchThreshold int
	// BeamWidth bounds the number of partial routes kept per search depth.
	BeamWidth int
	// NodeBudget caps the total partial routes expanded by the beam search.
	NodeBudget int
	// SearchTimeout is the wall-clock ceiling of the near-optimal search.
	SearchTimeout time.Duration
	// MaxStops caps stops per route when the vehicle profile sets no limit.
	MaxStops int
}

func (c Config) withDefaults() Config {
	if c.ToleranceMinutes == 0 {
		c.ToleranceMinutes = 5
	}
	if c.ExactSearchThreshold == 0 {
		c.ExactSearchThreshold = 10
	}
	if c.BeamWidth == 0 {
		c.BeamWidth = 64
	}
	if c.NodeBudget == 0 {
		c.NodeBudget = 50000
	}
	if c.SearchTimeout == 0 {
		c.SearchTimeout = 3 * time.Second
	}
	if c.MaxStops == 0 {
		c.MaxStops = 20
	}
	return c
}

// Input is everything one generation run needs, captured up front so the
// algorithms never read mutable shared state mid-run.
type Input struct {
	Start        models.Coordinates
	StartTime    time.Time
	Vehicle      models.VehicleProfile
	Orders       []models.AvailableOrder
	Earnings     models.EarningsConfig
	Buckets      []int
	BreakMinutes int
}

// Strategy turns a prepared plan context into an ordered stop selection.
type Strategy interface {
	Name() string
	Plan(p *planContext) (*plan, error)
}

// plan is the raw output of a strategy: indices into planContext.stops.
type plan struct {
	order   []int
	optimal bool
}

// Builder produces one CandidateRoute per requested duration bucket.
type Builder struct {
	strategy Strategy
	cfg      Config
}

func NewBuilder(strategy Strategy, cfg Config) *Builder {
	return &Builder{strategy: strategy, cfg: cfg.withDefaults()}
}

// BuildRoutes materializes stops from the order pool and runs the configured
// strategy once per duration bucket. An empty pool yields valid empty routes.
func (b *Builder) BuildRoutes(ctx context.Context, estimator Estimator, in Input) ([]models.CandidateRoute, error) {
	if !in.Start.Valid() {
		return nil, fmt.Errorf("routing: start location (%.5f,%.5f): %w", in.Start.Lat, in.Start.Lng, models.ErrInvalidInput)
	}
	for _, bucket := range in.Buckets {
		if bucket <= 0 {
			return nil, fmt.Errorf("routing: duration bucket %d: %w", bucket, models.ErrInvalidInput)
		}
	}

	stops := make([]models.Stop, 0, 2*len(in.Orders)+1)
	for _, order := range in.Orders {
		if !in.Vehicle.Fits(order.ShippingSize) {
			continue
		}
		stops = append(stops, StopsFromOrder(order, in.Earnings)...)
	}
	if in.BreakMinutes > 0 {
		br, err := BreakStop(in.BreakMinutes)
		if err != nil {
			return nil, err
		}
		stops = append(stops, br)
	}

	// Sort stops by ID so the search never depends on pool iteration order.
	sort.Slice(stops, func(i, j int) bool { return stops[i].ID < stops[j].ID })

	maxStops := in.Vehicle.MaxStops
	if maxStops <= 0 || maxStops > b.cfg.MaxStops {
		maxStops = b.cfg.MaxStops
	}

	memo := newMemoEstimator(estimator)
	routes := make([]models.CandidateRoute, 0, len(in.Buckets))
	for _, bucket := range in.Buckets {
		p := newPlanContext(ctx, memo, stops, in.Start, in.StartTime, float64(bucket)+b.cfg.ToleranceMinutes, b.cfg.HandoverMinutes, maxStops, b.cfg)
		pl, err := b.strategy.Plan(p)
		if err != nil {
			return nil, fmt.Errorf("routing: %s strategy for bucket %d: %w", b.strategy.Name(), bucket, err)
		}
		route, err := p.assemble(pl, bucket)
		if err != nil {
			return nil, fmt.Errorf("routing: assemble route for bucket %d: %w", bucket, err)
		}
		routes = append(routes, route)
	}
	return routes, nil
}

// planContext is the per-bucket view of one generation run: the stop pool,
// precedence links, and feasibility checks shared by all strategies.
type planContext struct {
	ctx       context.Context
	est       *memoEstimator
	stops     []models.Stop
	pickupOf  map[int]int // delivery index -> paired pickup index
	start     models.Coordinates
	startTime time.Time
	budget    float64 // bucket + tolerance, minutes
	handover  float64
	maxStops  int
	cfg       Config
}

func newPlanContext(ctx context.Context, est *memoEstimator, stops []models.Stop, start models.Coordinates, startTime time.Time, budget, handover float64, maxStops int, cfg Config) *planContext {
	pickupOf := make(map[int]int)
	pickupByOrder := make(map[string]int)
	for i, s := range stops {
		if s.Type == models.StopTypePickup {
			pickupByOrder[s.OrderID] = i
		}
	}
	for i, s := range stops {
		if s.Type != models.StopTypeDelivery {
			continue
		}
		if pi, ok := pickupByOrder[s.OrderID]; ok {
			pickupOf[i] = pi
		}
	}
	return &planContext{
		ctx:       ctx,
		est:       est,
		stops:     stops,
		pickupOf:  pickupOf,
		start:     start,
		startTime: startTime,
		budget:    budget,
		handover:  handover,
		maxStops:  maxStops,
		cfg:       cfg,
	}
}

// legTo returns the travel leg from a position to stop idx. Breaks happen
// wherever the courier currently is, so they cost no travel.
func (p *planContext) legTo(from models.Coordinates, idx int) (geo.Leg, error) {
	if p.stops[idx].Type == models.StopTypeBreak {
		return geo.Leg{}, nil
	}
	return p.est.EstimateLeg(p.ctx, from, p.stops[idx].Location)
}

// positionAfter returns where the courier stands after handling stop idx.
func (p *planContext) positionAfter(idx int, current models.Coordinates) models.Coordinates {
	if p.stops[idx].Type == models.StopTypeBreak {
		return current
	}
	return p.stops[idx].Location
}

// feasible checks whether stop idx can be appended to a partial route with
// the given visited set, elapsed minutes and position. It returns the leg so
// callers do not estimate twice.
func (p *planContext) feasible(idx int, visited func(int) bool, elapsed float64, pos models.Coordinates) (geo.Leg, bool, error) {
	s := p.stops[idx]

	// A delivery whose paired pickup is in the pool must come after it. If
	// the pickup was dropped for time-budget reasons, the delivery stays
	// excluded rather than scheduled out of order.
	if pi, ok := p.pickupOf[idx]; ok && !visited(pi) {
		return geo.Leg{}, false, nil
	}

	// Breaks are held back until half the budget has elapsed so they land
	// mid-route instead of winning every zero-travel comparison up front.
	if s.Type == models.StopTypeBreak && elapsed < p.budget/2 {
		return geo.Leg{}, false, nil
	}

	leg, err := p.legTo(pos, idx)
	if err != nil {
		return geo.Leg{}, false, err
	}

	arrival := elapsed + leg.DurationMinutes
	if s.Deadline != nil && p.startTime.Add(minutesToDuration(arrival)).After(*s.Deadline) {
		return geo.Leg{}, false, nil
	}
	if arrival+s.ServiceMinutes(p.handover) > p.budget {
		return geo.Leg{}, false, nil
	}
	return leg, true, nil
}

// assemble walks a strategy's stop order once more to compute authoritative
// totals and produce the CandidateRoute.
func (p *planContext) assemble(pl *plan, bucket int) (models.CandidateRoute, error) {
	route := models.CandidateRoute{
		ID:            uuid.NewString(),
		BucketMinutes: bucket,
		Start:         p.start,
		StartTime:     p.startTime,
		Stops:         make([]models.Stop, 0, len(pl.order)),
		Optimal:       pl.optimal,
	}

	pos := p.start
	elapsed := 0.0
	for _, idx := range pl.order {
		leg, err := p.legTo(pos, idx)
		if err != nil {
			return models.CandidateRoute{}, err
		}
		s := p.stops[idx]
		elapsed += leg.DurationMinutes + s.ServiceMinutes(p.handover)
		route.EstimatedDistanceKm += leg.DistanceKm
		route.EstimatedEarnings += s.Earning
		route.Stops = append(route.Stops, s)
		pos = p.positionAfter(idx, pos)
	}
	route.EstimatedDurationMin = elapsed
	route.EndTime = p.startTime.Add(minutesToDuration(elapsed))
	return route, nil
}

func minutesToDuration(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}
