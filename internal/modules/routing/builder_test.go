package routing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"courier-routing/internal/models"
	"courier-routing/pkg/geo"
)

// ----------------------------------------------------------------------------
// Test estimators. Stops live on a latitude line so travel times are easy to
// script: lineEstimator derives minutes from the latitude gap, matrixEstimator
// returns exactly the legs a test scripted and fails loudly on anything else.
// ----------------------------------------------------------------------------

func point(lat float64) models.Coordinates { return models.Coordinates{Lat: lat, Lng: 10} }

type lineEstimator struct{}

func (lineEstimator) EstimateLeg(_ context.Context, from, to models.Coordinates) (geo.Leg, error) {
	d := math.Abs(from.Lat - to.Lat)
	return geo.Leg{DurationMinutes: d, DistanceKm: d}, nil
}

type matrixEstimator struct {
	legs map[[2]float64]geo.Leg
}

func newMatrixEstimator() *matrixEstimator {
	return &matrixEstimator{legs: make(map[[2]float64]geo.Leg)}
}

func (m *matrixEstimator) set(fromLat, toLat, minutes float64) {
	m.legs[[2]float64{fromLat, toLat}] = geo.Leg{DurationMinutes: minutes, DistanceKm: minutes}
	m.legs[[2]float64{toLat, fromLat}] = geo.Leg{DurationMinutes: minutes, DistanceKm: minutes}
}

func (m *matrixEstimator) EstimateLeg(_ context.Context, from, to models.Coordinates) (geo.Leg, error) {
	leg, ok := m.legs[[2]float64{from.Lat, to.Lat}]
	if !ok {
		return geo.Leg{}, fmt.Errorf("no scripted leg between lat %.0f and %.0f", from.Lat, to.Lat)
	}
	return leg, nil
}

func dropOrder(id string, lat, earning float64) models.AvailableOrder {
	return models.AvailableOrder{
		ID:              id,
		DropoffLocation: point(lat),
		Earning:         earning,
		ShippingSize:    models.ShippingSizeSmall,
	}
}

var (
	testStart = time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	carInput  = func(orders ...models.AvailableOrder) Input {
		return Input{
			Start:     point(0),
			StartTime: testStart,
			Vehicle:   models.VehicleProfile{Type: "CAR"},
			Orders:    orders,
			Buckets:   []int{30},
		}
	}
)

func stopOrderIDs(r models.CandidateRoute) []string {
	out := make([]string, 0, len(r.Stops))
	for _, s := range r.Stops {
		out = append(out, s.OrderID)
	}
	return out
}

// ----------------------------------------------------------------------------
// Builder tests
// ----------------------------------------------------------------------------

func TestBuildRoutesRejectsInvalidStart(t *testing.T) {
	b := NewBuilder(NewGreedyStrategy(), Config{})
	in := carInput(dropOrder("o1", 5, 4))
	in.Start = models.Coordinates{}
	if _, err := b.BuildRoutes(context.Background(), lineEstimator{}, in); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("BuildRoutes with zero start = %v; want ErrInvalidInput", err)
	}
}

func TestBuildRoutesRejectsNonPositiveBucket(t *testing.T) {
	b := NewBuilder(NewGreedyStrategy(), Config{})
	in := carInput(dropOrder("o1", 5, 4))
	in.Buckets = []int{60, 0}
	if _, err := b.BuildRoutes(context.Background(), lineEstimator{}, in); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("BuildRoutes with zero bucket = %v; want ErrInvalidInput", err)
	}
}

func TestBuildRoutesEmptyPool(t *testing.T) {
	b := NewBuilder(NewOptimalStrategy(), Config{})
	in := carInput()
	in.Buckets = []int{60, 120}

	routes, err := b.BuildRoutes(context.Background(), lineEstimator{}, in)
	if err != nil {
		t.Fatalf("BuildRoutes error: %v", err)
	}
	if len(routes) != 2 {
		t.Fatalf("got %d routes; want 2", len(routes))
	}
	for _, r := range routes {
		if len(r.Stops) != 0 || r.EstimatedEarnings != 0 {
			t.Errorf("empty pool route has %d stops, earnings %.2f; want 0 and 0", len(r.Stops), r.EstimatedEarnings)
		}
		if !r.Optimal {
			t.Errorf("empty pool route Optimal = false; want true")
		}
	}
}

func TestBuildRoutesOneRoutePerBucket(t *testing.T) {
	b := NewBuilder(NewGreedyStrategy(), Config{})
	in := carInput(dropOrder("o1", 5, 4), dropOrder("o2", 8, 3), dropOrder("o3", 12, 10))
	in.Buckets = []int{30, 60, 120}

	routes, err := b.BuildRoutes(context.Background(), lineEstimator{}, in)
	if err != nil {
		t.Fatalf("BuildRoutes error: %v", err)
	}
	if len(routes) != 3 {
		t.Fatalf("got %d routes; want 3", len(routes))
	}
	for i, bucket := range in.Buckets {
		r := routes[i]
		if r.BucketMinutes != bucket {
			t.Errorf("routes[%d].BucketMinutes = %d; want %d", i, r.BucketMinutes, bucket)
		}
		if r.EstimatedDurationMin > float64(bucket)+5 {
			t.Errorf("routes[%d] duration %.1f exceeds bucket %d + tolerance", i, r.EstimatedDurationMin, bucket)
		}
		if want := r.StartTime.Add(time.Duration(r.EstimatedDurationMin * float64(time.Minute))); !r.EndTime.Equal(want) {
			t.Errorf("routes[%d].EndTime = %v; want %v", i, r.EndTime, want)
		}
	}
}

func TestBuildRoutesFiltersOversizedOrders(t *testing.T) {
	b := NewBuilder(NewGreedyStrategy(), Config{})
	large := dropOrder("big", 5, 20)
	large.ShippingSize = models.ShippingSizeLarge
	in := carInput(large, dropOrder("small", 8, 3))
	in.Vehicle = models.VehicleProfile{Type: "ON_FOOT"}

	routes, err := b.BuildRoutes(context.Background(), lineEstimator{}, in)
	if err != nil {
		t.Fatalf("BuildRoutes error: %v", err)
	}
	if got := stopOrderIDs(routes[0]); len(got) != 1 || got[0] != "small" {
		t.Errorf("ON_FOOT route orders = %v; want [small]", got)
	}
}

func TestBuildRoutesSkipsUngeolocatedOrders(t *testing.T) {
	b := NewBuilder(NewGreedyStrategy(), Config{})
	bad := dropOrder("bad", 5, 4)
	bad.DropoffLocation = models.Coordinates{} // geocoding failed upstream
	in := carInput(bad, dropOrder("good", 8, 3))

	routes, err := b.BuildRoutes(context.Background(), lineEstimator{}, in)
	if err != nil {
		t.Fatalf("BuildRoutes error: %v", err)
	}
	if got := stopOrderIDs(routes[0]); len(got) != 1 || got[0] != "good" {
		t.Errorf("route orders = %v; want [good]", got)
	}
}

func TestBuildRoutesVehicleMaxStops(t *testing.T) {
	b := NewBuilder(NewOptimalStrategy(), Config{})
	in := carInput(dropOrder("o1", 5, 4), dropOrder("o2", 8, 3), dropOrder("o3", 12, 10))
	in.Vehicle = models.VehicleProfile{Type: "CAR", MaxStops: 1}

	routes, err := b.BuildRoutes(context.Background(), lineEstimator{}, in)
	if err != nil {
		t.Fatalf("BuildRoutes error: %v", err)
	}
	r := routes[0]
	if len(r.Stops) != 1 {
		t.Fatalf("got %d stops; want 1", len(r.Stops))
	}
	// With a single slot the highest-earning reachable stop wins.
	if r.Stops[0].OrderID != "o3" {
		t.Errorf("single stop order = %s; want o3", r.Stops[0].OrderID)
	}
	if r.EstimatedEarnings != 10 {
		t.Errorf("earnings = %.2f; want 10", r.EstimatedEarnings)
	}
}

func TestBuildRoutesDeterministic(t *testing.T) {
	in := carInput(dropOrder("o1", 5, 4), dropOrder("o2", 8, 4), dropOrder("o3", 12, 10))

	var first []string
	var firstEarnings float64
	for run := 0; run < 3; run++ {
		b := NewBuilder(NewGreedyStrategy(), Config{})
		routes, err := b.BuildRoutes(context.Background(), lineEstimator{}, in)
		if err != nil {
			t.Fatalf("run %d: BuildRoutes error: %v", run, err)
		}
		ids := stopOrderIDs(routes[0])
		if run == 0 {
			first = ids
			firstEarnings = routes[0].EstimatedEarnings
			continue
		}
		if fmt.Sprint(ids) != fmt.Sprint(first) {
			t.Errorf("run %d stop order = %v; want %v", run, ids, first)
		}
		if routes[0].EstimatedEarnings != firstEarnings {
			t.Errorf("run %d earnings = %.2f; want %.2f", run, routes[0].EstimatedEarnings, firstEarnings)
		}
	}
}

func TestStopsFromOrderSplitsPickupAndDelivery(t *testing.T) {
	order := models.AvailableOrder{
		ID:              "o1",
		PickupLocation:  point(3),
		DropoffLocation: point(7),
		Earning:         6,
		RequiresPickup:  true,
	}
	stops := StopsFromOrder(order, models.EarningsConfig{})
	if len(stops) != 2 {
		t.Fatalf("got %d stops; want 2", len(stops))
	}
	if stops[0].Type != models.StopTypePickup || stops[1].Type != models.StopTypeDelivery {
		t.Errorf("stop types = %s, %s; want PICKUP, DELIVERY", stops[0].Type, stops[1].Type)
	}
	// The payout is attached to the delivery so a route earns it only on
	// the completed handoff, not on collecting the parcel.
	if stops[0].Earning != 0 || stops[1].Earning != 6 {
		t.Errorf("earnings = %.1f, %.1f; want 0, 6", stops[0].Earning, stops[1].Earning)
	}
}

func TestStopsFromOrderStableIDs(t *testing.T) {
	order := dropOrder("o1", 5, 4)
	a := StopsFromOrder(order, models.EarningsConfig{})
	b := StopsFromOrder(order, models.EarningsConfig{})
	if a[0].ID != b[0].ID {
		t.Errorf("stop IDs differ across runs: %s vs %s", a[0].ID, b[0].ID)
	}
}

func TestStopsFromOrderEarningFallback(t *testing.T) {
	order := models.AvailableOrder{
		ID:              "o1",
		PickupLocation:  models.Coordinates{Lat: 41.7, Lng: 44.75},
		DropoffLocation: models.Coordinates{Lat: 41.8, Lng: 44.75},
		RequiresPickup:  true,
	}
	cfg := models.EarningsConfig{BaseFeePerStop: 2, PerKm: 0.5}
	stops := StopsFromOrder(order, cfg)
	want := cfg.BaseFeePerStop + cfg.PerKm*geo.DistanceKm(order.PickupLocation, order.DropoffLocation)
	if got := stops[1].Earning; math.Abs(got-want) > 1e-9 {
		t.Errorf("fallback earning = %f; want %f", got, want)
	}
}

func TestBreakStopRejectsNonPositiveDuration(t *testing.T) {
	if _, err := BreakStop(0); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("BreakStop(0) = %v; want ErrInvalidInput", err)
	}
	if _, err := BreakStop(-5); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("BreakStop(-5) = %v; want ErrInvalidInput", err)
	}
}
