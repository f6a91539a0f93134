package routecache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"courier-routing/internal/models"
	"courier-routing/internal/modules/routing"
)

// ----------------------------------------------------------------------------
// Fakes. The repository is the real Redis implementation over miniredis so the
// service tests exercise the actual lock and version scripts; only the builder
// and the order source are scripted.
// ----------------------------------------------------------------------------

type fakeBuilder struct {
	mu      sync.Mutex
	calls   int
	routes  []models.CandidateRoute
	err     error
	onBuild func(call int)
}

func (f *fakeBuilder) BuildRoutes(ctx context.Context, est routing.Estimator, in routing.Input) ([]models.CandidateRoute, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	hook := f.onBuild
	f.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.routes, nil
}

func (f *fakeBuilder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeOrderSource struct {
	orders []models.AvailableOrder
	err    error
}

func (f *fakeOrderSource) ListAvailable(ctx context.Context, vehicleType string) ([]models.AvailableOrder, error) {
	return f.orders, f.err
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T, builder *fakeBuilder) (*Service, RepositoryInterface, *fakeClock) {
	t.Helper()
	repo, _ := newTestRepo(t)
	clock := &fakeClock{t: baseTime}
	svc := NewService(repo, builder, &fakeOrderSource{},
		func(vehicleType string) routing.Estimator { return nil },
		models.EarningsConfig{BaseFeePerStop: 2, PerKm: 0.5},
		Config{TTL: 5 * time.Minute, GenerationTimeout: 15 * time.Second, MaxRegenAttempts: 3},
	)
	svc.now = clock.Now
	return svc, repo, clock
}

func testQuery() RouteQuery {
	return RouteQuery{
		CourierID: "c1",
		Vehicle:   models.VehicleProfile{Type: "CAR"},
		Start:     models.Coordinates{Lat: 41.7, Lng: 44.75},
		Buckets:   []int{60, 120},
	}
}

// ----------------------------------------------------------------------------
// Tests
// ----------------------------------------------------------------------------

func TestGetOrGenerateRoutesRequiresBuckets(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeBuilder{})
	q := testQuery()
	q.Buckets = nil
	if _, err := svc.GetOrGenerateRoutes(context.Background(), q); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("GetOrGenerateRoutes without buckets = %v; want ErrInvalidInput", err)
	}
}

func TestGetOrGenerateRoutesGeneratesWhenAbsent(t *testing.T) {
	builder := &fakeBuilder{routes: testRoutes("cand-1", "o1")}
	svc, _, _ := newTestService(t, builder)

	resp, err := svc.GetOrGenerateRoutes(context.Background(), testQuery())
	if err != nil {
		t.Fatalf("GetOrGenerateRoutes error: %v", err)
	}
	if resp.Stale || resp.Generating {
		t.Errorf("flags = stale:%v generating:%v; want both false", resp.Stale, resp.Generating)
	}
	if resp.Version != 1 {
		t.Errorf("Version = %d; want 1 after the first generation", resp.Version)
	}
	if len(resp.Routes) != 1 || resp.Routes[0].ID != "cand-1" {
		t.Errorf("Routes = %+v; want the generated candidate", resp.Routes)
	}
	if builder.callCount() != 1 {
		t.Errorf("builder calls = %d; want 1", builder.callCount())
	}
}

func TestGetOrGenerateRoutesServesFreshWithoutRebuilding(t *testing.T) {
	builder := &fakeBuilder{routes: testRoutes("cand-1", "o1")}
	svc, _, clock := newTestService(t, builder)
	ctx := context.Background()

	if _, err := svc.GetOrGenerateRoutes(ctx, testQuery()); err != nil {
		t.Fatalf("first call error: %v", err)
	}
	clock.Advance(time.Minute)
	resp, err := svc.GetOrGenerateRoutes(ctx, testQuery())
	if err != nil {
		t.Fatalf("second call error: %v", err)
	}
	if resp.Stale {
		t.Errorf("Stale = true one minute in; want false")
	}
	if builder.callCount() != 1 {
		t.Errorf("builder calls = %d; want 1 (fresh cache must be served as-is)", builder.callCount())
	}
}

func TestGetOrGenerateRoutesRebuildsWhenRequestChanges(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(q *RouteQuery)
	}{
		{"different buckets", func(q *RouteQuery) { q.Buckets = []int{180} }},
		{"different vehicle", func(q *RouteQuery) { q.Vehicle.Type = "BICYCLE" }},
		{"start moved", func(q *RouteQuery) { q.Start.Lat += 1 }}, // ~111 km
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			builder := &fakeBuilder{routes: testRoutes("cand-1", "o1")}
			svc, _, clock := newTestService(t, builder)
			ctx := context.Background()

			if _, err := svc.GetOrGenerateRoutes(ctx, testQuery()); err != nil {
				t.Fatalf("seed call error: %v", err)
			}
			clock.Advance(time.Minute) // well within the TTL

			q := testQuery()
			tc.mutate(&q)
			resp, err := svc.GetOrGenerateRoutes(ctx, q)
			if err != nil {
				t.Fatalf("changed-request call error: %v", err)
			}
			if builder.callCount() != 2 {
				t.Errorf("builder calls = %d; want 2, the entry was built for other inputs", builder.callCount())
			}
			if resp.Stale || resp.Generating {
				t.Errorf("flags = stale:%v generating:%v; want a synchronous rebuild", resp.Stale, resp.Generating)
			}
			if resp.Version != 2 {
				t.Errorf("Version = %d; want 2", resp.Version)
			}
		})
	}
}

func TestGetOrGenerateRoutesToleratesStartJitter(t *testing.T) {
	builder := &fakeBuilder{routes: testRoutes("cand-1", "o1")}
	svc, _, clock := newTestService(t, builder)
	ctx := context.Background()

	if _, err := svc.GetOrGenerateRoutes(ctx, testQuery()); err != nil {
		t.Fatalf("seed call error: %v", err)
	}
	clock.Advance(time.Minute)

	q := testQuery()
	q.Start.Lat += 0.0005 // ~55 m
	resp, err := svc.GetOrGenerateRoutes(ctx, q)
	if err != nil {
		t.Fatalf("jittered call error: %v", err)
	}
	if builder.callCount() != 1 {
		t.Errorf("builder calls = %d; want 1, GPS jitter must not defeat the cache", builder.callCount())
	}
	if resp.Stale {
		t.Errorf("Stale = true; want fresh serve")
	}
}

func TestGetOrGenerateRoutesServesStaleImmediately(t *testing.T) {
	builder := &fakeBuilder{routes: testRoutes("cand-1", "o1")}
	svc, repo, clock := newTestService(t, builder)
	ctx := context.Background()

	if _, err := svc.GetOrGenerateRoutes(ctx, testQuery()); err != nil {
		t.Fatalf("first call error: %v", err)
	}
	clock.Advance(6 * time.Minute) // past the 5 minute TTL

	resp, err := svc.GetOrGenerateRoutes(ctx, testQuery())
	if err != nil {
		t.Fatalf("stale call error: %v", err)
	}
	if !resp.Stale || !resp.Generating {
		t.Errorf("flags = stale:%v generating:%v; want both true", resp.Stale, resp.Generating)
	}
	if len(resp.Routes) != 1 {
		t.Errorf("stale response has %d routes; want the last-known 1", len(resp.Routes))
	}

	// The refresh runs behind the response; wait for the committed version
	// to move past the first generation's.
	deadline := time.Now().Add(2 * time.Second)
	var lastVersion int64
	for {
		if cache, err := repo.Get(ctx, "c1"); err == nil {
			lastVersion = cache.Version
		}
		if lastVersion >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("background regeneration never committed; version still %d", lastVersion)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if builder.callCount() != 2 {
		t.Errorf("builder calls = %d; want 2", builder.callCount())
	}
}

func TestGetOrGenerateRoutesReportsGeneratingWhenLocked(t *testing.T) {
	builder := &fakeBuilder{routes: testRoutes("cand-1", "o1")}
	svc, repo, _ := newTestService(t, builder)
	ctx := context.Background()

	// Another instance holds the lock and nothing is cached yet.
	if _, acquired, err := repo.AcquireGeneration(ctx, "c1", baseTime, 15*time.Second); err != nil || !acquired {
		t.Fatalf("AcquireGeneration = %v, %v; want acquired", acquired, err)
	}

	resp, err := svc.GetOrGenerateRoutes(ctx, testQuery())
	if err != nil {
		t.Fatalf("GetOrGenerateRoutes error: %v", err)
	}
	if !resp.Generating {
		t.Errorf("Generating = false; want true while another instance builds")
	}
	if len(resp.Routes) != 0 {
		t.Errorf("Routes = %+v; want empty until the peer commits", resp.Routes)
	}
	if builder.callCount() != 0 {
		t.Errorf("builder calls = %d; want 0", builder.callCount())
	}
}

func TestRegenerateRetriesWhenInvalidatedMidGeneration(t *testing.T) {
	builder := &fakeBuilder{routes: testRoutes("cand-1", "o1")}
	svc, repo, _ := newTestService(t, builder)
	ctx := context.Background()

	// The first build races with an order event; the second runs clean.
	builder.onBuild = func(call int) {
		if call == 1 {
			if err := repo.MarkStale(ctx, "c1"); err != nil {
				t.Errorf("MarkStale error: %v", err)
			}
		}
	}

	cache, err := svc.regenerate(ctx, testQuery())
	if err != nil {
		t.Fatalf("regenerate error: %v", err)
	}
	if builder.callCount() != 2 {
		t.Errorf("builder calls = %d; want 2 (first result discarded)", builder.callCount())
	}
	if cache.Version != 2 {
		t.Errorf("Version = %d; want 2", cache.Version)
	}
	if cache.NeedsRevalidation {
		t.Errorf("NeedsRevalidation = true after the clean retry; want false")
	}
}

func TestRegenerateReleasesLockOnBuildFailure(t *testing.T) {
	builder := &fakeBuilder{err: errors.New("order source down")}
	svc, repo, _ := newTestService(t, builder)
	ctx := context.Background()

	if _, err := svc.regenerate(ctx, testQuery()); err == nil {
		t.Fatalf("regenerate = nil error; want the build failure")
	}
	cache, err := repo.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if cache.IsGenerating {
		t.Errorf("IsGenerating = true after a failed run; want released")
	}

	// A later run must be able to take the lock and succeed.
	builder.mu.Lock()
	builder.err = nil
	builder.mu.Unlock()
	cache, err = svc.regenerate(ctx, testQuery())
	if err != nil {
		t.Fatalf("regenerate after recovery error: %v", err)
	}
	if cache.Version != 1 {
		t.Errorf("Version = %d; want 1", cache.Version)
	}
}

func TestCandidateLookup(t *testing.T) {
	builder := &fakeBuilder{routes: testRoutes("cand-1", "o1")}
	svc, _, _ := newTestService(t, builder)
	ctx := context.Background()

	if _, err := svc.GetOrGenerateRoutes(ctx, testQuery()); err != nil {
		t.Fatalf("GetOrGenerateRoutes error: %v", err)
	}

	route, err := svc.Candidate(ctx, "c1", "cand-1")
	if err != nil {
		t.Fatalf("Candidate error: %v", err)
	}
	if route.ID != "cand-1" {
		t.Errorf("Candidate ID = %s; want cand-1", route.ID)
	}

	if _, err := svc.Candidate(ctx, "c1", "gone"); !errors.Is(err, models.ErrCandidateExpired) {
		t.Errorf("Candidate unknown ID = %v; want ErrCandidateExpired", err)
	}
	if _, err := svc.Candidate(ctx, "nobody", "cand-1"); !errors.Is(err, models.ErrCandidateExpired) {
		t.Errorf("Candidate unknown courier = %v; want ErrCandidateExpired", err)
	}
}

func TestInvalidateOrdersMarksOnlyAffectedCouriers(t *testing.T) {
	repo, _ := newTestRepo(t)
	svc := NewService(repo, &fakeBuilder{}, &fakeOrderSource{},
		func(vehicleType string) routing.Estimator { return nil },
		models.EarningsConfig{}, Config{})
	ctx := context.Background()

	commit(t, repo, "c1", testRoutes("cand-1", "o1", "o2"), baseTime)
	commit(t, repo, "c2", testRoutes("cand-2", "o3"), baseTime)

	if err := svc.InvalidateOrders(ctx, []string{"o2"}); err != nil {
		t.Fatalf("InvalidateOrders error: %v", err)
	}

	c1, _ := repo.Get(ctx, "c1")
	c2, _ := repo.Get(ctx, "c2")
	if !c1.NeedsRevalidation {
		t.Errorf("c1 not marked stale; its cache references o2")
	}
	if c2.NeedsRevalidation {
		t.Errorf("c2 marked stale; its cache never referenced o2")
	}
}

func TestInvalidateCouriers(t *testing.T) {
	builder := &fakeBuilder{routes: testRoutes("cand-1", "o1")}
	svc, repo, _ := newTestService(t, builder)
	ctx := context.Background()

	if _, err := svc.GetOrGenerateRoutes(ctx, testQuery()); err != nil {
		t.Fatalf("GetOrGenerateRoutes error: %v", err)
	}
	if err := svc.InvalidateCouriers(ctx, "c1"); err != nil {
		t.Fatalf("InvalidateCouriers error: %v", err)
	}
	cache, err := repo.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !cache.NeedsRevalidation {
		t.Errorf("NeedsRevalidation = false; want true")
	}
}
