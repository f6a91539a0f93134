package routecache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"courier-routing/internal/models"

	"github.com/redis/go-redis/v9"
)

// RepositoryInterface defines the storage operations of the route cache.
// All conditional updates (lock acquisition, versioned commit) are atomic on
// the store side, never in-process locks: multiple service instances may run
// concurrently against the same courier.
type RepositoryInterface interface {
	// Get returns the cache document for a courier, models.ErrNotFound when absent.
	Get(ctx context.Context, courierID string) (*models.RouteCache, error)
	// AcquireGeneration atomically claims the generation lock. It succeeds
	// when no generation is running or the existing lock is older than
	// lockTimeout (crashed generator takeover). On success it clears
	// needsRevalidation and returns the version observed at acquire time.
	AcquireGeneration(ctx context.Context, courierID string, now time.Time, lockTimeout time.Duration) (version int64, acquired bool, err error)
	// CommitGeneration writes the generated routes and releases the lock,
	// conditioned on the version being unchanged since acquire (optimistic
	// concurrency). It returns models.ErrVersionMismatch when the race is
	// lost, and stillStale=true when an invalidation arrived mid-generation.
	CommitGeneration(ctx context.Context, courierID string, expectedVersion int64, routes []models.CandidateRoute, inputs models.GenerationInputs, generatedAt, expiresAt time.Time, ttl time.Duration) (newVersion int64, stillStale bool, err error)
	// ReleaseGeneration clears the lock without writing results, used when
	// generation failed. The entry is re-marked stale so a later read retries.
	ReleaseGeneration(ctx context.Context, courierID string) error
	// MarkStale sets needsRevalidation on the given couriers' entries.
	MarkStale(ctx context.Context, courierIDs ...string) error
	// CourierIDsForOrders resolves which couriers hold cached routes
	// referencing any of the given orders, via the reverse index maintained
	// on every commit.
	CourierIDsForOrders(ctx context.Context, orderIDs []string) ([]string, error)
}

// Repository implements RepositoryInterface on Redis. The cache document is
// a hash per courier; a set per order backs the reverse index.
type Repository struct {
	rdb *redis.Client
}

func NewRepository(rdb *redis.Client) RepositoryInterface {
	return &Repository{rdb: rdb}
}

func cacheKey(courierID string) string { return "route_cache:" + courierID }
func orderKey(orderID string) string   { return "order_couriers:" + orderID }

// acquireScript claims the generation lock unless a younger lock holds it.
// Returns the current version on success, -1 when the lock is busy.
var acquireScript = redis.NewScript(`
local generating = redis.call('HGET', KEYS[1], 'isGenerating')
if generating == '1' then
  local started = tonumber(redis.call('HGET', KEYS[1], 'generationStartedAt') or '0')
  if tonumber(ARGV[1]) - started < tonumber(ARGV[2]) then
    return -1
  end
end
redis.call('HSET', KEYS[1], 'isGenerating', '1', 'generationStartedAt', ARGV[1], 'needsRevalidation', '0')
local v = redis.call('HGET', KEYS[1], 'version')
if not v then
  v = '0'
  redis.call('HSET', KEYS[1], 'version', '0')
end
return tonumber(v)
`)

// commitScript performs the versioned write: compare-and-swap on 'version',
// releasing the lock either way. Returns {-1} on version mismatch, otherwise
// {newVersion, needsRevalidation} so the caller can re-trigger when an
// invalidation landed mid-generation. The order reverse index is refreshed
// in the same script so index and payload can never diverge.
var commitScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'version') or '0'
if v ~= ARGV[1] then
  redis.call('HSET', KEYS[1], 'isGenerating', '0', 'generationStartedAt', '0')
  return {-1, 0}
end
local nv = tonumber(v) + 1
local stale = redis.call('HGET', KEYS[1], 'needsRevalidation') or '0'
redis.call('HSET', KEYS[1],
  'version', tostring(nv),
  'payload', ARGV[2],
  'inputs', ARGV[3],
  'generatedAt', ARGV[4],
  'expiresAt', ARGV[5],
  'isGenerating', '0',
  'generationStartedAt', '0')
redis.call('EXPIRE', KEYS[1], ARGV[6])
for i = 8, #ARGV do
  redis.call('SADD', 'order_couriers:' .. ARGV[i], ARGV[7])
  redis.call('EXPIRE', 'order_couriers:' .. ARGV[i], ARGV[6])
end
return {nv, tonumber(stale)}
`)

func (r *Repository) Get(ctx context.Context, courierID string) (*models.RouteCache, error) {
	fields, err := r.rdb.HGetAll(ctx, cacheKey(courierID)).Result()
	if err != nil {
		return nil, fmt.Errorf("routecache.Get: %w: %v", models.ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, models.ErrNotFound
	}

	cache := &models.RouteCache{CourierID: courierID}
	cache.Version, _ = strconv.ParseInt(fields["version"], 10, 64)
	cache.NeedsRevalidation = fields["needsRevalidation"] == "1"
	cache.IsGenerating = fields["isGenerating"] == "1"
	if ts, _ := strconv.ParseInt(fields["generationStartedAt"], 10, 64); ts > 0 {
		t := time.Unix(ts, 0)
		cache.GenerationStartedAt = &t
	}
	if ts, _ := strconv.ParseInt(fields["generatedAt"], 10, 64); ts > 0 {
		cache.GeneratedAt = time.Unix(ts, 0)
	}
	if ts, _ := strconv.ParseInt(fields["expiresAt"], 10, 64); ts > 0 {
		cache.ExpiresAt = time.Unix(ts, 0)
	}
	if payload := fields["payload"]; payload != "" {
		if err := json.Unmarshal([]byte(payload), &cache.Routes); err != nil {
			return nil, fmt.Errorf("routecache.Get: decode payload: %w", err)
		}
	}
	if inputs := fields["inputs"]; inputs != "" {
		cache.Inputs = &models.GenerationInputs{}
		if err := json.Unmarshal([]byte(inputs), cache.Inputs); err != nil {
			return nil, fmt.Errorf("routecache.Get: decode inputs: %w", err)
		}
	}
	return cache, nil
}

func (r *Repository) AcquireGeneration(ctx context.Context, courierID string, now time.Time, lockTimeout time.Duration) (int64, bool, error) {
	res, err := acquireScript.Run(ctx, r.rdb,
		[]string{cacheKey(courierID)},
		now.Unix(), int64(lockTimeout.Seconds()),
	).Int64()
	if err != nil {
		return 0, false, fmt.Errorf("routecache.AcquireGeneration: %w: %v", models.ErrUnavailable, err)
	}
	if res < 0 {
		return 0, false, nil
	}
	return res, true, nil
}

func (r *Repository) CommitGeneration(ctx context.Context, courierID string, expectedVersion int64, routes []models.CandidateRoute, inputs models.GenerationInputs, generatedAt, expiresAt time.Time, ttl time.Duration) (int64, bool, error) {
	payload, err := json.Marshal(routes)
	if err != nil {
		return 0, false, fmt.Errorf("routecache.CommitGeneration: encode payload: %w", err)
	}
	inputsJSON, err := json.Marshal(inputs)
	if err != nil {
		return 0, false, fmt.Errorf("routecache.CommitGeneration: encode inputs: %w", err)
	}

	argv := []interface{}{
		strconv.FormatInt(expectedVersion, 10),
		string(payload),
		string(inputsJSON),
		generatedAt.Unix(),
		expiresAt.Unix(),
		int64(ttl.Seconds()),
		courierID,
	}
	seen := make(map[string]struct{})
	for _, route := range routes {
		for _, id := range route.OrderIDs() {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			argv = append(argv, id)
		}
	}

	res, err := commitScript.Run(ctx, r.rdb,
		[]string{cacheKey(courierID)}, argv...,
	).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("routecache.CommitGeneration: %w: %v", models.ErrUnavailable, err)
	}
	if len(res) < 2 || res[0] < 0 {
		return 0, false, models.ErrVersionMismatch
	}
	return res[0], res[1] == 1, nil
}

func (r *Repository) ReleaseGeneration(ctx context.Context, courierID string) error {
	err := r.rdb.HSet(ctx, cacheKey(courierID),
		"isGenerating", "0",
		"generationStartedAt", "0",
		"needsRevalidation", "1",
	).Err()
	if err != nil {
		return fmt.Errorf("routecache.ReleaseGeneration: %w: %v", models.ErrUnavailable, err)
	}
	return nil
}

func (r *Repository) MarkStale(ctx context.Context, courierIDs ...string) error {
	if len(courierIDs) == 0 {
		return nil
	}
	pipe := r.rdb.Pipeline()
	for _, id := range courierIDs {
		pipe.HSet(ctx, cacheKey(id), "needsRevalidation", "1")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("routecache.MarkStale: %w: %v", models.ErrUnavailable, err)
	}
	return nil
}

func (r *Repository) CourierIDsForOrders(ctx context.Context, orderIDs []string) ([]string, error) {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, orderID := range orderIDs {
		members, err := r.rdb.SMembers(ctx, orderKey(orderID)).Result()
		if err != nil {
			return nil, fmt.Errorf("routecache.CourierIDsForOrders: %w: %v", models.ErrUnavailable, err)
		}
		for _, m := range members {
			if _, ok := seen[m]; !ok {
				seen[m] = struct{}{}
				out = append(out, m)
			}
		}
	}
	return out, nil
}
