package models

import "time"

// CandidateRoute is one proposed itinerary produced by the route builder for
// a single duration bucket. Candidates are ephemeral: they live only inside a
// courier's RouteCache and are recomputed on every regeneration.
type CandidateRoute struct {
	ID                   string      `json:"id"`
	BucketMinutes        int         `json:"bucket_minutes"`
	Start                Coordinates `json:"start"`
	Stops                []Stop      `json:"stops"`
	EstimatedDurationMin float64     `json:"estimated_duration_min"`
	EstimatedDistanceKm  float64     `json:"estimated_distance_km"`
	EstimatedEarnings    float64     `json:"estimated_earnings"`
	StartTime            time.Time   `json:"start_time"`
	EndTime              time.Time   `json:"end_time"`
	// Optimal is false when the near-optimal search hit its wall-clock or
	// node budget and returned the best route found so far.
	Optimal bool `json:"optimal"`
}

// OrderIDs returns the identifiers of all order-linked stops, deduplicated
// (an order contributing both a pickup and a delivery appears once).
func (c CandidateRoute) OrderIDs() []string {
	seen := make(map[string]struct{}, len(c.Stops))
	ids := make([]string, 0, len(c.Stops))
	for _, s := range c.Stops {
		if s.OrderID == "" {
			continue
		}
		if _, ok := seen[s.OrderID]; ok {
			continue
		}
		seen[s.OrderID] = struct{}{}
		ids = append(ids, s.OrderID)
	}
	return ids
}

// GenerationInputs records the request parameters a cache entry was built
// for. A later request with different parameters cannot be served from the
// entry even while it is fresh.
type GenerationInputs struct {
	VehicleType  string      `json:"vehicle_type"`
	Start        Coordinates `json:"start"`
	Buckets      []int       `json:"buckets"`
	BreakMinutes int         `json:"break_minutes"`
}

// RouteCache is the per-courier cached route result. At most one document
// exists per courier; it is created lazily on the first request and dropped
// once stale beyond ExpiresAt.
type RouteCache struct {
	CourierID           string            `json:"courier_id"`
	Inputs              *GenerationInputs `json:"inputs,omitempty"`
	Routes              []CandidateRoute  `json:"routes"`
	GeneratedAt         time.Time         `json:"generated_at"`
	ExpiresAt           time.Time         `json:"expires_at"`
	NeedsRevalidation   bool              `json:"needs_revalidation"`
	IsGenerating        bool              `json:"is_generating"`
	GenerationStartedAt *time.Time        `json:"generation_started_at,omitempty"`
	Version             int64             `json:"version"`
}

// Fresh reports whether the cached routes can be served as-is at the given
// instant: present, not invalidated, and not past expiry.
func (rc *RouteCache) Fresh(now time.Time) bool {
	return rc != nil && len(rc.Routes) > 0 && !rc.NeedsRevalidation && now.Before(rc.ExpiresAt)
}

// FindRoute returns the cached candidate with the given ID, or nil.
func (rc *RouteCache) FindRoute(candidateID string) *CandidateRoute {
	if rc == nil {
		return nil
	}
	for i := range rc.Routes {
		if rc.Routes[i].ID == candidateID {
			return &rc.Routes[i]
		}
	}
	return nil
}

// RouteOptionsResponse is what the options endpoint returns: the candidates
// plus enough cache metadata for the client to decide whether to poll again.
type RouteOptionsResponse struct {
	Routes      []CandidateRoute `json:"routes"`
	GeneratedAt time.Time        `json:"generated_at,omitempty"`
	ExpiresAt   time.Time        `json:"expires_at,omitempty"`
	Version     int64            `json:"version"`
	Stale       bool             `json:"stale"`
	Generating  bool             `json:"generating"`
}
