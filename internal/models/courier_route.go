package models

import "time"

// RouteStatus is the lifecycle state of a claimed CourierRoute.
type RouteStatus string

const (
	RouteStatusDraft     RouteStatus = "DRAFT"
	RouteStatusActive    RouteStatus = "ACTIVE"
	RouteStatusCompleted RouteStatus = "COMPLETED"
	RouteStatusAbandoned RouteStatus = "ABANDONED"
)

// Terminal reports whether the status permits no further transitions.
func (s RouteStatus) Terminal() bool {
	return s == RouteStatusCompleted || s == RouteStatusAbandoned
}

// RouteStop is a Stop embedded in a claimed route together with its progress
// state and actual timestamps.
type RouteStop struct {
	Stop
	Status      StopStatus `json:"status"`
	ArrivedAt   *time.Time `json:"arrived_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	SkippedAt   *time.Time `json:"skipped_at,omitempty"`
}

// CourierRoute is a persisted, claimed route actively being worked by a
// courier. It is created as a DRAFT copy of a CandidateRoute, becomes ACTIVE
// on the first stop arrival, and ends COMPLETED or ABANDONED. Terminal routes
// are historical record only; no stop mutation is permitted on them.
type CourierRoute struct {
	ID                   string      `json:"id"`
	CourierID            string      `json:"courier_id"`
	Status               RouteStatus `json:"status"`
	Start                Coordinates `json:"start"`
	TargetDurationMin    int         `json:"target_duration_min"`
	Stops                []RouteStop `json:"stops"`
	CurrentStopIndex     int         `json:"current_stop_index"`
	CompletedStops       int         `json:"completed_stops"`
	EstimatedDurationMin float64     `json:"estimated_duration_min"`
	EstimatedDistanceKm  float64     `json:"estimated_distance_km"`
	EstimatedEarnings    float64     `json:"estimated_earnings"`
	ActualEarnings       float64     `json:"actual_earnings"`
	OrderIDs             []string    `json:"order_ids"`
	ActualStartTime      *time.Time  `json:"actual_start_time,omitempty"`
	CompletedAt          *time.Time  `json:"completed_at,omitempty"`
	AbandonedAt          *time.Time  `json:"abandoned_at,omitempty"`
	AbandonReason        string      `json:"abandon_reason,omitempty"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// CurrentStop returns the stop the courier is expected to handle next, or nil
// when every stop has been resolved.
func (r *CourierRoute) CurrentStop() *RouteStop {
	if r.CurrentStopIndex < 0 || r.CurrentStopIndex >= len(r.Stops) {
		return nil
	}
	return &r.Stops[r.CurrentStopIndex]
}

// UnresolvedOrderIDs returns the orders linked to stops that were neither
// completed nor skipped yet. These are the orders released back to the pool
// when the route is abandoned.
func (r *CourierRoute) UnresolvedOrderIDs() []string {
	resolved := make(map[string]bool)
	linked := make(map[string]bool)
	order := make([]string, 0)
	for _, s := range r.Stops {
		if s.OrderID == "" {
			continue
		}
		if !linked[s.OrderID] {
			linked[s.OrderID] = true
			order = append(order, s.OrderID)
		}
		// An order counts as resolved only once its delivery (or sole) stop
		// is completed. Any pending stop keeps it unresolved.
		if s.Status != StopStatusCompleted && s.Status != StopStatusSkipped {
			resolved[s.OrderID] = false
		} else if _, seen := resolved[s.OrderID]; !seen {
			resolved[s.OrderID] = true
		}
	}
	out := make([]string, 0, len(order))
	for _, id := range order {
		if !resolved[id] {
			out = append(out, id)
		}
	}
	return out
}
