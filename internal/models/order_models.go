package models

import "time"

// ShippingSize buckets what a vehicle can carry.
type ShippingSize string

const (
	ShippingSizeSmall  ShippingSize = "SMALL"
	ShippingSizeMedium ShippingSize = "MEDIUM"
	ShippingSizeLarge  ShippingSize = "LARGE"
)

// AvailableOrder is an unclaimed order as served by the available-orders
// source: everything the route builder needs and nothing else.
type AvailableOrder struct {
	ID              string       `json:"id"`
	PickupLocation  Coordinates  `json:"pickup_location"`
	PickupAddress   string       `json:"pickup_address"`
	PickupCity      string       `json:"pickup_city"`
	DropoffLocation Coordinates  `json:"dropoff_location"`
	DropoffAddress  string       `json:"dropoff_address"`
	DropoffCity     string       `json:"dropoff_city"`
	ContactName     string       `json:"contact_name,omitempty"`
	ContactPhone    string       `json:"contact_phone,omitempty"`
	Value           float64      `json:"value"`
	Earning         float64      `json:"earning"`
	ShippingSize    ShippingSize `json:"shipping_size"`
	Deadline        *time.Time   `json:"deadline,omitempty"`
	// RequiresPickup is false when the courier already has the item in
	// possession, in which case only a delivery stop is generated.
	RequiresPickup bool `json:"requires_pickup"`
}

// VehicleProfile constrains what a courier can carry and how many stops a
// single route may contain.
type VehicleProfile struct {
	Type     string `json:"type" validate:"required,oneof=CAR SCOOTER BICYCLE ON_FOOT"`
	MaxStops int    `json:"max_stops,omitempty"`
}

// MaxShippingSize returns the largest shipping size the vehicle accepts.
func (v VehicleProfile) MaxShippingSize() ShippingSize {
	switch v.Type {
	case "CAR":
		return ShippingSizeLarge
	case "SCOOTER", "BICYCLE":
		return ShippingSizeMedium
	default:
		return ShippingSizeSmall
	}
}

// Fits reports whether an order of the given shipping size can be carried.
func (v VehicleProfile) Fits(size ShippingSize) bool {
	rank := map[ShippingSize]int{ShippingSizeSmall: 0, ShippingSizeMedium: 1, ShippingSizeLarge: 2}
	return rank[size] <= rank[v.MaxShippingSize()]
}

// EarningsConfig is an immutable snapshot of the platform's courier payout
// settings, taken once per generation run. The builder never reads live
// settings mid-algorithm.
type EarningsConfig struct {
	BaseFeePerStop float64 `json:"base_fee_per_stop"`
	PerKm          float64 `json:"per_km"`
}

// RouteOptionsRequest carries the query parameters of the options endpoint.
type RouteOptionsRequest struct {
	Lat          float64 `query:"lat" validate:"required,latitude"`
	Lng          float64 `query:"lng" validate:"required,longitude"`
	Vehicle      string  `query:"vehicle" validate:"required,oneof=CAR SCOOTER BICYCLE ON_FOOT"`
	Buckets      string  `query:"buckets"`
	BreakMinutes int     `query:"break_minutes" validate:"omitempty,min=5,max=60"`
}

// ClaimRouteRequest is the body of the claim endpoint.
type ClaimRouteRequest struct {
	CandidateRouteID string `json:"candidate_route_id" validate:"required,uuid4"`
}

// AbandonRouteRequest is the body of the abandon endpoint.
type AbandonRouteRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// InvalidateRequest is the body of the internal invalidation hook used by
// external order services when the pool changes.
type InvalidateRequest struct {
	CourierID string   `json:"courier_id,omitempty"`
	OrderIDs  []string `json:"order_ids,omitempty"`
}

// ErrorResponse is the uniform error body returned by every handler.
type ErrorResponse struct {
	Message string `json:"message"`
}
