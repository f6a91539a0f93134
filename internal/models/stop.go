package models

import "time"

// Coordinates is an immutable geographic point (latitude, longitude).
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinates fall inside the WGS84 ranges and are
// not the (0,0) null island placeholder our order importer writes for
// addresses that failed geocoding.
func (c Coordinates) Valid() bool {
	if c.Lat == 0 && c.Lng == 0 {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// StopType discriminates the three kinds of routable units.
type StopType string

const (
	StopTypePickup   StopType = "PICKUP"
	StopTypeDelivery StopType = "DELIVERY"
	StopTypeBreak    StopType = "BREAK"
)

// StopStatus is the per-stop progress state inside an active CourierRoute.
type StopStatus string

const (
	StopStatusPending   StopStatus = "PENDING"
	StopStatusArrived   StopStatus = "ARRIVED"
	StopStatusCompleted StopStatus = "COMPLETED"
	StopStatusSkipped   StopStatus = "SKIPPED"
)

// Stop is a unit of work at a location. Stops are materialized fresh from the
// live pool of unclaimed orders on every route-generation pass and exist only
// inside a candidate route or an active route's stop list, never standalone.
//
// A BREAK stop carries no order and a positive BreakMinutes; PICKUP and
// DELIVERY stops always reference an order and a valid location.
type Stop struct {
	ID           string      `json:"id"`
	Type         StopType    `json:"type"`
	OrderID      string      `json:"order_id,omitempty"`
	Location     Coordinates `json:"location"`
	Address      string      `json:"address,omitempty"`
	City         string      `json:"city,omitempty"`
	ContactName  string      `json:"contact_name,omitempty"`
	ContactPhone string      `json:"contact_phone,omitempty"`
	Value        float64     `json:"value,omitempty"`
	Earning      float64     `json:"earning,omitempty"`
	Deadline     *time.Time  `json:"deadline,omitempty"`
	BreakMinutes int         `json:"break_minutes,omitempty"`
}

// ServiceMinutes returns the time spent at the stop itself, on top of travel:
// the break duration for a BREAK stop, the configured handover time otherwise.
func (s Stop) ServiceMinutes(handoverMinutes float64) float64 {
	if s.Type == StopTypeBreak {
		return float64(s.BreakMinutes)
	}
	return handoverMinutes
}
