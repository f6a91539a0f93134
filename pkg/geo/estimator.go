package geo

import (
	"context"

	"courier-routing/internal/models"

	"github.com/golang/geo/s2"
)

const earthRadiusKm = 6371.01

// Leg is the travel estimate between two points.
type Leg struct {
	DurationMinutes float64
	DistanceKm      float64
}

// Default average urban speeds in km/h per vehicle type. Haversine distance
// is inflated by a detour factor to approximate road-network distance.
var vehicleSpeedsKmh = map[string]float64{
	"CAR":     32,
	"SCOOTER": 24,
	"BICYCLE": 15,
	"ON_FOOT": 4.5,
}

const roadDetourFactor = 1.3

// HaversineEstimator derives travel legs from great-circle distance and an
// average vehicle speed. It is a stand-in for a live distance service and is
// a pure function of its inputs, so route generation stays deterministic.
type HaversineEstimator struct {
	speedKmh float64
}

// NewHaversineEstimator returns an estimator calibrated for the vehicle type.
// Unknown types fall back to the slowest profile.
func NewHaversineEstimator(vehicleType string) *HaversineEstimator {
	speed, ok := vehicleSpeedsKmh[vehicleType]
	if !ok {
		speed = vehicleSpeedsKmh["ON_FOOT"]
	}
	return &HaversineEstimator{speedKmh: speed}
}

// EstimateLeg returns the travel distance and duration between two points.
func (e *HaversineEstimator) EstimateLeg(_ context.Context, from, to models.Coordinates) (Leg, error) {
	km := DistanceKm(from, to) * roadDetourFactor
	return Leg{
		DistanceKm:      km,
		DurationMinutes: km / e.speedKmh * 60,
	}, nil
}

// DistanceKm is the great-circle distance between two coordinates.
func DistanceKm(a, b models.Coordinates) float64 {
	p1 := s2.LatLngFromDegrees(a.Lat, a.Lng)
	p2 := s2.LatLngFromDegrees(b.Lat, b.Lng)
	return p1.Distance(p2).Radians() * earthRadiusKm
}
