package routing

import (
	"context"
	"fmt"

	"courier-routing/internal/models"
	"courier-routing/pkg/geo"
)

// Estimator is the external distance/time service the builder depends on.
// Implementations must be deterministic for identical inputs within a single
// generation pass.
type Estimator interface {
	EstimateLeg(ctx context.Context, from, to models.Coordinates) (geo.Leg, error)
}

// memoEstimator caches legs for repeated coordinate pairs within one
// generation run. It is scoped to a single run and never shared between
// couriers.
type memoEstimator struct {
	inner Estimator
	legs  map[legKey]geo.Leg
}

type legKey struct {
	fromLat, fromLng, toLat, toLng float64
}

func newMemoEstimator(inner Estimator) *memoEstimator {
	return &memoEstimator{inner: inner, legs: make(map[legKey]geo.Leg)}
}

func (m *memoEstimator) EstimateLeg(ctx context.Context, from, to models.Coordinates) (geo.Leg, error) {
	key := legKey{from.Lat, from.Lng, to.Lat, to.Lng}
	if leg, ok := m.legs[key]; ok {
		return leg, nil
	}
	leg, err := m.inner.EstimateLeg(ctx, from, to)
	if err != nil {
		return geo.Leg{}, fmt.Errorf("routing: estimate leg (%.5f,%.5f)->(%.5f,%.5f): %w", from.Lat, from.Lng, to.Lat, to.Lng, err)
	}
	m.legs[key] = leg
	return leg, nil
}
