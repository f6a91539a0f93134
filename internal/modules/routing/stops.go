package routing

import (
	"fmt"

	"courier-routing/internal/models"
	"courier-routing/pkg/geo"

	"github.com/google/uuid"
)

// StopsFromOrder normalizes an available order into routable stops: a pickup
// and a delivery stop when the courier still has to collect the item, only
// the delivery stop when it is already in possession. Orders with invalid
// coordinates are excluded (nil, no error) rather than routed to null island.
func StopsFromOrder(order models.AvailableOrder, earnings models.EarningsConfig) []models.Stop {
	if !order.DropoffLocation.Valid() {
		return nil
	}
	if order.RequiresPickup && !order.PickupLocation.Valid() {
		return nil
	}

	earning := order.Earning
	if earning == 0 {
		// Fall back to the platform payout snapshot when the order carries
		// no precomputed courier earning.
		earning = earnings.BaseFeePerStop + earnings.PerKm*geo.DistanceKm(order.PickupLocation, order.DropoffLocation)
	}

	delivery := models.Stop{
		ID:           stopID(order.ID, models.StopTypeDelivery),
		Type:         models.StopTypeDelivery,
		OrderID:      order.ID,
		Location:     order.DropoffLocation,
		Address:      order.DropoffAddress,
		City:         order.DropoffCity,
		ContactName:  order.ContactName,
		ContactPhone: order.ContactPhone,
		Value:        order.Value,
		Earning:      earning,
		Deadline:     order.Deadline,
	}

	if !order.RequiresPickup {
		return []models.Stop{delivery}
	}

	pickup := models.Stop{
		ID:       stopID(order.ID, models.StopTypePickup),
		Type:     models.StopTypePickup,
		OrderID:  order.ID,
		Location: order.PickupLocation,
		Address:  order.PickupAddress,
		City:     order.PickupCity,
		Value:    order.Value,
		Deadline: order.Deadline,
	}
	return []models.Stop{pickup, delivery}
}

// BreakStop builds a scheduled break of the given duration. The location is
// resolved at insertion time (a break happens wherever the courier is), so
// the stop carries no coordinates of its own until placed.
func BreakStop(minutes int) (models.Stop, error) {
	if minutes <= 0 {
		return models.Stop{}, fmt.Errorf("break stop: duration must be positive, got %d: %w", minutes, models.ErrInvalidInput)
	}
	return models.Stop{
		ID:           uuid.NewString(),
		Type:         models.StopTypeBreak,
		BreakMinutes: minutes,
	}, nil
}

// stopID is stable across generation runs so that regenerating an unchanged
// order pool yields the same stop identifiers.
func stopID(orderID string, stopType models.StopType) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(orderID+"/"+string(stopType))).String()
}
