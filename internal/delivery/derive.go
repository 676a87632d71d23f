package delivery

import (
	"github.com/example/rider-dispatch/internal/geo"
	"github.com/example/rider-dispatch/internal/models"
)

// UI action labels derived from the current status.
const (
	ActionArriveAtRestaurant = "arrive_at_restaurant"
	ActionVerifyPickupOtp    = "verify_pickup_otp"
	ActionStartDelivery      = "start_delivery"
	ActionVerifyDeliveryOtp  = "verify_delivery_otp"
	ActionNone               = "none"
)

// Derive is the single reducer producing the UI-facing state: which
// destination is live, distance remaining, ETA, and the one legal next
// action. Pure function of its inputs, so replays are deterministic.
func Derive(order *models.ActiveOrder, sample *models.LocationSample, speedMps float64) models.DerivedDeliveryState {
	if order == nil {
		return models.DerivedDeliveryState{NextAction: ActionNone}
	}
	d := models.DerivedDeliveryState{
		OrderID:    order.OrderID,
		Status:     order.Status,
		ActiveLeg:  activeLeg(order.Status),
		NextAction: nextAction(order.Status),
	}
	if sample == nil {
		return d
	}
	dest := order.RestaurantLoc
	if d.ActiveLeg == models.LegCustomer {
		dest = order.CustomerLoc
	}
	d.HasLocation = true
	d.DistanceMeters = geo.Distance(sample.Coord(), dest)
	d.EtaSeconds = geo.EstimateSeconds(sample.Coord(), dest, speedMps)
	return d
}

// Restaurant is the live destination until the food is picked up, the
// customer afterwards.
func activeLeg(s models.OrderStatus) models.Leg {
	switch s {
	case models.StatusAccepted, models.StatusArrivedAtRestaurant:
		return models.LegRestaurant
	default:
		return models.LegCustomer
	}
}

func nextAction(s models.OrderStatus) string {
	switch s {
	case models.StatusAccepted:
		return ActionArriveAtRestaurant
	case models.StatusArrivedAtRestaurant:
		return ActionVerifyPickupOtp
	case models.StatusPickedUp:
		return ActionStartDelivery
	case models.StatusOnTheWay:
		return ActionVerifyDeliveryOtp
	default:
		return ActionNone
	}
}
