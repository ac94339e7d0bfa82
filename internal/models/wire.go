package models

import (
	"fmt"
	"time"
)

// REST request/response bodies. Field names follow the backend contract
// (snake_case, flattened coordinates).

type FareEstimateRequest struct {
	PickupLatitude   float64 `json:"pickup_latitude"`
	PickupLongitude  float64 `json:"pickup_longitude"`
	DropoffLatitude  float64 `json:"dropoff_latitude"`
	DropoffLongitude float64 `json:"dropoff_longitude"`
	RideType         string  `json:"ride_type"`
}

type RideRequestPayload struct {
	PickupLatitude       float64 `json:"pickup_latitude"`
	PickupLongitude      float64 `json:"pickup_longitude"`
	PickupAddress        string  `json:"pickup_address"`
	DestinationLatitude  float64 `json:"destination_latitude"`
	DestinationLongitude float64 `json:"destination_longitude"`
	DestinationAddress   string  `json:"destination_address"`
	RideType             string  `json:"ride_type"`
}

type CancelRequestPayload struct {
	CancelledBy string `json:"cancelled_by"` // rider, driver or system
	Reason      string `json:"reason,omitempty"`
}

// RideWire is the ride as serialized by the backend.
type RideWire struct {
	ID                   string    `json:"id"`
	Status               RideStatus `json:"status"`
	RideType             string    `json:"ride_type"`
	PickupLatitude       float64   `json:"pickup_latitude"`
	PickupLongitude      float64   `json:"pickup_longitude"`
	PickupAddress        string    `json:"pickup_address"`
	DestinationLatitude  float64   `json:"destination_latitude"`
	DestinationLongitude float64   `json:"destination_longitude"`
	DestinationAddress   string    `json:"destination_address"`
	FareAmount           float64   `json:"fare_amount"`
	DriverID             string    `json:"driver_id,omitempty"`
	RiderID              string    `json:"rider_id"`
	RequestedAt          time.Time `json:"requested_at"`
}

// Ride converts the wire form to the domain form.
func (w RideWire) Ride() Ride {
	return Ride{
		ID:       w.ID,
		Status:   w.Status,
		RideType: w.RideType,
		Pickup: ResolvedLocation{
			Address:    w.PickupAddress,
			Coordinate: Coordinate{Lat: w.PickupLatitude, Lng: w.PickupLongitude},
		},
		Destination: ResolvedLocation{
			Address:    w.DestinationAddress,
			Coordinate: Coordinate{Lat: w.DestinationLatitude, Lng: w.DestinationLongitude},
		},
		FareAmount:  w.FareAmount,
		DriverID:    w.DriverID,
		PassengerID: w.RiderID,
		RequestedAt: w.RequestedAt,
	}
}

// Wire converts a domain ride to its serialized form.
func (r Ride) Wire() RideWire {
	return RideWire{
		ID:                   r.ID,
		Status:               r.Status,
		RideType:             r.RideType,
		PickupLatitude:       r.Pickup.Coordinate.Lat,
		PickupLongitude:      r.Pickup.Coordinate.Lng,
		PickupAddress:        r.Pickup.Address,
		DestinationLatitude:  r.Destination.Coordinate.Lat,
		DestinationLongitude: r.Destination.Coordinate.Lng,
		DestinationAddress:   r.Destination.Address,
		FareAmount:           r.FareAmount,
		DriverID:             r.DriverID,
		RiderID:              r.PassengerID,
		RequestedAt:          r.RequestedAt,
	}
}

// Topic names for the realtime channel.

func RideTopic(rideID string) string { return fmt.Sprintf("ride_%s_update", rideID) }

func DriverTopic(driverID string) string { return fmt.Sprintf("driver_%s_location", driverID) }
