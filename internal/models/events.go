package models

import "time"

// Realtime event payloads carried inside channel envelopes. Shapes mirror
// what the tracking consumer pushes to passenger and driver apps.

const (
	EventRideStatus     = "ride_status_update"
	EventDriverLocation = "driver_location_update"
)

// RideStatusEvent announces a status change on topic ride_<id>_update.
type RideStatusEvent struct {
	Type     string     `json:"type"`
	RideID   string     `json:"ride_id"`
	Status   RideStatus `json:"status"`
	DriverID string     `json:"driver_id,omitempty"`
	Message  string     `json:"message,omitempty"`
}

// DriverLocationEvent carries a position update on topic
// driver_<id>_location.
type DriverLocationEvent struct {
	Type      string     `json:"type"`
	RideID    string     `json:"ride_id,omitempty"`
	DriverID  string     `json:"driver_id"`
	Location  Coordinate `json:"location"`
	Timestamp time.Time  `json:"timestamp"`
}
