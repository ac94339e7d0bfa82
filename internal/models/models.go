package models

import "time"

// Coordinate is an immutable lat/lng pair.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate is inside the WGS84 ranges.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// PlaceSuggestion is one autocomplete candidate from the search provider.
// Ephemeral; never persisted.
type PlaceSuggestion struct {
	ID            string `json:"id"`
	PrimaryText   string `json:"primary_text"`
	SecondaryText string `json:"secondary_text"`
}

// ResolvedLocation is a suggestion or raw position reading resolved to an
// address plus coordinate.
type ResolvedLocation struct {
	Address    string     `json:"address"`
	Coordinate Coordinate `json:"coordinate"`
}

// Ride is the client's view of the active ride.
type Ride struct {
	ID          string
	Status      RideStatus
	RideType    string
	Pickup      ResolvedLocation
	Destination ResolvedLocation
	FareAmount  float64
	DriverID    string // empty until a driver is assigned
	PassengerID string
	RequestedAt time.Time
}

// DriverLocation is the last known position of a driver, overwritten on
// each inbound update.
type DriverLocation struct {
	DriverID   string     `json:"driver_id"`
	Coordinate Coordinate `json:"coordinate"`
	Online     bool       `json:"online"`
	Updated    time.Time  `json:"updated"`
}

// FareEstimate mirrors the backend's fare breakdown.
type FareEstimate struct {
	BaseFare          float64 `json:"base_fare"`
	DistanceFare      float64 `json:"distance_fare"`
	TimeFare          float64 `json:"time_fare"`
	SurgeMultiplier   float64 `json:"surge_multiplier"`
	TotalFare         float64 `json:"total_fare"`
	EstimatedDistance float64 `json:"estimated_distance"` // meters
	EstimatedDuration float64 `json:"estimated_duration"` // seconds
}

// Ride types accepted by the backend.
const (
	RideTypeStandard = "standard"
	RideTypePremium  = "premium"
	RideTypeXL       = "xl"
	RideTypePet      = "pet"
	RideTypeShared   = "shared"
)
