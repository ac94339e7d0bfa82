package fare

import (
	"math"

	"github.com/example/ride-sync/internal/models"
)

// Pricing holds the per-ride-type rate card.
type Pricing struct {
	BaseFare    float64
	PerKm       float64
	PerMinute   float64
	MinimumFare float64
}

var rateCard = map[string]Pricing{
	models.RideTypeStandard: {BaseFare: 2.50, PerKm: 1.50, PerMinute: 0.25, MinimumFare: 5.00},
	models.RideTypePremium:  {BaseFare: 5.00, PerKm: 2.50, PerMinute: 0.40, MinimumFare: 10.00},
	models.RideTypeXL:       {BaseFare: 4.00, PerKm: 2.00, PerMinute: 0.30, MinimumFare: 8.00},
	models.RideTypePet:      {BaseFare: 3.00, PerKm: 1.75, PerMinute: 0.30, MinimumFare: 7.00},
	models.RideTypeShared:   {BaseFare: 1.50, PerKm: 1.00, PerMinute: 0.15, MinimumFare: 3.50},
}

// average city speed used for duration estimates, km/h
const assumedSpeedKmh = 30.0

// Estimate prices a trip from pickup to dropoff for the given ride type.
// Unknown ride types fall back to standard rates.
func Estimate(pickup, dropoff models.Coordinate, rideType string, surge float64) models.FareEstimate {
	if surge <= 0 {
		surge = 1.0
	}
	rates, ok := rateCard[rideType]
	if !ok {
		rates = rateCard[models.RideTypeStandard]
	}

	distanceKm := Haversine(pickup.Lat, pickup.Lng, dropoff.Lat, dropoff.Lng) / 1000
	durationMin := distanceKm / assumedSpeedKmh * 60

	distanceFare := distanceKm * rates.PerKm
	timeFare := durationMin * rates.PerMinute
	total := (rates.BaseFare + distanceFare + timeFare) * surge
	if total < rates.MinimumFare {
		total = rates.MinimumFare
	}

	return models.FareEstimate{
		BaseFare:          roundCents(rates.BaseFare),
		DistanceFare:      roundCents(distanceFare),
		TimeFare:          roundCents(timeFare),
		SurgeMultiplier:   surge,
		TotalFare:         roundCents(total),
		EstimatedDistance: distanceKm * 1000,
		EstimatedDuration: durationMin * 60,
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// Haversine distance in meters.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
