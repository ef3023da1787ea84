package transport

import (
	"context"
	"errors"
	"math"

	"github.com/FACorreiaa/haru-planner/internal/types"
)

// ErrUnavailable is returned when no estimate could be produced.
var ErrUnavailable = errors.New("transport estimate unavailable")

// Estimator returns the travel time in whole minutes between two places.
type Estimator interface {
	Minutes(ctx context.Context, from, to types.Location, mode types.TransportMode) (int, error)
}

var _ Estimator = (*HaversineEstimator)(nil)

const (
	earthRadiusKm = 6371.0
	// routeFactor converts great-circle distance into street distance.
	routeFactor = 1.3
)

// Speeds in km/h, plus a fixed boarding wait for transit.
type Speeds struct {
	WalkKmh        float64
	TransitKmh     float64
	DriveKmh       float64
	TransitWaitMin int
}

func DefaultSpeeds() Speeds {
	return Speeds{WalkKmh: 4.5, TransitKmh: 20, DriveKmh: 30, TransitWaitMin: 5}
}

// HaversineEstimator is a deterministic, offline estimator.
type HaversineEstimator struct {
	speeds Speeds
}

func NewHaversineEstimator(speeds Speeds) *HaversineEstimator {
	d := DefaultSpeeds()
	if speeds.WalkKmh <= 0 {
		speeds.WalkKmh = d.WalkKmh
	}
	if speeds.TransitKmh <= 0 {
		speeds.TransitKmh = d.TransitKmh
	}
	if speeds.DriveKmh <= 0 {
		speeds.DriveKmh = d.DriveKmh
	}
	if speeds.TransitWaitMin < 0 {
		speeds.TransitWaitMin = 0
	}
	return &HaversineEstimator{speeds: speeds}
}

func (h *HaversineEstimator) Minutes(_ context.Context, from, to types.Location, mode types.TransportMode) (int, error) {
	km := DistanceKm(from, to) * routeFactor
	if km == 0 {
		return 0, nil
	}
	var speed float64
	wait := 0
	switch mode {
	case types.TransportWalk:
		speed = h.speeds.WalkKmh
	case types.TransportTransit:
		speed = h.speeds.TransitKmh
		wait = h.speeds.TransitWaitMin
	case types.TransportDrive:
		speed = h.speeds.DriveKmh
	default:
		return 0, ErrUnavailable
	}
	return int(math.Ceil(km/speed*60)) + wait, nil
}

// DistanceKm is the great-circle distance between two coordinates.
func DistanceKm(a, b types.Location) float64 {
	lat1, lat2 := radians(a.Latitude), radians(b.Latitude)
	dLat := lat2 - lat1
	dLon := radians(b.Longitude - a.Longitude)
	s := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(s)))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
