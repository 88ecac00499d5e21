package routing

import (
	"context"
	"log/slog"

	"github.com/example/ride-dispatch/internal/domain"
	"github.com/example/ride-dispatch/internal/geo"
)

// Fallback tries the wrapped client and falls back to a straight-line
// estimate when it fails. With Require set, routing failures propagate
// instead of being estimated away.
type Fallback struct {
	Next    Client
	Require bool
	Logger  *slog.Logger
}

func NewFallback(next Client, require bool, logger *slog.Logger) *Fallback {
	return &Fallback{Next: next, Require: require, Logger: logger}
}

func (f *Fallback) Route(ctx context.Context, from, to domain.Location) (*domain.RouteInfo, error) {
	if f.Next != nil {
		route, err := f.Next.Route(ctx, from, to)
		if err == nil {
			return route, nil
		}
		if f.Require {
			return nil, err
		}
		if f.Logger != nil {
			f.Logger.Warn("route lookup failed, using straight-line estimate", "error", err)
		}
	}
	return Estimate(from, to), nil
}

// Estimate builds a RouteInfo from the haversine distance and the city
// speed heuristic. Used when no routing engine is reachable.
func Estimate(from, to domain.Location) *domain.RouteInfo {
	dist := geo.Haversine(from.Latitude, from.Longitude, to.Latitude, to.Longitude)
	return &domain.RouteInfo{
		DistanceMeters:  int64(dist),
		DurationSeconds: geo.EstimateETA(dist, domain.VehicleTypeCar),
	}
}
