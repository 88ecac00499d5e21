package routing

import (
	"context"

	"github.com/example/ride-dispatch/internal/domain"
)

// Client resolves a driving route between two points.
type Client interface {
	Route(ctx context.Context, from, to domain.Location) (*domain.RouteInfo, error)
}
