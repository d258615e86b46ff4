package weather

import (
	"context"
)

// Provider abstracts a point-forecast source (e.g. Windy point-forecast v2).
type Provider interface {
	Name() string
	// Ready reports configuration problems, such as a missing credential,
	// without issuing a request.
	Ready() error
	Fetch(ctx context.Context, p Point) (WeatherResult, error)
}

// Store is the contract the in-memory batch store (and any future persistent store) must satisfy.
type Store interface {
	SaveBatch(batch BatchResult)
	GetBatch(id string) (BatchResult, error)
	Latest() (BatchResult, error)
}

// OutcomeSink receives each outcome as soon as it settles, before the batch completes.
type OutcomeSink interface {
	Publish(ctx context.Context, batchID string, index int, outcome PointOutcome) error
}
