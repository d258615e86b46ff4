package weather

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/flylasse/windy-trip-weather/internal/metrics"
)

const publishTimeout = 5 * time.Second

// ProbePoint is the location used to check that the forecast credential works.
var ProbePoint = Point{ID: 0, Name: "San Francisco", Latitude: 37.7749, Longitude: -122.4194}

// BatchOptions bounds a batch run.
type BatchOptions struct {
	// MaxConcurrency caps simultaneous forecast requests (<= 0 means unlimited).
	MaxConcurrency int
	// Timeout is the overall batch deadline (0 means none).
	Timeout time.Duration
}

// Service runs forecast batches against a provider and persists the results.
type Service struct {
	store    Store
	provider Provider
	sink     OutcomeSink
	opts     BatchOptions
	now      func() time.Time

	// publishing tracks outcome publishers still draining after RunBatch returned.
	publishing sync.WaitGroup
}

// NewService creates a new Service. store may be nil.
func NewService(store Store, provider Provider, opts BatchOptions) *Service {
	return &Service{
		store:    store,
		provider: provider,
		opts:     opts,
		now:      time.Now,
	}
}

// SetOutcomeSink streams every settled outcome to sink.
func (s *Service) SetOutcomeSink(sink OutcomeSink) {
	s.sink = sink
}

type settledOutcome struct {
	index   int
	outcome PointOutcome
}

// RunBatch enriches every point concurrently and returns one outcome per
// point in input order. Per-point failures never fail the batch; the only
// error returned is a configuration problem detected before any request.
func (s *Service) RunBatch(ctx context.Context, points []Point) (BatchResult, error) {
	if s.provider == nil {
		return BatchResult{}, errors.New("no forecast provider configured")
	}
	if err := s.provider.Ready(); err != nil {
		return BatchResult{}, err
	}

	started := s.now().UTC()
	batch := BatchResult{
		ID:        uuid.NewString(),
		StartedAt: started,
		Outcomes:  make([]PointOutcome, len(points)),
	}
	logger := log.WithFields(log.Fields{"batch": batch.ID, "points": len(points)})
	logger.Debug("batch started")

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	// Workers only send; the collector goroutine is the single writer of batch.Outcomes.
	settled := make(chan settledOutcome, len(points))
	collected := make(chan struct{})
	queue := s.startPublisher(ctx, batch.ID, len(points))
	go func() {
		defer close(collected)
		if queue != nil {
			defer close(queue)
		}
		for so := range settled {
			batch.Outcomes[so.index] = so.outcome
			metrics.RecordPointOutcome(Kind(so.outcome.Err))
			if queue != nil {
				queue <- so
			}
		}
	}()

	// A plain Group: one point's failure must not cancel its siblings.
	var g errgroup.Group
	if s.opts.MaxConcurrency > 0 {
		g.SetLimit(s.opts.MaxConcurrency)
	}
	for i, p := range points {
		i, p := i, p
		if p.Time.IsZero() {
			p.Time = started
		}
		g.Go(func() error {
			settled <- settledOutcome{index: i, outcome: s.fetchOne(ctx, p)}
			return nil
		})
	}
	_ = g.Wait()
	close(settled)
	<-collected

	batch.CompletedAt = s.now().UTC()
	failed := batch.Failed()
	metrics.RecordBatch(len(points), failed, batch.CompletedAt.Sub(started))
	logger.WithFields(log.Fields{
		"succeeded": len(points) - failed,
		"failed":    failed,
		"elapsed":   batch.CompletedAt.Sub(started).String(),
	}).Info("batch completed")

	if s.store != nil {
		s.store.SaveBatch(batch)
	}
	return batch, nil
}

func (s *Service) fetchOne(ctx context.Context, p Point) PointOutcome {
	if err := p.Validate(); err != nil {
		return PointOutcome{Point: p, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return PointOutcome{Point: p, Err: errors.Wrap(err, "batch deadline reached before request")}
	}

	r, err := s.provider.Fetch(ctx, p)
	if err != nil {
		log.WithFields(log.Fields{"point": p.Key(), "kind": Kind(err)}).WithError(err).
			Warnf("provider %s fetch failed", s.provider.Name())
		return PointOutcome{Point: p, Err: err}
	}
	return PointOutcome{Point: p, Result: &r}
}

// startPublisher streams a batch's outcomes to the sink from its own
// goroutine, so a slow sink never holds RunBatch past its deadline. The queue
// holds every outcome of the batch and never blocks the collector.
func (s *Service) startPublisher(ctx context.Context, batchID string, n int) chan<- settledOutcome {
	if s.sink == nil {
		return nil
	}
	queue := make(chan settledOutcome, n)
	sink := s.sink
	// Publishing outlives the batch deadline; each outcome gets its own timeout.
	ctx = context.WithoutCancel(ctx)

	s.publishing.Add(1)
	go func() {
		defer s.publishing.Done()
		for so := range queue {
			pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			if err := sink.Publish(pubCtx, batchID, so.index, so.outcome); err != nil {
				log.WithFields(log.Fields{"batch": batchID, "point": so.outcome.Point.Key()}).
					WithError(err).Warn("failed to publish outcome")
			}
			cancel()
		}
	}()
	return queue
}

// WaitPublished blocks until every queued outcome has been handed to the
// sink, or ctx is done.
func (s *Service) WaitPublished(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.publishing.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CheckCredential issues one forecast for ProbePoint at the current time.
func (s *Service) CheckCredential(ctx context.Context) (WeatherResult, error) {
	if s.provider == nil {
		return WeatherResult{}, errors.New("no forecast provider configured")
	}
	if err := s.provider.Ready(); err != nil {
		return WeatherResult{}, err
	}
	p := ProbePoint
	p.Time = s.now()
	return s.provider.Fetch(ctx, p)
}

// GetBatch delegates to the underlying store.
func (s *Service) GetBatch(id string) (BatchResult, error) {
	if s.store == nil {
		return BatchResult{}, errors.New("no batch store configured")
	}
	return s.store.GetBatch(id)
}

// Latest delegates to the underlying store.
func (s *Service) Latest() (BatchResult, error) {
	if s.store == nil {
		return BatchResult{}, errors.New("no batch store configured")
	}
	return s.store.Latest()
}
