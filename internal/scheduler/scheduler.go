package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	log "github.com/sirupsen/logrus"

	"github.com/flylasse/windy-trip-weather/internal/weather"
)

// Runner is the part of weather.Service the scheduler needs.
type Runner interface {
	RunBatch(ctx context.Context, points []weather.Point) (weather.BatchResult, error)
}

// Scheduler periodically re-enriches a watched set of points.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	points    []weather.Point
	interval  time.Duration
	timeout   time.Duration
}

// New creates a new Scheduler. timeout bounds each run.
func New(points []weather.Point, interval, timeout time.Duration, runner Runner) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		runner:    runner,
		points:    points,
		interval:  interval,
		timeout:   timeout,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if len(s.points) == 0 {
		log.Info("scheduler: no watched points configured; nothing to schedule")
		return nil
	}

	interval := s.interval
	if interval < time.Minute {
		interval = 30 * time.Minute
	}

	_, err := s.scheduler.Every(interval).Do(s.runOnce)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// runOnce enriches the watched points at the current time. Point times are
// cleared so each run forecasts for "now".
func (s *Scheduler) runOnce() {
	log.WithField("points", len(s.points)).Info("scheduler: running watched route job")

	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	points := make([]weather.Point, len(s.points))
	for i, p := range s.points {
		p.Time = time.Time{}
		points[i] = p
	}

	batch, err := s.runner.RunBatch(ctx, points)
	if err != nil {
		log.WithError(err).Error("scheduler: watched route batch failed")
		return
	}
	log.WithFields(log.Fields{
		"batch":     batch.ID,
		"succeeded": batch.Succeeded(),
		"failed":    batch.Failed(),
	}).Info("scheduler: completed watched route job")
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
