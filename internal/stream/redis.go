// Package stream publishes settled point outcomes to a Redis stream so that
// presentation clients can render results while a batch is still running.
package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/flylasse/windy-trip-weather/internal/weather"
)

// DefaultStream is the stream key used when none is configured.
const DefaultStream = "trip_weather_outcomes"

// RedisSink implements weather.OutcomeSink on top of XADD.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisSink creates a sink. maxLen <= 0 leaves the stream untrimmed.
func NewRedisSink(client *redis.Client, stream string, maxLen int64) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}
}

// Publish appends one outcome to the stream.
func (s *RedisSink) Publish(ctx context.Context, batchID string, index int, outcome weather.PointOutcome) error {
	values, err := outcomeValues(batchID, index, outcome)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: values,
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// Ping checks the connection.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

func outcomeValues(batchID string, index int, outcome weather.PointOutcome) (map[string]interface{}, error) {
	data, err := json.Marshal(outcome)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize outcome for %s: %w", outcome.Point.Key(), err)
	}
	status := "ok"
	if !outcome.OK() {
		status = "error"
	}
	return map[string]interface{}{
		"batch":  batchID,
		"index":  index,
		"status": status,
		"data":   string(data),
	}, nil
}
