package weather

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Forecast parameter keys as they appear in a point-forecast response body.
const (
	SeriesTimestamps    = "ts"
	SeriesTemperature   = "temp-surface"
	SeriesWindSpeed     = "wind-surface"
	SeriesWindU         = "wind_u-surface"
	SeriesWindV         = "wind_v-surface"
	SeriesPrecipitation = "precip-surface"
	SeriesHumidity      = "rh-surface"
	SeriesPressure      = "pressure-surface"
)

// Point is a timestamped coordinate to enrich with forecast data.
// A zero Time means "now" and is filled in when the batch starts.
type Point struct {
	ID        int       `json:"id"`
	Name      string    `json:"name,omitempty"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Time      time.Time `json:"time"`
}

// Key returns a short identifier used in logs.
func (p Point) Key() string {
	if p.Name == "" {
		return fmt.Sprintf("#%d", p.ID)
	}
	return fmt.Sprintf("#%d:%s", p.ID, p.Name)
}

// Validate checks the coordinate ranges.
func (p Point) Validate() error {
	if p.Latitude < -90 || p.Latitude > 90 {
		return errors.Wrapf(ErrInvalidPoint, "latitude %v outside [-90,90]", p.Latitude)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return errors.Wrapf(ErrInvalidPoint, "longitude %v outside [-180,180]", p.Longitude)
	}
	return nil
}

// ForecastRequest is the JSON document posted to the point-forecast service.
type ForecastRequest struct {
	Lat        float64  `json:"lat"`
	Lon        float64  `json:"lon"`
	Model      string   `json:"model"`
	Parameters []string `json:"parameters"`
	Levels     []string `json:"levels"`
	Key        string   `json:"key"`
}

// ForecastSeries is a raw response body: parameter name to sample array,
// plus the "ts" array of sample timestamps (epoch seconds).
type ForecastSeries map[string]json.RawMessage

// WeatherResult is the canonical weather for one resolved forecast sample.
// Temperature is Celsius and wind speed is meters/second; conversion to
// display units belongs to the presentation layer.
type WeatherResult struct {
	TemperatureC    float64   `json:"temperatureC"`
	WindSpeedMS     float64   `json:"windSpeedMs"`
	PrecipitationMM float64   `json:"precipitationMm"`
	HumidityPct     *float64  `json:"humidityPercent,omitempty"`
	PressurePa      *float64  `json:"pressurePa,omitempty"`
	ForecastTime    time.Time `json:"forecastTime"`
}

// PointOutcome is the settled result for one input point: exactly one of
// Result or Err is set.
type PointOutcome struct {
	Point  Point
	Result *WeatherResult
	Err    error
}

// OK reports whether the point was enriched successfully.
func (o PointOutcome) OK() bool {
	return o.Err == nil && o.Result != nil
}

type outcomeError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// MarshalJSON renders the error, if any, as {kind, message}.
func (o PointOutcome) MarshalJSON() ([]byte, error) {
	out := struct {
		Point  Point          `json:"point"`
		Result *WeatherResult `json:"result,omitempty"`
		Error  *outcomeError  `json:"error,omitempty"`
	}{
		Point:  o.Point,
		Result: o.Result,
	}
	if o.Err != nil {
		out.Error = &outcomeError{Kind: Kind(o.Err), Message: o.Err.Error()}
	}
	return json.Marshal(out)
}

// BatchResult holds one outcome per input point, in input order.
type BatchResult struct {
	ID          string         `json:"id"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt time.Time      `json:"completedAt"`
	Outcomes    []PointOutcome `json:"outcomes"`
}

// Succeeded returns the number of enriched points.
func (b BatchResult) Succeeded() int {
	n := 0
	for _, o := range b.Outcomes {
		if o.OK() {
			n++
		}
	}
	return n
}

// Failed returns the number of points that settled with an error.
func (b BatchResult) Failed() int {
	return len(b.Outcomes) - b.Succeeded()
}
