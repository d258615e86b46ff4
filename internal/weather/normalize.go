package weather

import (
	"bytes"
	"encoding/json"
	"math"
	"time"

	"github.com/pkg/errors"
)

const kelvinOffset = 273.15

// Timestamps decodes the "ts" series. Missing, null, or non-array values are
// a malformed response; an empty array is ErrEmptySeries.
func (s ForecastSeries) Timestamps() ([]int64, error) {
	raw, ok := s.lookup(SeriesTimestamps)
	if !ok {
		return nil, errors.Wrapf(ErrMalformedResponse, "missing %q", SeriesTimestamps)
	}
	var values []float64
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, errors.Wrapf(ErrMalformedResponse, "%q is not a numeric array", SeriesTimestamps)
	}
	if len(values) == 0 {
		return nil, ErrEmptySeries
	}
	ts := make([]int64, len(values))
	for i, v := range values {
		ts[i] = int64(v)
	}
	return ts, nil
}

// Series decodes a numeric parameter series. present is false when the key
// is absent or null. null samples decode as nil entries.
func (s ForecastSeries) Series(name string) (values []*float64, present bool, err error) {
	raw, ok := s.lookup(name)
	if !ok {
		return nil, false, nil
	}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, true, errors.Wrapf(ErrMalformedResponse, "%q is not a numeric array", name)
	}
	return values, true, nil
}

func (s ForecastSeries) lookup(name string) (json.RawMessage, bool) {
	raw, ok := s[name]
	if !ok || len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false
	}
	return raw, true
}

// Normalize extracts the canonical weather at sample index.
//
// temp-surface and ts are mandatory. Wind speed comes from the scalar
// wind-surface series when it has a value at index, otherwise from the
// wind_u/wind_v components. Precipitation, humidity and pressure are optional.
func Normalize(raw ForecastSeries, index int) (WeatherResult, error) {
	ts, err := raw.Timestamps()
	if err != nil {
		return WeatherResult{}, err
	}
	n := len(ts)
	if index < 0 || index >= n {
		return WeatherResult{}, errors.Wrapf(ErrMalformedResponse, "sample index %d outside [0,%d)", index, n)
	}

	temps, err := requiredSeries(raw, SeriesTemperature, n)
	if err != nil {
		return WeatherResult{}, err
	}
	if temps[index] == nil {
		return WeatherResult{}, errors.Wrapf(ErrMalformedResponse, "%q has no value at %d", SeriesTemperature, index)
	}

	wind, err := windSpeed(raw, n, index)
	if err != nil {
		return WeatherResult{}, err
	}

	result := WeatherResult{
		TemperatureC: *temps[index] - kelvinOffset,
		WindSpeedMS:  wind,
		ForecastTime: time.Unix(ts[index], 0).UTC(),
	}
	if p := optionalValue(raw, SeriesPrecipitation, n, index); p != nil {
		result.PrecipitationMM = *p
	}
	result.HumidityPct = optionalValue(raw, SeriesHumidity, n, index)
	result.PressurePa = optionalValue(raw, SeriesPressure, n, index)

	return result, nil
}

func requiredSeries(raw ForecastSeries, name string, n int) ([]*float64, error) {
	values, present, err := raw.Series(name)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, errors.Wrapf(ErrMalformedResponse, "missing %q", name)
	}
	if len(values) != n {
		return nil, errors.Wrapf(ErrMalformedResponse, "%q has %d samples, ts has %d", name, len(values), n)
	}
	return values, nil
}

// windSpeed prefers the scalar series; a present but malformed series is an
// error rather than a reason to fall through.
func windSpeed(raw ForecastSeries, n, index int) (float64, error) {
	scalar, present, err := raw.Series(SeriesWindSpeed)
	if err != nil {
		return 0, err
	}
	if present {
		if len(scalar) != n {
			return 0, errors.Wrapf(ErrMalformedResponse, "%q has %d samples, ts has %d", SeriesWindSpeed, len(scalar), n)
		}
		if scalar[index] != nil {
			return *scalar[index], nil
		}
	}

	u, uPresent, err := raw.Series(SeriesWindU)
	if err != nil {
		return 0, err
	}
	v, vPresent, err := raw.Series(SeriesWindV)
	if err != nil {
		return 0, err
	}
	if !uPresent || !vPresent {
		return 0, ErrMissingWindData
	}
	if len(u) != n || len(v) != n {
		return 0, errors.Wrapf(ErrMalformedResponse, "wind components have %d/%d samples, ts has %d", len(u), len(v), n)
	}
	if u[index] == nil || v[index] == nil {
		return 0, ErrMissingWindData
	}
	return math.Hypot(*u[index], *v[index]), nil
}

// optionalValue never fails: an absent, malformed, short or null series
// yields nil.
func optionalValue(raw ForecastSeries, name string, n, index int) *float64 {
	values, present, err := raw.Series(name)
	if err != nil || !present || len(values) != n {
		return nil
	}
	return values[index]
}
