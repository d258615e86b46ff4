// Package render converts canonical weather results into display units and
// text lines. Rounding happens here and nowhere else.
package render

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/flylasse/windy-trip-weather/internal/weather"
)

// Units selects the display unit system.
type Units string

const (
	Metric   Units = "metric"   // °C, km/h, mm
	Imperial Units = "imperial" // °F, mph, in
)

const (
	msToKmh  = 3.6
	msToMph  = 2.2369362920544
	mmToInch = 1 / 25.4
)

// ParseUnits accepts "metric" or "imperial"; empty means metric.
func ParseUnits(s string) (Units, error) {
	switch Units(strings.ToLower(strings.TrimSpace(s))) {
	case Metric, "":
		return Metric, nil
	case Imperial:
		return Imperial, nil
	default:
		return "", fmt.Errorf("unknown units %q (want metric or imperial)", s)
	}
}

// Display is a WeatherResult converted to display units and rounded to one decimal.
type Display struct {
	Temperature     float64 `json:"temperature"`
	TemperatureUnit string  `json:"temperatureUnit"`
	WindSpeed       float64 `json:"windSpeed"`
	WindSpeedUnit   string  `json:"windSpeedUnit"`
	Precipitation   float64 `json:"precipitation"`
	PrecipUnit      string  `json:"precipitationUnit"`
}

// Convert renders r in the given units.
func Convert(r weather.WeatherResult, u Units) Display {
	if u == Imperial {
		return Display{
			Temperature:     round1(r.TemperatureC*9/5 + 32),
			TemperatureUnit: "°F",
			WindSpeed:       round1(r.WindSpeedMS * msToMph),
			WindSpeedUnit:   "mph",
			Precipitation:   round2(r.PrecipitationMM * mmToInch),
			PrecipUnit:      "in",
		}
	}
	return Display{
		Temperature:     round1(r.TemperatureC),
		TemperatureUnit: "°C",
		WindSpeed:       round1(r.WindSpeedMS * msToKmh),
		WindSpeedUnit:   "km/h",
		Precipitation:   round1(r.PrecipitationMM),
		PrecipUnit:      "mm",
	}
}

// Summary is the short "27°C, 18 km/h wind" form.
func Summary(r weather.WeatherResult, u Units) string {
	d := Convert(r, u)
	return fmt.Sprintf("%s%s, %s %s wind", formatNumber(d.Temperature), d.TemperatureUnit,
		formatNumber(d.WindSpeed), d.WindSpeedUnit)
}

// Line renders one outcome; failures carry their error kind and message.
func Line(o weather.PointOutcome, u Units) string {
	label := o.Point.Name
	if label == "" {
		label = fmt.Sprintf("%.4f,%.4f", o.Point.Latitude, o.Point.Longitude)
	}
	at := o.Point.Time.UTC().Format("2006-01-02 15:04Z")
	if !o.OK() {
		return fmt.Sprintf("%3d  %-24s %s  ERROR %s: %v", o.Point.ID, label, at, weather.Kind(o.Err), o.Err)
	}
	d := Convert(*o.Result, u)
	return fmt.Sprintf("%3d  %-24s %s  %s, precip %s %s",
		o.Point.ID, label, at, Summary(*o.Result, u), formatNumber(d.Precipitation), d.PrecipUnit)
}

// Lines renders every outcome of a batch in input order.
func Lines(b weather.BatchResult, u Units) []string {
	lines := make([]string, 0, len(b.Outcomes))
	for _, o := range b.Outcomes {
		lines = append(lines, Line(o, u))
	}
	return lines
}

// formatNumber prints an already rounded value without trailing zeros.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }
