package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flylasse/windy-trip-weather/internal/weather"
)

// PointFile is the YAML layout of a point list:
//
//	points:
//	  - name: "Start"
//	    lat: 46.5197
//	    lon: 6.6323
//	    time: "2024-06-01T08:00:00Z"
type PointFile struct {
	Points []PointEntry `yaml:"points"`
}

type PointEntry struct {
	Name string   `yaml:"name"`
	Lat  *float64 `yaml:"lat"`
	Lon  *float64 `yaml:"lon"`
	// Time is RFC3339; empty means "now" at batch start.
	Time string `yaml:"time"`
}

// LoadPoints reads a YAML point file. Points get their list index as ID.
func LoadPoints(path string) ([]weather.Point, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read points file %s: %w", path, err)
	}
	return ParsePoints(data)
}

// ParsePoints decodes and validates a YAML point list.
func ParsePoints(data []byte) ([]weather.Point, error) {
	var file PointFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse points: %w", err)
	}
	if len(file.Points) == 0 {
		return nil, fmt.Errorf("points list cannot be empty")
	}

	points := make([]weather.Point, 0, len(file.Points))
	for i, e := range file.Points {
		if e.Lat == nil || e.Lon == nil {
			return nil, fmt.Errorf("point %d: lat and lon are required", i)
		}
		p := weather.Point{
			ID:        i,
			Name:      e.Name,
			Latitude:  *e.Lat,
			Longitude: *e.Lon,
		}
		if e.Time != "" {
			t, err := time.Parse(time.RFC3339, e.Time)
			if err != nil {
				return nil, fmt.Errorf("point %d: invalid time %q: %w", i, e.Time, err)
			}
			p.Time = t.UTC()
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		points = append(points, p)
	}
	return points, nil
}
