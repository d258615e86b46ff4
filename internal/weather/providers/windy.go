package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/flylasse/windy-trip-weather/internal/metrics"
	"github.com/flylasse/windy-trip-weather/internal/weather"
)

const (
	// DefaultWindyEndpoint is the Windy point-forecast v2 API.
	DefaultWindyEndpoint = "https://api.windy.com/api/point-forecast/v2"
	// DefaultWindyModel is the global forecast model requested by default.
	DefaultWindyModel = "gfs"

	// DefaultBreakerThreshold is the number of consecutive transport
	// failures that opens the circuit unless configured otherwise.
	DefaultBreakerThreshold = 10

	maxResponseBytes = 8 << 20
)

var (
	// DefaultWindyParameters are the forecast parameters requested for every point.
	DefaultWindyParameters = []string{"wind", "temp", "precip", "rh", "pressure"}
	// DefaultWindyLevels are the vertical levels requested for every point.
	DefaultWindyLevels = []string{"surface"}
)

// WindyConfig configures a WindyProvider. Zero values fall back to defaults.
type WindyConfig struct {
	Endpoint   string
	APIKey     string
	Model      string
	Parameters []string
	Levels     []string
	Retry      RetryConfig
	// BreakerFailureThreshold is the number of consecutive transport
	// failures that opens the circuit. 0 disables the breaker.
	BreakerFailureThreshold uint32
}

// WindyProvider implements the weather.Provider interface for Windy point forecasts.
type WindyProvider struct {
	name    string
	cfg     WindyConfig
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
	wait    waitFunc
	maxBody int64
	log     *log.Entry
}

// NewWindyProvider creates a provider. client must not be nil.
func NewWindyProvider(client *http.Client, cfg WindyConfig) *WindyProvider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultWindyEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultWindyModel
	}
	if len(cfg.Parameters) == 0 {
		cfg.Parameters = DefaultWindyParameters
	}
	if len(cfg.Levels) == 0 {
		cfg.Levels = DefaultWindyLevels
	}
	if cfg.Retry.Retries == 0 {
		cfg.Retry = DefaultRetryConfig
	}
	if cfg.Retry.Policy == "" {
		cfg.Retry.Policy = RetryTransient
	}

	p := &WindyProvider{
		name:    "windy",
		cfg:     cfg,
		client:  client,
		wait:    sleepContext,
		maxBody: maxResponseBytes,
		log:     log.WithField("provider", "windy"),
	}
	if cfg.BreakerFailureThreshold > 0 {
		p.circuit = newBreaker(p.name, cfg.BreakerFailureThreshold)
	}
	return p
}

func newBreaker(name string, threshold uint32) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A request abandoned by its caller says nothing about the upstream.
		IsSuccessful: func(err error) bool {
			return err == nil || err == context.Canceled || err == context.DeadlineExceeded
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(log.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("forecast circuit breaker changed state")
		},
	})
}

func (p *WindyProvider) Name() string {
	return p.name
}

// Ready reports a missing credential.
func (p *WindyProvider) Ready() error {
	if p.cfg.APIKey == "" {
		return weather.ErrMissingCredential
	}
	return nil
}

// Fetch requests the forecast for pt and resolves the sample closest to pt.Time.
func (p *WindyProvider) Fetch(ctx context.Context, pt weather.Point) (weather.WeatherResult, error) {
	if err := p.Ready(); err != nil {
		return weather.WeatherResult{}, err
	}

	logger := p.log.WithField("point", pt.Key())
	return doWithRetry(ctx, p.name, p.cfg.Retry, p.wait, logger, func(ctx context.Context) (weather.WeatherResult, error) {
		start := time.Now()
		result, err := p.attempt(ctx, pt)
		metrics.RecordForecastAttempt(p.name, weather.Kind(err), time.Since(start))
		return result, err
	})
}

// NewRequest builds the request document for pt. The returned value carries
// the credential and must not be logged.
func (p *WindyProvider) NewRequest(pt weather.Point) weather.ForecastRequest {
	return weather.ForecastRequest{
		Lat:        pt.Latitude,
		Lon:        pt.Longitude,
		Model:      p.cfg.Model,
		Parameters: append([]string(nil), p.cfg.Parameters...),
		Levels:     append([]string(nil), p.cfg.Levels...),
		Key:        p.cfg.APIKey,
	}
}

func (p *WindyProvider) attempt(ctx context.Context, pt weather.Point) (weather.WeatherResult, error) {
	body, err := p.exchange(ctx, pt)
	if err != nil {
		return weather.WeatherResult{}, err
	}

	var series weather.ForecastSeries
	if err := json.Unmarshal(body, &series); err != nil {
		return weather.WeatherResult{}, errors.Wrapf(weather.ErrMalformedResponse, "decode body: %v", err)
	}

	ts, err := series.Timestamps()
	if err != nil {
		return weather.WeatherResult{}, err
	}
	idx, err := weather.ResolveSample(ts, pt.Time)
	if err != nil {
		return weather.WeatherResult{}, err
	}
	return weather.Normalize(series, idx)
}

// exchange performs one POST, through the circuit breaker when one is
// configured. An open circuit is reported as a TransportError so the point
// keeps its own retry budget.
func (p *WindyProvider) exchange(ctx context.Context, pt weather.Point) ([]byte, error) {
	payload, err := json.Marshal(p.NewRequest(pt))
	if err != nil {
		return nil, err
	}

	do := func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &weather.TransportError{Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return nil, &weather.TransportError{StatusCode: resp.StatusCode}
		}

		// One byte past the limit tells an oversized body from one that fits exactly.
		data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBody+1))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &weather.TransportError{Err: err}
		}
		return data, nil
	}

	var result interface{}
	if p.circuit == nil {
		result, err = do()
	} else {
		result, err = p.circuit.Execute(do)
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &weather.TransportError{Err: errors.Wrap(weather.ErrCircuitOpen, err.Error())}
		}
		if err == context.Canceled || err == context.DeadlineExceeded {
			return nil, errors.Wrap(err, "forecast request aborted")
		}
		return nil, err
	}

	data, ok := result.([]byte)
	if !ok {
		return nil, errors.New("unexpected result type from forecast exchange")
	}
	if int64(len(data)) > p.maxBody {
		return nil, errors.Wrapf(weather.ErrResponseTooLarge, "body exceeds %d bytes", p.maxBody)
	}
	return data, nil
}
