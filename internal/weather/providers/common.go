package providers

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/flylasse/windy-trip-weather/internal/metrics"
	"github.com/flylasse/windy-trip-weather/internal/weather"
)

// RetryPolicy selects which failures consume another attempt.
type RetryPolicy string

const (
	// RetryTransient retries transport failures only; malformed data fails fast.
	RetryTransient RetryPolicy = "transient"
	// RetryAll retries every failure, including malformed responses.
	RetryAll RetryPolicy = "all"
)

// ParseRetryPolicy accepts "transient" or "all" (case-insensitive).
func ParseRetryPolicy(s string) (RetryPolicy, error) {
	switch RetryPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case RetryTransient, "":
		return RetryTransient, nil
	case RetryAll:
		return RetryAll, nil
	default:
		return "", errors.Errorf("unknown retry policy %q (want transient or all)", s)
	}
}

// RetryConfig controls linear backoff behaviour.
type RetryConfig struct {
	// Retries is the total number of attempts (>= 1).
	Retries int
	// InitialDelay is multiplied by the failed attempt number.
	InitialDelay time.Duration
	Policy       RetryPolicy
}

// DefaultRetryConfig makes three attempts, waiting 1s and then 2s between them.
var DefaultRetryConfig = RetryConfig{
	Retries:      3,
	InitialDelay: time.Second,
	Policy:       RetryTransient,
}

var errInvalidConfig = errors.New("invalid retry configuration")

// Backoff returns the wait after failed attempt n (1-based).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	return c.InitialDelay * time.Duration(attempt)
}

// retryable never retries a canceled or expired context. An open circuit is
// a TransportError and consumes the attempt like any other.
func (c RetryConfig) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if c.Policy == RetryAll {
		return true
	}
	return errors.Is(err, weather.ErrTransport)
}

type waitFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// doWithRetry runs attempt up to cfg.Retries times, waiting cfg.Backoff(n)
// after each retryable failure.
func doWithRetry(
	ctx context.Context,
	provider string,
	cfg RetryConfig,
	wait waitFunc,
	logger *log.Entry,
	attempt func(ctx context.Context) (weather.WeatherResult, error),
) (weather.WeatherResult, error) {
	if cfg.Retries < 1 || cfg.InitialDelay < 0 {
		return weather.WeatherResult{}, errInvalidConfig
	}

	var lastErr error
	for n := 1; n <= cfg.Retries; n++ {
		if err := ctx.Err(); err != nil {
			return weather.WeatherResult{}, errors.Wrapf(err, "forecast aborted before attempt %d", n)
		}

		result, err := attempt(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		entry := logger.WithFields(log.Fields{"attempt": n, "kind": weather.Kind(err)}).WithError(err)
		if !cfg.retryable(err) {
			entry.Debug("forecast attempt failed; not retrying")
			return weather.WeatherResult{}, err
		}
		if n == cfg.Retries {
			entry.Warn("forecast attempt failed; retries exhausted")
			break
		}

		delay := cfg.Backoff(n)
		entry.WithField("backoff", delay.String()).Info("forecast attempt failed; backing off")
		metrics.RecordRetry(provider)
		if err := wait(ctx, delay); err != nil {
			return weather.WeatherResult{}, errors.Wrapf(err, "backoff after attempt %d interrupted (last error: %v)", n, lastErr)
		}
	}

	return weather.WeatherResult{}, &weather.RetriesExhaustedError{Attempts: cfg.Retries, Last: lastErr}
}
