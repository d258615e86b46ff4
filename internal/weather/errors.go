package weather

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var (
	// ErrEmptySeries is returned when a forecast has no samples.
	ErrEmptySeries = errors.New("forecast time series is empty")
	// ErrMalformedResponse is returned when a required field is missing or has the wrong shape.
	ErrMalformedResponse = errors.New("malformed forecast response")
	// ErrMissingWindData is returned when neither scalar nor component wind series are present.
	ErrMissingWindData = errors.New("forecast has no wind data")
	// ErrResponseTooLarge is returned when a response body exceeds the read limit.
	ErrResponseTooLarge = errors.New("forecast response too large")
	// ErrTransport matches any *TransportError.
	ErrTransport = errors.New("forecast transport failure")
	// ErrRetriesExhausted matches any *RetriesExhaustedError.
	ErrRetriesExhausted = errors.New("forecast retries exhausted")
	// ErrCircuitOpen is returned while the provider circuit breaker rejects requests.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrMissingCredential is a configuration error detected before any request.
	ErrMissingCredential = errors.New("forecast api credential is not configured")
	// ErrInvalidPoint is returned for coordinates outside their valid range.
	ErrInvalidPoint = errors.New("invalid point")
)

// TransportError is a network failure or a non-2xx HTTP status.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// RetriesExhaustedError is the terminal error after the last attempt failed.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("forecast failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }

func (e *RetriesExhaustedError) Is(target error) bool { return target == ErrRetriesExhausted }

// Kind names the taxonomy bucket of err for presentation and metrics.
// The outermost classification wins, so an exhausted retry loop reports
// RetriesExhausted even though it wraps a transport error.
func Kind(err error) string {
	switch {
	case err == nil:
		return "OK"
	case errors.Is(err, ErrRetriesExhausted):
		return "RetriesExhausted"
	case errors.Is(err, ErrMissingCredential):
		return "MissingCredential"
	case errors.Is(err, ErrInvalidPoint):
		return "InvalidPoint"
	case errors.Is(err, ErrCircuitOpen):
		return "CircuitOpen"
	case errors.Is(err, ErrEmptySeries):
		return "EmptySeries"
	case errors.Is(err, ErrMissingWindData):
		return "MissingWindData"
	case errors.Is(err, ErrMalformedResponse):
		return "MalformedResponse"
	case errors.Is(err, ErrResponseTooLarge):
		return "ResponseTooLarge"
	case errors.Is(err, context.DeadlineExceeded):
		return "DeadlineExceeded"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	case errors.Is(err, ErrTransport):
		return "TransportError"
	default:
		return "Unknown"
	}
}
