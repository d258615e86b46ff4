package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flylasse/windy-trip-weather/internal/weather"
)

const forecastBody = `{
	"ts": [1700000000, 1700010800, 1700021600],
	"units": {"temp-surface": "K", "wind-surface": "m*s-1"},
	"temp-surface": [280.15, 290.15, 300.15],
	"wind-surface": [2, 4, 6],
	"precip-surface": [0, 0.5, 1.5]
}`

// recordingWait replaces the backoff sleep and records the requested delays.
type recordingWait struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingWait) wait(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func newTestProvider(t *testing.T, url string, retry RetryConfig) (*WindyProvider, *recordingWait) {
	t.Helper()
	p := NewWindyProvider(&http.Client{Timeout: 2 * time.Second}, WindyConfig{
		Endpoint: url,
		APIKey:   "test-key",
		Retry:    retry,
	})
	rw := &recordingWait{}
	p.wait = rw.wait
	return p, rw
}

func testPoint() weather.Point {
	return weather.Point{
		ID:        1,
		Name:      "pass",
		Latitude:  46.5,
		Longitude: 8.0,
		Time:      time.Unix(1700010000, 0),
	}
}

func TestWindyProvider_FetchSuccess(t *testing.T) {
	var got weather.ForecastRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON content type, got %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(forecastBody))
	}))
	defer srv.Close()

	p, rw := newTestProvider(t, srv.URL, DefaultRetryConfig)

	result, err := p.Fetch(context.Background(), testPoint())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Lat != 46.5 || got.Lon != 8.0 || got.Model != "gfs" || got.Key != "test-key" {
		t.Errorf("unexpected request %+v", got)
	}
	if len(got.Parameters) != 5 || got.Parameters[0] != "wind" || len(got.Levels) != 1 || got.Levels[0] != "surface" {
		t.Errorf("unexpected parameters %v / levels %v", got.Parameters, got.Levels)
	}

	// 1700010000 is closest to the second sample.
	if result.TemperatureC < 16.99 || result.TemperatureC > 17.01 {
		t.Errorf("TemperatureC = %v, want 17", result.TemperatureC)
	}
	if result.WindSpeedMS != 4 || result.PrecipitationMM != 0.5 {
		t.Errorf("unexpected result %+v", result)
	}
	if !result.ForecastTime.Equal(time.Unix(1700010800, 0)) {
		t.Errorf("ForecastTime = %v", result.ForecastTime)
	}
	if len(rw.delays) != 0 {
		t.Errorf("expected no backoff, got %v", rw.delays)
	}
}

func TestWindyProvider_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(forecastBody))
	}))
	defer srv.Close()

	p, rw := newTestProvider(t, srv.URL, RetryConfig{Retries: 3, InitialDelay: 100 * time.Millisecond})

	if _, err := p.Fetch(context.Background(), testPoint()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(rw.delays) != len(want) {
		t.Fatalf("expected delays %v, got %v", want, rw.delays)
	}
	for i := range want {
		if rw.delays[i] != want[i] {
			t.Errorf("delay %d = %v, want %v", i, rw.delays[i], want[i])
		}
		if i > 0 && rw.delays[i] <= rw.delays[i-1] {
			t.Errorf("backoff not strictly increasing: %v", rw.delays)
		}
	}
}

func TestWindyProvider_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, rw := newTestProvider(t, srv.URL, RetryConfig{Retries: 3, InitialDelay: time.Second})

	_, err := p.Fetch(context.Background(), testPoint())
	if !errors.Is(err, weather.ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	var exhausted *weather.RetriesExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 3 {
		t.Fatalf("expected 3 recorded attempts, got %v", err)
	}
	var te *weather.TransportError
	if !errors.As(err, &te) || te.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected last error HTTP 500, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", calls.Load())
	}
	if len(rw.delays) != 2 {
		t.Errorf("expected 2 backoff waits, got %v", rw.delays)
	}
}

func TestWindyProvider_MalformedRetryPolicy(t *testing.T) {
	tests := []struct {
		name      string
		policy    RetryPolicy
		wantCalls int32
		wantKind  string
	}{
		{name: "transient fails fast", policy: RetryTransient, wantCalls: 1, wantKind: "MalformedResponse"},
		{name: "all retries", policy: RetryAll, wantCalls: 3, wantKind: "RetriesExhausted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				_, _ = w.Write([]byte(`{"ts": [1700000000], "wind-surface": [3]}`))
			}))
			defer srv.Close()

			p, _ := newTestProvider(t, srv.URL, RetryConfig{Retries: 3, InitialDelay: time.Millisecond, Policy: tt.policy})

			_, err := p.Fetch(context.Background(), testPoint())
			if !errors.Is(err, weather.ErrMalformedResponse) {
				t.Fatalf("expected malformed response, got %v", err)
			}
			if got := weather.Kind(err); got != tt.wantKind {
				t.Errorf("Kind = %s, want %s", got, tt.wantKind)
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("expected %d attempts, got %d", tt.wantCalls, calls.Load())
			}
		})
	}
}

func TestWindyProvider_NonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	p, _ := newTestProvider(t, srv.URL, DefaultRetryConfig)

	_, err := p.Fetch(context.Background(), testPoint())
	if !errors.Is(err, weather.ErrMalformedResponse) {
		t.Fatalf("expected malformed response, got %v", err)
	}
}

func TestWindyProvider_EmptySeries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ts": [], "temp-surface": [], "wind-surface": []}`))
	}))
	defer srv.Close()

	p, _ := newTestProvider(t, srv.URL, DefaultRetryConfig)

	_, err := p.Fetch(context.Background(), testPoint())
	if !errors.Is(err, weather.ErrEmptySeries) {
		t.Fatalf("expected ErrEmptySeries, got %v", err)
	}
}

func TestWindyProvider_MissingKeySendsNothing(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	p := NewWindyProvider(http.DefaultClient, WindyConfig{Endpoint: srv.URL})

	if err := p.Ready(); !errors.Is(err, weather.ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential from Ready, got %v", err)
	}
	if _, err := p.Fetch(context.Background(), testPoint()); !errors.Is(err, weather.ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential from Fetch, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("expected no requests, got %d", calls.Load())
	}
}

func TestWindyProvider_CanceledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusBadGateway)
	}))
	defer srv.Close()

	p, _ := newTestProvider(t, srv.URL, RetryConfig{Retries: 3, InitialDelay: time.Hour})
	p.wait = sleepContext

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Fetch(ctx, testPoint())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("backoff ignored cancellation")
	}
}

func TestWindyProvider_OpenCircuitKeepsRetryBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewWindyProvider(&http.Client{Timeout: time.Second}, WindyConfig{
		Endpoint:                srv.URL,
		APIKey:                  "test-key",
		Retry:                   RetryConfig{Retries: 3, InitialDelay: time.Millisecond},
		BreakerFailureThreshold: 2,
	})
	rw := &recordingWait{}
	p.wait = rw.wait

	_, err := p.Fetch(context.Background(), testPoint())
	if !errors.Is(err, weather.ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if !errors.Is(err, weather.ErrCircuitOpen) {
		t.Errorf("expected the last attempt to hit the open circuit, got %v", err)
	}
	if weather.Kind(err) != "RetriesExhausted" {
		t.Errorf("Kind = %s, want RetriesExhausted", weather.Kind(err))
	}
	if len(rw.delays) != 2 {
		t.Errorf("expected 2 backoff waits, got %v", rw.delays)
	}
	if calls.Load() != 2 {
		t.Errorf("expected the open circuit to block the third request, got %d calls", calls.Load())
	}
}

func TestWindyProvider_AbandonedRequestsDoNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		_, _ = w.Write([]byte(forecastBody))
	}))
	defer srv.Close()

	p := NewWindyProvider(&http.Client{Timeout: 5 * time.Second}, WindyConfig{
		Endpoint:                srv.URL,
		APIKey:                  "test-key",
		BreakerFailureThreshold: 1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Fetch(ctx, testPoint()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	if _, err := p.Fetch(context.Background(), testPoint()); err != nil {
		t.Fatalf("expected the breaker to stay closed, got %v", err)
	}
}

func TestWindyProvider_BreakerDisabled(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := newTestProvider(t, srv.URL, RetryConfig{Retries: 1, InitialDelay: time.Millisecond})
	if p.circuit != nil {
		t.Fatal("expected no circuit breaker for a zero threshold")
	}

	for i := 0; i < 20; i++ {
		if _, err := p.Fetch(context.Background(), testPoint()); errors.Is(err, weather.ErrCircuitOpen) {
			t.Fatalf("fetch %d: unexpected open circuit", i)
		}
	}
	if calls.Load() != 20 {
		t.Errorf("expected every fetch to reach the server, got %d calls", calls.Load())
	}
}

// TestRunBatch_AlwaysFailingTransport runs a whole batch against a server
// that never succeeds, with the default breaker threshold.
func TestRunBatch_AlwaysFailingTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewWindyProvider(&http.Client{Timeout: time.Second}, WindyConfig{
		Endpoint:                srv.URL,
		APIKey:                  "test-key",
		Retry:                   RetryConfig{Retries: 3, InitialDelay: time.Millisecond},
		BreakerFailureThreshold: DefaultBreakerThreshold,
	})
	p.wait = (&recordingWait{}).wait

	points := make([]weather.Point, 8)
	for i := range points {
		points[i] = weather.Point{ID: i, Latitude: float64(i), Longitude: float64(i), Time: time.Unix(1700000000, 0)}
	}

	svc := weather.NewService(nil, p, weather.BatchOptions{MaxConcurrency: 4})
	batch, err := svc.RunBatch(context.Background(), points)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, o := range batch.Outcomes {
		if kind := weather.Kind(o.Err); kind != "RetriesExhausted" {
			t.Errorf("point %d: Kind = %s, want RetriesExhausted (%v)", i, kind, o.Err)
			continue
		}
		var exhausted *weather.RetriesExhaustedError
		if !errors.As(o.Err, &exhausted) || exhausted.Attempts != 3 {
			t.Errorf("point %d: expected 3 attempts, got %v", i, o.Err)
		}
	}
}

func TestWindyProvider_ResponseTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(forecastBody))
	}))
	defer srv.Close()

	p, _ := newTestProvider(t, srv.URL, DefaultRetryConfig)
	p.maxBody = 32

	_, err := p.Fetch(context.Background(), testPoint())
	if !errors.Is(err, weather.ErrResponseTooLarge) {
		t.Fatalf("expected ErrResponseTooLarge, got %v", err)
	}
	if weather.Kind(err) != "ResponseTooLarge" {
		t.Errorf("Kind = %s, want ResponseTooLarge", weather.Kind(err))
	}

	p.maxBody = int64(len(forecastBody))
	if _, err := p.Fetch(context.Background(), testPoint()); err != nil {
		t.Errorf("body of exactly the limit should be accepted, got %v", err)
	}
}

func TestNewRequest(t *testing.T) {
	p := NewWindyProvider(http.DefaultClient, WindyConfig{APIKey: "k", Model: "iconEu"})

	req := p.NewRequest(testPoint())
	req.Parameters[0] = "mutated"

	again := p.NewRequest(testPoint())
	if again.Parameters[0] != "wind" {
		t.Errorf("request parameters share backing storage with the provider config")
	}
	if again.Model != "iconEu" || again.Key != "k" {
		t.Errorf("unexpected request %+v", again)
	}
}

func TestParseRetryPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    RetryPolicy
		wantErr bool
	}{
		{in: "", want: RetryTransient},
		{in: "transient", want: RetryTransient},
		{in: " ALL ", want: RetryAll},
		{in: "sometimes", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseRetryPolicy(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseRetryPolicy(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseRetryPolicy(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestRetryConfig_Backoff(t *testing.T) {
	cfg := RetryConfig{Retries: 4, InitialDelay: time.Second}

	for n := 1; n < cfg.Retries; n++ {
		if got, want := cfg.Backoff(n), time.Duration(n)*time.Second; got != want {
			t.Errorf("Backoff(%d) = %v, want %v", n, got, want)
		}
	}
}
