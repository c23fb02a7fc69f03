package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/airwatch/internal/telemetry"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client  *http.Client
	Backoff BackoffConfig
}

// DefaultBackoff is used by every provider unless overridden.
var DefaultBackoff = BackoffConfig{
	MaxRetries:      3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

var (
	errRateLimited    = errors.New("rate limited")
	errServerError    = errors.New("server error")
	errUnexpected     = errors.New("unexpected status code")
	errUnauthorized   = errors.New("unauthorized")
	errCircuitOpen    = errors.New("circuit breaker open")
	errNoHTTPClient   = errors.New("http client not configured")
	errInvalidConfig  = errors.New("invalid backoff configuration")
	errMissingAPIKey  = errors.New("api key is not configured")
	errIncompleteData = errors.New("response carries no particulate data")
)

// permanentError marks failures a retry cannot fix. It still counts against
// the circuit breaker.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func newCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
}

// doRequestWithResilience executes the HTTP request with retries, exponential backoff,
// and a circuit breaker. The returned response always has a 2xx status.
func doRequestWithResilience(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func() (*http.Request, error),
) (*http.Response, error) {
	if cfg.Client == nil {
		return nil, errNoHTTPClient
	}
	if cfg.Backoff.MaxRetries < 0 || cfg.Backoff.InitialInterval <= 0 {
		return nil, errInvalidConfig
	}

	var attempt int
	var lastErr error

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := buildRequest()
		if err != nil {
			return nil, err
		}

		// Ensure the request obeys context cancellation.
		req = req.WithContext(ctx)

		result, err := cb.Execute(func() (interface{}, error) {
			resp, execErr := cfg.Client.Do(req)
			if execErr != nil {
				return nil, execErr
			}
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp, nil
			}

			// Drain so the connection can be reused.
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
			resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				return nil, errRateLimited
			case resp.StatusCode >= 500:
				return nil, errServerError
			case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
				return nil, &permanentError{fmt.Errorf("%w: %d", errUnauthorized, resp.StatusCode)}
			default:
				return nil, &permanentError{fmt.Errorf("%w: %d", errUnexpected, resp.StatusCode)}
			}
		})

		if err == nil {
			resp, ok := result.(*http.Response)
			if !ok {
				return nil, fmt.Errorf("unexpected result type from circuit breaker")
			}
			return resp, nil
		}

		// If circuit is open, propagate immediately.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return nil, perm.err
		}

		lastErr = err
		if attempt >= cfg.Backoff.MaxRetries {
			return nil, lastErr
		}

		// Backoff with exponential delay.
		delay := cfg.Backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > cfg.Backoff.MaxInterval && cfg.Backoff.MaxInterval > 0 {
			delay = cfg.Backoff.MaxInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			// continue to next attempt
		}

		attempt++
	}
}

// getJSON issues a resilient GET to base?query and decodes the body into out.
func getJSON(ctx context.Context, cfg HTTPClientConfig, cb *gobreaker.CircuitBreaker, base string, query url.Values, out any) error {
	buildRequest := func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, base+"?"+query.Encode(), nil)
	}

	resp, err := doRequestWithResilience(ctx, cfg, cb, buildRequest)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// pollutants builds a concentration map from optional provider fields,
// skipping the ones the provider did not report.
func pollutants(values map[telemetry.Pollutant]*float64) (map[telemetry.Pollutant]float64, error) {
	out := make(map[telemetry.Pollutant]float64, len(values))
	for p, v := range values {
		if v != nil && !math.IsNaN(*v) && *v >= 0 {
			out[p] = *v
		}
	}
	_, hasPM25 := out[telemetry.PM25]
	_, hasPM10 := out[telemetry.PM10]
	if !hasPM25 && !hasPM10 {
		return nil, errIncompleteData
	}
	return out, nil
}

func ptr(v float64) *float64 { return &v }

func formatCoord(v float64) string {
	return fmt.Sprintf("%f", v)
}
