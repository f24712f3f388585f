// Package nws is the fetch client for the National Weather Service API
// (https://www.weather.gov/documentation/services-web-api).
//
// Every request goes through one shared rate limiter, so two outbound requests are
// never closer than the configured spacing, whichever station or goroutine issues
// them. Each call gets a bounded number of attempts with a fixed delay in between.
// When they are used up the call returns a *Failure instead of the raw error.
package nws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/02loveslollipop/station-watcher/services/watcher/internal/models"
	"github.com/02loveslollipop/station-watcher/services/watcher/internal/utils"
)

const (
	DefaultBaseURL = "https://api.weather.gov"
	acceptHeader   = "application/geo+json"
	timeLayout     = "2006-01-02T15:04:05Z"
)

var (
	ErrMissingUserAgent  = errors.New("nws: user agent is required")
	ErrClientStatus      = errors.New("client error status")
	ErrServerStatus      = errors.New("server error status")
	ErrUnexpectedStatus  = errors.New("unexpected status")
	ErrMalformedPayload  = errors.New("malformed payload")
	ErrCircuitOpen       = errors.New("circuit breaker open")
	errInvalidRetryCount = errors.New("nws: max retries must not be negative")
)

// Config bundles provider settings and the retry policy.
type Config struct {
	BaseURL   string
	UserAgent string

	// MaxRetries is the number of extra attempts after the first failure.
	MaxRetries int
	// FailureWait is the fixed delay between attempts.
	FailureWait time.Duration
	// NewRequestWait is the minimum spacing between any two outbound requests.
	NewRequestWait time.Duration
	// BreakerThreshold trips the breaker after that many consecutive failed
	// attempts. Zero disables it.
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

// Failure is returned once a call has used every attempt.
type Failure struct {
	StationID string
	Op        string
	Attempts  int
	Err       error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempt(s): %v", f.Op, f.StationID, f.Attempts, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Client fetches station metadata and observations.
type Client struct {
	baseURL     string
	userAgent   string
	http        *http.Client
	maxRetries  int
	failureWait time.Duration
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	logger      *slog.Logger
}

// New builds a Client. httpClient carries the per-request timeout.
func New(cfg Config, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.UserAgent) == "" {
		return nil, ErrMissingUserAgent
	}
	if cfg.MaxRetries < 0 {
		return nil, errInvalidRetryCount
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	limit := rate.Inf
	if cfg.NewRequestWait > 0 {
		limit = rate.Every(cfg.NewRequestWait)
	}

	c := &Client{
		baseURL:     baseURL,
		userAgent:   cfg.UserAgent,
		http:        httpClient,
		maxRetries:  cfg.MaxRetries,
		failureWait: cfg.FailureWait,
		limiter:     rate.NewLimiter(limit, 1),
		logger:      logger,
	}

	if cfg.BreakerThreshold > 0 {
		cooldown := cfg.BreakerCooldown
		if cooldown <= 0 {
			cooldown = time.Minute
		}
		threshold := cfg.BreakerThreshold
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "nws",
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: providerHealthy,
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}

	return c, nil
}

// FetchStationMetadata retrieves GET /stations/{id}.
func (c *Client) FetchStationMetadata(ctx context.Context, stationID string) (models.Station, error) {
	path := "/stations/" + url.PathEscape(stationID)
	return fetch(ctx, c, stationID, "station metadata", path, nil, func(p models.StationResponse) (models.Station, error) {
		return utils.BuildStation(stationID, p)
	})
}

// FetchHistorical retrieves observations in [start, end].
func (c *Client) FetchHistorical(ctx context.Context, stationID string, start, end time.Time) ([]models.Measurement, error) {
	path := "/stations/" + url.PathEscape(stationID) + "/observations"
	query := url.Values{}
	if !start.IsZero() {
		query.Set("start", start.UTC().Format(timeLayout))
	}
	if !end.IsZero() {
		query.Set("end", end.UTC().Format(timeLayout))
	}
	return fetch(ctx, c, stationID, "historical observations", path, query, func(p models.ObservationCollection) ([]models.Measurement, error) {
		return utils.BuildMeasurements(stationID, p.Features), nil
	})
}

// FetchLatest retrieves the most recent observation. An observation without usable
// readings yields an empty slice.
func (c *Client) FetchLatest(ctx context.Context, stationID string) ([]models.Measurement, error) {
	path := "/stations/" + url.PathEscape(stationID) + "/observations/latest"
	return fetch(ctx, c, stationID, "latest observation", path, nil, func(p models.ObservationFeature) ([]models.Measurement, error) {
		m, ok := utils.BuildMeasurement(stationID, p)
		if !ok {
			return []models.Measurement{}, nil
		}
		return []models.Measurement{m}, nil
	})
}

// fetch runs the attempt loop. Each attempt decodes into a fresh P so a partially
// decoded payload never leaks into the next try.
func fetch[P, R any](
	ctx context.Context,
	c *Client,
	stationID, op, path string,
	query url.Values,
	parse func(P) (R, error),
) (R, error) {
	var (
		zero     R
		lastErr  error
		attempts int
	)

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("waiting before retry",
				"station", stationID, "op", op, "attempt", attempt+1, "wait", c.failureWait)
			if err := sleep(ctx, c.failureWait); err != nil {
				lastErr = err
				break
			}
		}

		attempts++
		result, err := attemptOnce(ctx, c, path, query, parse)
		if err == nil {
			return result, nil
		}
		lastErr = err
		c.logger.Warn("request failed",
			"station", stationID, "op", op, "attempt", attempts, "error", err)

		if ctx.Err() != nil {
			break
		}
	}

	return zero, &Failure{StationID: stationID, Op: op, Attempts: attempts, Err: lastErr}
}

func attemptOnce[P, R any](ctx context.Context, c *Client, path string, query url.Values, parse func(P) (R, error)) (R, error) {
	var zero R
	if err := c.limiter.Wait(ctx); err != nil {
		return zero, err
	}

	call := func() (interface{}, error) {
		var payload P
		if err := c.getJSON(ctx, path, query, &payload); err != nil {
			return nil, err
		}
		out, err := parse(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return out, nil
	}

	if c.breaker == nil {
		out, err := call()
		if err != nil {
			return zero, err
		}
		return out.(R), nil
	}

	out, err := c.breaker.Execute(call)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return zero, err
	}
	return out.(R), nil
}

// providerHealthy tells the breaker whether an attempt says anything about the
// provider as a whole. 4xx and undecodable bodies belong to one station and must
// not open the breaker for the others.
func providerHealthy(err error) bool {
	return err == nil || errors.Is(err, ErrClientStatus) || errors.Is(err, ErrMalformedPayload)
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: %s", ErrClientStatus, resp.Status)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s", ErrServerStatus, resp.Status)
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode payload: %v", ErrMalformedPayload, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
