// Package openmeteo fetches batched current-weather observations from the
// Open-Meteo forecast API.
package openmeteo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/citywx/weather-ingest/internal/domain"
)

// currentMetrics is the fixed metric selection for every request.
const currentMetrics = "temperature_2m,relative_humidity_2m,precipitation,wind_speed_10m"

// Client issues the single batched current-weather request for a run.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an Open-Meteo client with a bounded request timeout.
// The timeout is fatal-to-the-fetch; retry cadence belongs to the external
// scheduler, not this client.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// FetchCurrent requests current weather for all cities in one GET and
// returns the effective request URL and the raw response body.
//
// Positional contract: the i-th item of the response corresponds to the i-th
// city of the request list. The response carries no city identifiers, so
// callers must preserve the order of the cities slice.
//
// Transport errors and non-2xx statuses come back as *domain.FetchError
// carrying any status code and partial body obtainable; the raw archive
// stores those so failed fetches stay traceable.
func (c *Client) FetchCurrent(ctx context.Context, cities []domain.City) (string, []byte, error) {
	requestURL := c.buildURL(cities)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return requestURL, nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return requestURL, nil, &domain.FetchError{URL: requestURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return requestURL, nil, &domain.FetchError{URL: requestURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return requestURL, nil, &domain.FetchError{
			URL:        requestURL,
			StatusCode: resp.StatusCode,
			Body:       body,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	c.logger.Debug("fetched current weather", "cities", len(cities), "bytes", len(body))
	return requestURL, body, nil
}

// buildURL assembles the batched query: comma-joined coordinate lists at
// 6-decimal precision, fixed metrics, metric units, per-location timezone.
func (c *Client) buildURL(cities []domain.City) string {
	lats := make([]string, len(cities))
	lons := make([]string, len(cities))
	for i, city := range cities {
		lats[i] = fmt.Sprintf("%.6f", city.Latitude)
		lons[i] = fmt.Sprintf("%.6f", city.Longitude)
	}

	params := url.Values{
		"latitude":           {strings.Join(lats, ",")},
		"longitude":          {strings.Join(lons, ",")},
		"current":            {currentMetrics},
		"temperature_unit":   {"celsius"},
		"wind_speed_unit":    {"kmh"},
		"precipitation_unit": {"mm"},
		"timezone":           {"auto"},
	}

	return c.baseURL + "?" + params.Encode()
}
