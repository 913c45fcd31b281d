package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/neexbeast/cityrank/internal/metrics"
)

const (
	// DefaultBaseURL is the metaweather-compatible API root.
	DefaultBaseURL = "https://www.metaweather.com/api"

	// DefaultTimeout bounds each provider call. There is no retry.
	DefaultTimeout = 10 * time.Second
)

const (
	opSearch = "search"
	opDetail = "detail"
)

// doGet performs a GET request and decodes the JSON response into dst.
func doGet(ctx context.Context, client *http.Client, rawURL string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("creating request for %s: %w", rawURL, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s returned status %d", rawURL, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decoding response from %s: %w", rawURL, err)
	}

	return nil
}

// Client talks to a metaweather-style provider: a location search followed by
// a per-location detail call.
type Client struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewClient constructs a Client using the production base URL and timeout.
func NewClient() *Client {
	return NewClientWithURL(DefaultBaseURL, DefaultTimeout)
}

// NewClientWithURL constructs a Client pointing at a custom base URL.
func NewClientWithURL(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "weather-provider",
			Interval: time.Minute,
			Timeout:  30 * time.Second,
		}),
	}
}

type detailResponse struct {
	Title               string        `json:"title"`
	ConsolidatedWeather []Observation `json:"consolidated_weather"`
}

// Search returns candidate locations for query in provider relevance order.
func (c *Client) Search(ctx context.Context, query string) ([]SearchResult, error) {
	endpoint := c.baseURL + "/location/search/?query=" + url.QueryEscape(query)

	var results []SearchResult
	if err := c.get(ctx, opSearch, endpoint, &results); err != nil {
		return nil, err
	}

	outcome := metrics.OutcomeOK
	if len(results) == 0 {
		outcome = metrics.OutcomeEmpty
	}
	metrics.ProviderRequests.WithLabelValues(opSearch, outcome).Inc()

	return results, nil
}

// Detail returns the daily observations of a location.
func (c *Client) Detail(ctx context.Context, locationID int64) ([]Observation, error) {
	endpoint := c.baseURL + "/location/" + strconv.FormatInt(locationID, 10) + "/"

	var raw detailResponse
	if err := c.get(ctx, opDetail, endpoint, &raw); err != nil {
		return nil, err
	}

	outcome := metrics.OutcomeOK
	if len(raw.ConsolidatedWeather) == 0 {
		outcome = metrics.OutcomeEmpty
	}
	metrics.ProviderRequests.WithLabelValues(opDetail, outcome).Inc()

	return raw.ConsolidatedWeather, nil
}

// get runs doGet through the circuit breaker and tags failures as ErrTransport.
func (c *Client) get(ctx context.Context, op, endpoint string, dst any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, doGet(ctx, c.client, endpoint, dst)
	})
	if err != nil {
		metrics.ProviderRequests.WithLabelValues(op, metrics.OutcomeTransport).Inc()
		return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
	}
	return nil
}
