// Package market reads mandi (wholesale market) prices from the open
// government data registry and ranks them for a farmer.
package market

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	krishierrors "krishi/internal/errors"
	"krishi/internal/geo"
	"krishi/internal/httpclient"
	"krishi/internal/jsonx"
	"krishi/internal/logging"
)

const (
	serviceName  = "market"
	defaultLimit = 100
)

// Config points the client at the registry.
type Config struct {
	BaseURL    string
	APIKey     string
	ResourceID string
	Limit      int // used when a query leaves its limit zero
	Timeout    time.Duration
}

// Record is one market listing. Prices arrive as strings and are parsed
// with geo.ParsePrice when ranking.
type Record struct {
	State       string `json:"state"`
	District    string `json:"district"`
	Market      string `json:"market"`
	Commodity   string `json:"commodity"`
	Variety     string `json:"variety,omitempty"`
	ArrivalDate string `json:"arrival_date"`
	MinPrice    string `json:"min_price"`
	MaxPrice    string `json:"max_price"`
	ModalPrice  string `json:"modal_price"`
}

// Query narrows a fetch. Empty fields match everything.
type Query struct {
	State     string
	District  string
	Commodity string
	Limit     int
}

// Client calls the registry.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     logging.Logger
}

// NewClient builds a client. An empty BaseURL targets data.gov.in.
func NewClient(config Config, logger logging.Logger) *Client {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.BaseURL == "" {
		config.BaseURL = "https://api.data.gov.in"
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.Limit <= 0 {
		config.Limit = defaultLimit
	}
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger(serviceName)
	}
	return &Client{
		config:     config,
		httpClient: httpclient.NewWithCircuitBreaker(config.Timeout, logger, serviceName, nil),
		logger:     logger,
	}
}

// Fetch returns the registry records matching q.
func (c *Client) Fetch(ctx context.Context, q Query) ([]Record, error) {
	if c.config.ResourceID == "" {
		return nil, fmt.Errorf("%w: market resource id is not configured", krishierrors.ErrInvalidInput)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = c.config.Limit
	}
	query := url.Values{}
	query.Set("api-key", c.config.APIKey)
	query.Set("format", "json")
	query.Set("limit", strconv.Itoa(limit))
	if q.State != "" {
		query.Set("filters[state]", q.State)
	}
	if q.District != "" {
		query.Set("filters[district]", q.District)
	}
	if q.Commodity != "" {
		query.Set("filters[commodity]", q.Commodity)
	}

	endpoint := c.config.BaseURL + "/resource/" + url.PathEscape(c.config.ResourceID) + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	data, err := httpclient.Do(c.httpClient, req, serviceName, "fetch")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Records []Record `json:"records"`
	}
	if err := jsonx.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: market records: %v", krishierrors.ErrInvalidFormat, err)
	}
	// The registry's server-side filters are exact-match; apply the
	// case-insensitive filter locally as well.
	records := Filter(payload.Records, q)
	logging.FromContext(ctx, c.logger).Debug("market returned %d records, %d after filtering", len(payload.Records), len(records))
	return records, nil
}

// Filter keeps records whose state, district and commodity match q,
// ignoring case and surrounding space.
func Filter(records []Record, q Query) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if matches(r.State, q.State) && matches(r.District, q.District) && matches(r.Commodity, q.Commodity) {
			out = append(out, r)
		}
	}
	return out
}

func matches(value, want string) bool {
	want = strings.TrimSpace(want)
	return want == "" || strings.EqualFold(strings.TrimSpace(value), want)
}

// ByModalPrice orders records by descending modal price.
func ByModalPrice(records []Record) []Record {
	return geo.SortByPriceDescending(records, func(r Record) string { return r.ModalPrice })
}

// Locator resolves market names to coordinates, index-aligned with names.
type Locator interface {
	LocateAll(ctx context.Context, names []string, limit int) []geo.Point
}

// ByDistance orders records by distance from origin. At most limit distinct
// market locations are looked up; the rest rank after every located market.
func ByDistance(ctx context.Context, records []Record, origin geo.Point, locator Locator, limit int) []geo.Ranked[Record] {
	var names []string
	index := make(map[string]int)
	for _, r := range records {
		key := locationKey(r)
		if _, ok := index[key]; ok {
			continue
		}
		index[key] = len(names)
		names = append(names, key)
	}
	points := locator.LocateAll(ctx, names, limit)
	return geo.SortByDistance(records, origin, func(r Record) geo.Point {
		return points[index[locationKey(r)]]
	})
}

func locationKey(r Record) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{r.Market, r.District, r.State} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
