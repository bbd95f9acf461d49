// Package geocode resolves place names to coordinates and back using a
// Nominatim-compatible service.
package geocode

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	krishierrors "krishi/internal/errors"
	"krishi/internal/geo"
	"krishi/internal/httpclient"
	"krishi/internal/jsonx"
	"krishi/internal/logging"
)

const (
	serviceName      = "geocode"
	defaultCacheSize = 512
)

// ErrNotFound reports a place name with no match.
var ErrNotFound = fmt.Errorf("%w: place not found", krishierrors.ErrInvalidInput)

// Config points the client at a geocoder.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	CacheSize int
}

// Place is the administrative area around a coordinate.
type Place struct {
	City      string `json:"city"`
	Subregion string `json:"subregion"`
	District  string `json:"district"`
	State     string `json:"state"`
}

// Name returns the most specific non-empty component.
func (p Place) Name() string {
	for _, v := range []string{p.City, p.District, p.Subregion, p.State} {
		if v != "" {
			return v
		}
	}
	return ""
}

// Client geocodes with an in-memory LRU cache. Concurrent lookups of the
// same name share one request.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     logging.Logger
	cache      *lru.Cache[string, geo.Point]
	inflight   singleflight.Group
}

// NewClient builds a client. An empty BaseURL targets the public Nominatim
// instance.
func NewClient(config Config, logger logging.Logger) *Client {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.BaseURL == "" {
		config.BaseURL = "https://nominatim.openstreetmap.org"
	}
	if config.UserAgent == "" {
		config.UserAgent = "krishi/1.0"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.CacheSize <= 0 {
		config.CacheSize = defaultCacheSize
	}
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger(serviceName)
	}
	cache, err := lru.New[string, geo.Point](config.CacheSize)
	if err != nil {
		panic(fmt.Sprintf("geocode cache: %v", err))
	}
	return &Client{
		config:     config,
		httpClient: httpclient.NewWithCircuitBreaker(config.Timeout, logger, serviceName, nil),
		logger:     logger,
		cache:      cache,
	}
}

func cacheKey(place string) string {
	return strings.ToLower(strings.Join(strings.Fields(place), " "))
}

// Forward returns the coordinates of the first match for place.
func (c *Client) Forward(ctx context.Context, place string) (geo.Point, error) {
	key := cacheKey(place)
	if key == "" {
		return geo.Missing(), fmt.Errorf("%w: empty place name", krishierrors.ErrInvalidInput)
	}
	if point, ok := c.cache.Get(key); ok {
		return point, nil
	}
	v, err, _ := c.inflight.Do(key, func() (any, error) {
		point, err := c.forward(ctx, place)
		if err != nil {
			return geo.Missing(), err
		}
		c.cache.Add(key, point)
		return point, nil
	})
	if err != nil {
		return geo.Missing(), err
	}
	return v.(geo.Point), nil
}

func (c *Client) forward(ctx context.Context, place string) (geo.Point, error) {
	query := url.Values{}
	query.Set("q", place)
	query.Set("format", "json")
	query.Set("limit", "1")

	var results []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := c.get(ctx, "/search", query, &results); err != nil {
		return geo.Missing(), err
	}
	if len(results) == 0 {
		return geo.Missing(), fmt.Errorf("%w: %q", ErrNotFound, place)
	}
	point := geo.PointFrom(results[0].Lat, results[0].Lon)
	if !point.Valid() {
		return geo.Missing(), fmt.Errorf("%w: geocoder returned unusable coordinates for %q", krishierrors.ErrInvalidFormat, place)
	}
	return point, nil
}

// Reverse returns the administrative area containing point.
func (c *Client) Reverse(ctx context.Context, point geo.Point) (Place, error) {
	if !point.Valid() {
		return Place{}, fmt.Errorf("%w: location %s is not usable", krishierrors.ErrInvalidInput, point)
	}
	query := url.Values{}
	query.Set("lat", strconv.FormatFloat(point.Lat, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(point.Lon, 'f', -1, 64))
	query.Set("format", "json")

	var result struct {
		Address struct {
			City          string `json:"city"`
			Town          string `json:"town"`
			Village       string `json:"village"`
			County        string `json:"county"`
			StateDistrict string `json:"state_district"`
			State         string `json:"state"`
		} `json:"address"`
	}
	if err := c.get(ctx, "/reverse", query, &result); err != nil {
		return Place{}, err
	}
	a := result.Address
	city := a.City
	if city == "" {
		city = a.Town
	}
	if city == "" {
		city = a.Village
	}
	return Place{City: city, Subregion: a.County, District: a.StateDistrict, State: a.State}, nil
}

// LocateAll geocodes names one at a time. Only the first limit names are
// looked up (all of them when limit <= 0); the rest, and every failed lookup,
// get a missing point. The result is index-aligned with names.
func (c *Client) LocateAll(ctx context.Context, names []string, limit int) []geo.Point {
	points := make([]geo.Point, len(names))
	for i, name := range names {
		if (limit > 0 && i >= limit) || ctx.Err() != nil {
			points[i] = geo.Missing()
			continue
		}
		point, err := c.Forward(ctx, name)
		if err != nil {
			logging.FromContext(ctx, c.logger).Debug("could not locate %q: %v", name, err)
			points[i] = geo.Missing()
			continue
		}
		points[i] = point
	}
	return points
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	data, err := httpclient.Do(c.httpClient, req, serviceName, path)
	if err != nil {
		return err
	}
	if err := jsonx.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: geocode %s: %v", krishierrors.ErrInvalidFormat, path, err)
	}
	return nil
}
