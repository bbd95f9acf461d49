// Package weather reads current conditions and short-range forecasts from an
// OpenWeather-compatible provider.
package weather

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	krishierrors "krishi/internal/errors"
	"krishi/internal/geo"
	"krishi/internal/httpclient"
	"krishi/internal/jsonx"
	"krishi/internal/logging"
)

const serviceName = "weather"

// Config points the client at a provider.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Conditions is one observation or forecast slot.
type Conditions struct {
	Time        time.Time `json:"time"`
	TempC       float64   `json:"temp_c"`
	Humidity    float64   `json:"humidity"`
	Main        string    `json:"main"`
	Description string    `json:"description"`
	Icon        string    `json:"icon,omitempty"`
	WindSpeed   float64   `json:"wind_speed"`
	// Rain1h and Snow1h are nil when the provider omits them.
	Rain1h *float64 `json:"rain_1h,omitempty"`
	Snow1h *float64 `json:"snow_1h,omitempty"`
	Place  string   `json:"place,omitempty"`
}

// Snapshot combines current conditions with the upcoming forecast.
type Snapshot struct {
	Current  Conditions   `json:"current"`
	Forecast []Conditions `json:"forecast"`
}

// Summary is a one-line description used in prompts.
func (s Snapshot) Summary() string {
	c := s.Current
	parts := []string{fmt.Sprintf("%.1f°C", c.TempC)}
	if c.Description != "" {
		parts = append(parts, c.Description)
	}
	if c.Humidity > 0 {
		parts = append(parts, fmt.Sprintf("humidity %.0f%%", c.Humidity))
	}
	parts = append(parts, fmt.Sprintf("wind %.1f m/s", c.WindSpeed))
	if c.Rain1h != nil {
		parts = append(parts, fmt.Sprintf("rain %.1f mm/h", *c.Rain1h))
	}
	if len(s.Forecast) > 0 {
		var rainy int
		for _, f := range s.Forecast {
			if (f.Rain1h != nil && *f.Rain1h > 0) || strings.EqualFold(f.Main, "rain") {
				rainy++
			}
		}
		parts = append(parts, fmt.Sprintf("rain expected in %d of the next %d forecast slots", rainy, len(s.Forecast)))
	}
	return strings.Join(parts, ", ")
}

// Client calls the provider.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     logging.Logger
}

// NewClient builds a client. An empty BaseURL targets OpenWeather.
func NewClient(config Config, logger logging.Logger) *Client {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openweathermap.org/data/2.5"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
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

type owmConditions struct {
	Dt   int64  `json:"dt"`
	Name string `json:"name"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Rain map[string]float64 `json:"rain"`
	Snow map[string]float64 `json:"snow"`
}

func (o owmConditions) toConditions() Conditions {
	c := Conditions{
		TempC:     o.Main.Temp,
		Humidity:  o.Main.Humidity,
		WindSpeed: o.Wind.Speed,
		Place:     o.Name,
	}
	if o.Dt > 0 {
		c.Time = time.Unix(o.Dt, 0).UTC()
	}
	if len(o.Weather) > 0 {
		c.Main = o.Weather[0].Main
		c.Description = o.Weather[0].Description
		c.Icon = o.Weather[0].Icon
	}
	if v, ok := o.Rain["1h"]; ok {
		c.Rain1h = &v
	}
	if v, ok := o.Snow["1h"]; ok {
		c.Snow1h = &v
	}
	return c
}

// Current returns the conditions at point.
func (c *Client) Current(ctx context.Context, point geo.Point) (Conditions, error) {
	var resp owmConditions
	if err := c.get(ctx, "/weather", point, &resp); err != nil {
		return Conditions{}, err
	}
	return resp.toConditions(), nil
}

// Forecast returns the provider's forecast slots for point.
func (c *Client) Forecast(ctx context.Context, point geo.Point) ([]Conditions, error) {
	var resp struct {
		List []owmConditions `json:"list"`
	}
	if err := c.get(ctx, "/forecast", point, &resp); err != nil {
		return nil, err
	}
	out := make([]Conditions, 0, len(resp.List))
	for _, item := range resp.List {
		out = append(out, item.toConditions())
	}
	return out, nil
}

// Snapshot fetches current conditions and the forecast concurrently.
func (c *Client) Snapshot(ctx context.Context, point geo.Point) (Snapshot, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		current, err := c.Current(gctx, point)
		snap.Current = current
		return err
	})
	g.Go(func() error {
		forecast, err := c.Forecast(gctx, point)
		snap.Forecast = forecast
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (c *Client) get(ctx context.Context, path string, point geo.Point, out any) error {
	if !point.Valid() {
		return fmt.Errorf("%w: location %s is not usable", krishierrors.ErrInvalidInput, point)
	}
	query := url.Values{}
	query.Set("lat", strconv.FormatFloat(point.Lat, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(point.Lon, 'f', -1, 64))
	query.Set("units", "metric")
	query.Set("appid", c.config.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	data, err := httpclient.Do(c.httpClient, req, serviceName, path)
	if err != nil {
		return err
	}
	if err := jsonx.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: weather %s: %v", krishierrors.ErrInvalidFormat, path, err)
	}
	return nil
}
