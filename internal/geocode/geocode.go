// Package geocode resolves free-text addresses inside the service area.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/Additional-Code/nightowl/internal/config"
)

var geocodeTracer = otel.Tracer("github.com/Additional-Code/nightowl/geocode")

const maxResults = 5

// Module provides the geocoding client to Fx.
var Module = fx.Provide(New)

// Result is one candidate location.
type Result struct {
	DisplayName string  `json:"display_name"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
}

// Client queries a Nominatim-compatible search endpoint.
type Client struct {
	baseURL   string
	userAgent string
	viewBox   string
	http      *http.Client
}

// New builds a Client from configuration.
func New(cfg config.Config) *Client {
	timeout := cfg.Geocoding.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.Geocoding.BaseURL, "/"),
		userAgent: cfg.Geocoding.UserAgent,
		viewBox:   cfg.Geocoding.ViewBox,
		http:      &http.Client{Timeout: timeout},
	}
}

type place struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
}

// Search returns up to five candidates for query, bounded to the viewbox
// when one is configured.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	ctx, span := geocodeTracer.Start(ctx, "Geocode.Search", trace.WithAttributes(attribute.Int("query.length", len(query))))
	defer span.End()

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("limit", strconv.Itoa(maxResults))
	if c.viewBox != "" {
		params.Set("viewbox", c.viewBox)
		params.Set("bounded", "1")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("geocode: unexpected status %d", resp.StatusCode)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, fmt.Errorf("decode geocode response: %w", err)
	}

	results := make([]Result, 0, len(places))
	for _, p := range places {
		lat, errLat := strconv.ParseFloat(p.Lat, 64)
		lng, errLng := strconv.ParseFloat(p.Lon, 64)
		if errLat != nil || errLng != nil {
			continue
		}
		results = append(results, Result{DisplayName: p.DisplayName, Lat: lat, Lng: lng})
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}
