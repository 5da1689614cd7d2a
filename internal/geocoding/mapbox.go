package geocoding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/owldoor/geocode-bulk/internal/models"
	"golang.org/x/time/rate"
)

// MapboxBaseURL -- Mapbox places API base URL.
const MapboxBaseURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"

// mapboxDelay spaces requests at 600/minute, the Mapbox geocoding quota.
const mapboxDelay = 100 * time.Millisecond

// MapboxProvider implements geocoding using the Mapbox places API.
type MapboxProvider struct {
	client  HTTPClient    // HTTP client for making requests
	baseURL string        // Base URL for the Mapbox API
	apiKey  string        // Access token with geocoding scope
	limiter *rate.Limiter // Enforces the minimum inter-request interval
	log     *slog.Logger  // Logger for logging operations
}

// Mapbox API response (simplified for the geocoding use-case).
// Center coordinates come back longitude-first.
type mapboxResponse struct {
	Features []struct {
		Center    []float64 `json:"center"` // [lon, lat]
		PlaceName string    `json:"place_name"`
	} `json:"features"`
}

// NewMapboxProvider creates a new Mapbox geocoding provider.
func NewMapboxProvider(apiKey string, log *slog.Logger) *MapboxProvider {
	return &MapboxProvider{
		client: &http.Client{
			Timeout: requestTimeout,
		},
		baseURL: MapboxBaseURL,
		apiKey:  apiKey,
		limiter: rate.NewLimiter(rate.Every(mapboxDelay), 1),
		log:     log,
	}
}

// NewMapboxProviderWithClient allows injecting a custom HTTP client and limiter.
func NewMapboxProviderWithClient(
	client HTTPClient,
	apiKey string,
	limiter *rate.Limiter,
	log *slog.Logger,
) *MapboxProvider {
	return &MapboxProvider{
		client:  client,
		baseURL: MapboxBaseURL,
		apiKey:  apiKey,
		limiter: limiter,
		log:     log,
	}
}

// Geocode converts an address into geographic coordinates using the Mapbox
// places API. The address is embedded URL-escaped in the request path.
func (mp *MapboxProvider) Geocode(ctx context.Context, address string) (*models.Location, error) {
	const coordsListLength = 2

	if err := mp.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait interrupted: %w", err)
	}

	mp.log.DebugContext(ctx, "Geocoding using Mapbox", "address", address)

	reqURL, err := url.Parse(mp.baseURL + "/" + url.PathEscape(address) + ".json")
	if err != nil {
		return nil, fmt.Errorf("failed to build request URL: %w", err)
	}

	query := reqURL.Query()
	query.Set("access_token", mp.apiKey)
	query.Set("limit", "1")
	reqURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := mp.client.Do(req)
	if err != nil {
		return nil, &TransportError{Provider: "mapbox", Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// continue
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &ProviderError{Provider: "mapbox", Status: "unauthorized (invalid access token)"}
	default:
		body, _ := io.ReadAll(resp.Body)
		mp.log.ErrorContext(ctx, "Mapbox API error", "status", resp.StatusCode, "body", string(body))
		return nil, &TransportError{
			Provider: "mapbox",
			Err:      fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Provider: "mapbox", Err: fmt.Errorf("read response body: %w", err)}
	}

	var result mapboxResponse
	if err = json.Unmarshal(body, &result); err != nil {
		return nil, &ProviderError{Provider: "mapbox", Status: "unparseable response"}
	}

	if len(result.Features) == 0 {
		return nil, ErrNotFound
	}

	feature := result.Features[0]
	if len(feature.Center) != coordsListLength {
		return nil, &ProviderError{Provider: "mapbox", Status: "invalid center coordinates"}
	}

	// Mapbox returns [lon, lat]; swap into latitude/longitude order.
	lon := feature.Center[0]
	lat := feature.Center[1]

	mp.log.DebugContext(ctx, "Mapbox found result", "lat", lat, "lon", lon, "name", feature.PlaceName)

	return &models.Location{
		Latitude:  lat,
		Longitude: lon,
		Address:   feature.PlaceName,
	}, nil
}
