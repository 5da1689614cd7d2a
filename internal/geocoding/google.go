package geocoding

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/owldoor/geocode-bulk/internal/models"
	"golang.org/x/time/rate"
	"googlemaps.github.io/maps"
)

// googleDelay spaces requests at 50/second, the default quota of the
// Google Geocoding API standard tier.
const googleDelay = 20 * time.Millisecond

// GoogleProvider is a struct that holds the client for Google Maps API
// and a logger for logging purposes. It is used to interact with the
// Google Maps geocoding services.
type GoogleProvider struct {
	client  GoogleAPIClient // client is the Google Maps API client
	limiter *rate.Limiter   // Enforces the minimum inter-request interval
	log     *slog.Logger    // log is the logger for logging operations
}

type GoogleAPIClient interface {
	Geocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// NewGoogleProvider initializes a new GoogleProvider with the given API
// client and logger.
func NewGoogleProvider(client GoogleAPIClient, log *slog.Logger) *GoogleProvider {
	return &GoogleProvider{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(googleDelay), 1),
		log:     log,
	}
}

// NewGoogleProviderWithLimiter creates a Google provider with a custom rate
// limiter. Useful for tests that must not sleep between calls.
func NewGoogleProviderWithLimiter(client GoogleAPIClient, limiter *rate.Limiter, log *slog.Logger) *GoogleProvider {
	return &GoogleProvider{client: client, limiter: limiter, log: log}
}

// Geocode takes a context and an address string as input, and returns the
// geographical coordinates and formatted address of the provided address
// using the Google Maps Geocoding API.
//
// The maps client inspects the API status field itself: a non-OK status
// comes back as an error (classified here as ProviderError), while
// ZERO_RESULTS arrives as an empty result slice.
func (gp *GoogleProvider) Geocode(ctx context.Context, address string) (*models.Location, error) {
	if err := gp.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	gp.log.DebugContext(ctx, "Geocoding using Google Maps", "address", address)

	req := maps.GeocodingRequest{Address: address}
	results, err := gp.client.Geocode(ctx, &req)
	if err != nil {
		if isTransport(err) {
			return nil, &TransportError{Provider: "google", Err: err}
		}
		return nil, &ProviderError{Provider: "google", Status: err.Error()}
	}

	if len(results) == 0 {
		return nil, ErrNotFound
	}

	coords := results[0].Geometry.Location
	gp.log.DebugContext(ctx, "Google found result",
		"lat", coords.Lat, "lng", coords.Lng, "formatted", results[0].FormattedAddress)

	return &models.Location{
		Latitude:  coords.Lat,
		Longitude: coords.Lng,
		Address:   results[0].FormattedAddress,
	}, nil
}

// isTransport reports whether err is a network-level failure rather than an
// API status rejection.
func isTransport(err error) bool {
	var netErr net.Error
	var urlErr *url.Error
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &netErr) ||
		errors.As(err, &urlErr)
}
