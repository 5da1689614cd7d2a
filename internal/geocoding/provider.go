package geocoding

import (
	"context"
	"net/http"

	"github.com/owldoor/geocode-bulk/internal/models"
)

// Provider is an interface that defines a method for geocoding an address.
// The Geocode method takes a context and an address string as input, and
// returns the resolved location (coordinates plus the provider's formatted
// address) or an error if any occurs.
//
// Every implementation rate-limits itself before issuing a request, so
// callers never need to pace calls externally.
type Provider interface {
	Geocode(ctx context.Context, address string) (*models.Location, error)
}

// HTTPClient defines the interface for making HTTP requests.
// This allows for easy mocking in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
