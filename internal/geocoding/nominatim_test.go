package geocoding_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/owldoor/geocode-bulk/internal/geocoding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// mockHTTPClient is a mock implementation of HTTPClient for testing.
type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.doFunc(req)
}

func TestNominatimProvider_Geocode(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()
	noLimit := rate.NewLimiter(rate.Inf, 0)

	t.Run("successful geocoding", func(t *testing.T) {
		mockClient := &mockHTTPClient{
			doFunc: func(req *http.Request) (*http.Response, error) {
				// Verify request parameters
				assert.Equal(t, "GET", req.Method)
				assert.Contains(t, req.URL.String(), "nominatim.openstreetmap.org")
				assert.Equal(t, "1600 Amphitheatre Parkway, Mountain View, CA", req.URL.Query().Get("q"))
				assert.Equal(t, "json", req.URL.Query().Get("format"))
				assert.Equal(t, "1", req.URL.Query().Get("limit"))
				assert.Equal(t, "OwlDoorGeocoder/1.0", req.Header.Get("User-Agent"))

				// Return mock response
				responseBody := `[{"lat":"37.4224764","lon":"-122.0842499","display_name":"Google Building 40, Mountain View, CA"}]`
				return &http.Response{
					StatusCode: http.StatusOK,
					Body:       io.NopCloser(bytes.NewBufferString(responseBody)),
				}, nil
			},
		}

		provider := geocoding.NewNominatimProviderWithClient(mockClient, noLimit, logger)
		loc, err := provider.Geocode(ctx, "1600 Amphitheatre Parkway, Mountain View, CA")

		require.NoError(t, err)
		require.NotNil(t, loc)
		assert.InEpsilon(t, 37.4224764, loc.Latitude, 0.0001)
		assert.InEpsilon(t, -122.0842499, loc.Longitude, 0.0001)
		assert.Equal(t, "Google Building 40, Mountain View, CA", loc.Address)
	})

	t.Run("empty response from API", func(t *testing.T) {
		mockClient := &mockHTTPClient{
			doFunc: func(_ *http.Request) (*http.Response, error) {
				return &http.Response{
					StatusCode: http.StatusOK,
					Body:       io.NopCloser(bytes.NewBufferString(`[]`)),
				}, nil
			},
		}

		provider := geocoding.NewNominatimProviderWithClient(mockClient, noLimit, logger)
		loc, err := provider.Geocode(ctx, "invalid address")

		require.Error(t, err)
		require.Nil(t, loc)
		assert.ErrorIs(t, err, geocoding.ErrNotFound)
	})

	t.Run("HTTP error status is a transport error", func(t *testing.T) {
		mockClient := &mockHTTPClient{
			doFunc: func(_ *http.Request) (*http.Response, error) {
				responseBody := `{"error":"Rate limit exceeded"}`
				return &http.Response{
					StatusCode: http.StatusTooManyRequests,
					Body:       io.NopCloser(bytes.NewBufferString(responseBody)),
				}, nil
			},
		}

		provider := geocoding.NewNominatimProviderWithClient(mockClient, noLimit, logger)
		loc, err := provider.Geocode(ctx, "some address")

		require.Error(t, err)
		require.Nil(t, loc)
		var transportErr *geocoding.TransportError
		require.ErrorAs(t, err, &transportErr)
		assert.Contains(t, err.Error(), "429")
	})

	t.Run("invalid JSON response", func(t *testing.T) {
		mockClient := &mockHTTPClient{
			doFunc: func(_ *http.Request) (*http.Response, error) {
				return &http.Response{
					StatusCode: http.StatusOK,
					Body:       io.NopCloser(bytes.NewBufferString(`invalid json`)),
				}, nil
			},
		}

		provider := geocoding.NewNominatimProviderWithClient(mockClient, noLimit, logger)
		loc, err := provider.Geocode(ctx, "some address")

		require.Error(t, err)
		require.Nil(t, loc)
		var providerErr *geocoding.ProviderError
		require.ErrorAs(t, err, &providerErr)
		assert.Equal(t, "nominatim", providerErr.Provider)
	})

	t.Run("invalid latitude in response", func(t *testing.T) {
		mockClient := &mockHTTPClient{
			doFunc: func(_ *http.Request) (*http.Response, error) {
				responseBody := `[{"lat":"invalid","lon":"-122.0842499"}]`
				return &http.Response{
					StatusCode: http.StatusOK,
					Body:       io.NopCloser(bytes.NewBufferString(responseBody)),
				}, nil
			},
		}

		provider := geocoding.NewNominatimProviderWithClient(mockClient, noLimit, logger)
		loc, err := provider.Geocode(ctx, "some address")

		require.Error(t, err)
		require.Nil(t, loc)
		var providerErr *geocoding.ProviderError
		require.ErrorAs(t, err, &providerErr)
		assert.Contains(t, err.Error(), "invalid latitude")
	})

	t.Run("HTTP client returns error", func(t *testing.T) {
		mockClient := &mockHTTPClient{
			doFunc: func(_ *http.Request) (*http.Response, error) {
				return nil, assert.AnError
			},
		}

		provider := geocoding.NewNominatimProviderWithClient(mockClient, noLimit, logger)
		loc, err := provider.Geocode(ctx, "some address")

		require.Error(t, err)
		require.Nil(t, loc)
		var transportErr *geocoding.TransportError
		require.ErrorAs(t, err, &transportErr)
		assert.ErrorIs(t, err, assert.AnError)
	})

	t.Run("context cancellation", func(t *testing.T) {
		newCtx, cancel := context.WithCancel(context.Background())
		cancel() // Cancel immediately

		mockClient := &mockHTTPClient{
			doFunc: func(req *http.Request) (*http.Response, error) {
				return nil, req.Context().Err()
			},
		}

		provider := geocoding.NewNominatimProviderWithClient(mockClient, noLimit, logger)
		loc, err := provider.Geocode(newCtx, "some address")

		require.Error(t, err)
		require.Nil(t, loc)
	})
}

func TestNewNominatimProvider(t *testing.T) {
	provider := geocoding.NewNominatimProvider(slog.Default())

	require.NotNil(t, provider)
}
