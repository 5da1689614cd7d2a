package geocoding

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a provider has no match for an address.
var ErrNotFound = errors.New("address not found")

// ProviderError is returned when a provider's API accepted the request but
// rejected it with a status of its own (invalid key, quota exceeded,
// malformed query, unparseable payload).
type ProviderError struct {
	Provider string // Provider name: nominatim, google, mapbox.
	Status   string // Provider-reported status or reason.
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s API error: %s", e.Provider, e.Status)
}

// TransportError wraps timeouts, connection failures and other HTTP-level
// faults that prevented a geocoding request from completing.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
