package models

// Location represents a geocoded point together with the normalized
// address the provider resolved it to.
type Location struct {
	Latitude  float64 // Latitude of the geographical point.
	Longitude float64 // Longitude of the geographical point.
	Address   string  // Formatted address as returned by the provider.
}
