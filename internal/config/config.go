package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/owldoor/geocode-bulk/internal/address"
	"github.com/owldoor/geocode-bulk/internal/geocoding"
)

// Validation errors reported before any processing begins.
var (
	ErrNoAddressSource = errors.New(
		"no address source specified: set an address column or at least one component column")
	ErrBothModes = errors.New(
		"address column and component columns are mutually exclusive")
	ErrMissingAPIKey = errors.New("API key is required for this provider")
)

// Config holds the settings for one bulk geocoding run.
//
// Fields:
// - Env: The current environment (local, development, production), controls log verbosity.
// - InputPath / OutputPath: The table files to read and write.
// - Provider: Which geocoding provider to use (nominatim, google, mapbox).
// - APIKey: The credential for commercial providers.
// - Columns: Where each row's address comes from.
// - Resume: Continue from the last checkpoint instead of starting over.
// - ChunkSize: How many processed rows between checkpoint saves.
// - MonitorPort: Port for the monitoring server; 0 disables it.
type Config struct {
	Env         string
	InputPath   string
	OutputPath  string
	Provider    geocoding.ProviderType
	APIKey      string
	Columns     address.Config
	Resume      bool
	ChunkSize   int
	MonitorPort int
}

// LoadEnv pulls environment defaults into a Config. A .env file is honored
// when present. Flag values set by the caller take precedence: only empty
// fields are filled in here.
func (c *Config) LoadEnv() {
	_ = godotenv.Load()

	if c.Env == "" {
		c.Env = setDefaultEnv("GEOCODE_ENV", "production")
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("GEOCODE_API_KEY")
	}
	if c.Provider == "" {
		c.Provider = geocoding.ProviderType(setDefaultEnv("GEOCODE_PROVIDER", "nominatim"))
	}
}

// Validate reports configuration errors that must terminate the run before
// any processing begins.
func (c *Config) Validate() error {
	if c.InputPath == "" || c.OutputPath == "" {
		return errors.New("input and output paths are required")
	}
	if !c.Columns.SingleMode() && !c.Columns.ComponentMode() {
		return ErrNoAddressSource
	}
	if c.Columns.SingleMode() && c.Columns.ComponentMode() {
		return ErrBothModes
	}
	switch c.Provider {
	case geocoding.ProviderTypeNominatim:
		// no credential required
	case geocoding.ProviderTypeGoogle, geocoding.ProviderTypeMapbox:
		if c.APIKey == "" {
			return fmt.Errorf("%w: %s", ErrMissingAPIKey, c.Provider)
		}
	default:
		return fmt.Errorf("unsupported provider: %s", c.Provider)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	return nil
}

func setDefaultEnv(key, override string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		value = override
	}

	return value
}
