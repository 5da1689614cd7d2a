// Package address derives per-row geocoding queries from table columns.
package address

import (
	"strings"

	"github.com/owldoor/geocode-bulk/internal/table"
)

// Config selects where a row's address comes from: either one full-address
// column, or up to four component columns. Exactly one mode is active per
// run (validated by the caller).
type Config struct {
	AddressColumn string // Single-column mode.
	StreetColumn  string // Component mode, joined street -> city -> state -> zip.
	CityColumn    string
	StateColumn   string
	ZipColumn     string
}

// SingleMode reports whether the single-column mode is configured.
func (c Config) SingleMode() bool { return c.AddressColumn != "" }

// ComponentMode reports whether any component column is configured.
func (c Config) ComponentMode() bool {
	return c.StreetColumn != "" || c.CityColumn != "" || c.StateColumn != "" || c.ZipColumn != ""
}

// Builder resolves the configured column indices once against a table and
// builds query strings per row.
type Builder struct {
	single     bool
	addressIdx int
	components []int
}

// NewBuilder binds a Config to a table's columns. Configured columns that
// do not exist in the table are ignored, matching the forgiving lookup of
// the row data itself.
func NewBuilder(t *table.Table, cfg Config) *Builder {
	if cfg.SingleMode() {
		idx, ok := t.Column(cfg.AddressColumn)
		if !ok {
			idx = -1
		}
		return &Builder{single: true, addressIdx: idx}
	}

	b := &Builder{single: false}
	for _, name := range []string{cfg.StreetColumn, cfg.CityColumn, cfg.StateColumn, cfg.ZipColumn} {
		if name == "" {
			continue
		}
		if idx, ok := t.Column(name); ok {
			b.components = append(b.components, idx)
		}
	}
	return b
}

// Build returns the query string for one row, or "" when the row has no
// usable address data. In component mode the non-empty values are joined
// in the fixed configured order with ", ".
func (b *Builder) Build(t *table.Table, row int) string {
	if b.single {
		if b.addressIdx < 0 {
			return ""
		}
		return strings.TrimSpace(t.Get(row, b.addressIdx))
	}

	parts := make([]string, 0, len(b.components))
	for _, idx := range b.components {
		if v := strings.TrimSpace(t.Get(row, idx)); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ", ")
}
