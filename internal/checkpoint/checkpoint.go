// Package checkpoint persists bulk-run progress so an interrupted run can
// resume without re-querying already-processed rows.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// ErrCorrupt is returned when a checkpoint file exists but cannot be parsed.
var ErrCorrupt = errors.New("checkpoint file is corrupt")

// Checkpoint records how far a run has progressed. LastProcessed counts
// positions in the valid-query index sequence, not raw row indices.
type Checkpoint struct {
	LastProcessed int    `json:"last_processed"`
	Timestamp     string `json:"timestamp"`
}

// TableWriter persists the full output table to a path.
type TableWriter interface {
	Save(path string) error
}

// Store pairs a checkpoint marker with the output table it describes.
// The marker lives at <output path>.checkpoint and is only present while
// a run is in progress or was interrupted.
type Store struct {
	outputPath string
	path       string
	table      TableWriter
	log        *slog.Logger
}

// NewStore creates a Store for the given output path.
func NewStore(outputPath string, table TableWriter, log *slog.Logger) *Store {
	return &Store{
		outputPath: outputPath,
		path:       outputPath + ".checkpoint",
		table:      table,
		log:        log,
	}
}

// Path returns the checkpoint file path.
func (s *Store) Path() string { return s.path }

// Load reads the checkpoint marker. A missing file is not an error and
// returns (nil, nil); an unparseable file returns ErrCorrupt.
func (s *Store) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", s.path, err)
	}

	var cp Checkpoint
	if err = json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}

	return &cp, nil
}

// Save persists the current run state: the full output table is written
// first, then the marker is written atomically (temp file + rename). The
// ordering guarantees a resumed run never trusts an index referencing rows
// whose results were not persisted. Each call fully supersedes the prior
// checkpoint state.
func (s *Store) Save(lastProcessed int) error {
	if err := s.table.Save(s.outputPath); err != nil {
		return fmt.Errorf("failed to save output table: %w", err)
	}

	cp := Checkpoint{
		LastProcessed: lastProcessed,
		Timestamp:     time.Now().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(&cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err = os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint temp file: %w", err)
	}
	if err = os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename checkpoint file: %w", err)
	}

	s.log.Debug("Checkpoint saved", "path", s.path, "last_processed", lastProcessed)
	return nil
}

// Clear removes the checkpoint marker. A no-op when absent.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove checkpoint %s: %w", s.path, err)
	}
	return nil
}
