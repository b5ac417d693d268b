package toml

import "fmt"

const currentBatchesSchemaVersion = 1

type batchesFileSchema struct {
	Version int           `toml:"version"`
	Batches []batchSchema `toml:"batches"`
}

func (s *batchesFileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentBatchesSchemaVersion
	}
}

func (s batchesFileSchema) validateVersion() error {
	if s.Version > currentBatchesSchemaVersion {
		return fmt.Errorf("unsupported batches schema version %d (current %d)", s.Version, currentBatchesSchemaVersion)
	}

	return nil
}

type batchSchema struct {
	ID            string   `toml:"id"`
	Name          string   `toml:"name"`
	Members       []string `toml:"members"`
	Actions       []string `toml:"actions"`
	MaxConcurrent int      `toml:"max_concurrent"`
	SearchTerms   string   `toml:"search_terms,omitempty"`
	UpdatedAt     string   `toml:"updated_at"`
}
