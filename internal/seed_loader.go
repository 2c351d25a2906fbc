package internal

import (
	"context"
	"fmt"
	"os"

	"github.com/lychee-technology/bulkingest"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// seedDocument is the on-disk form of a seed file. YAML is a superset of
// JSON so one decoder handles both.
type seedDocument struct {
	Records []bulkingest.SeedRecord `yaml:"records"`
}

// LoadSeedFile reads seed records from a YAML or JSON file.
func LoadSeedFile(path string) ([]bulkingest.SeedRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file %s: %w", path, err)
	}
	var doc seedDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return doc.Records, nil
}

// SeedRepository loads path into seeder when path is set.
func SeedRepository(ctx context.Context, seeder bulkingest.Seeder, path string) error {
	if path == "" {
		return nil
	}
	records, err := LoadSeedFile(path)
	if err != nil {
		return err
	}
	added, err := seeder.Seed(ctx, records)
	if err != nil {
		return fmt.Errorf("seed repository: %w", err)
	}
	zap.S().Infow("repository seeded", "file", path, "records", len(records), "added", added)
	return nil
}
