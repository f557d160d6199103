package export

import (
	"context"
	"path/filepath"

	"github.com/garyjia/receipt-pipeline/internal/application/pipeline"
	"github.com/garyjia/receipt-pipeline/internal/application/port"
)

// HistoryPaths returns the JSON (all versions) and YAML (final version)
// artifact paths for base inside dir
func HistoryPaths(dir, base string) (jsonPath, yamlPath string) {
	return filepath.Join(dir, base+".json"), filepath.Join(dir, base+".yml")
}

// WriteHistory saves every version of a run as <base>.json and, when the
// history is not empty, the final version as <base>.yml
func WriteHistory(ctx context.Context, storage port.FileStorage, dir, base string, history *pipeline.History) error {
	jsonPath, yamlPath := HistoryPaths(dir, base)

	all, err := history.EncodeAll()
	if err != nil {
		return err
	}
	if err := storage.Save(ctx, jsonPath, all); err != nil {
		return err
	}

	if history.Len() == 0 {
		return nil
	}
	current, err := history.EncodeCurrentYAML()
	if err != nil {
		return err
	}
	return storage.Save(ctx, yamlPath, current)
}
