package generator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Output file names written by WriteDataset.
const (
	EncountersFile = "encounters.json"
	HistoriesFile  = "patients.json"
)

// WriteDataset serializes the dataset into encounters.json and patients.json
// under dir, in the wrapped layouts accepted by the ingest loader.
func WriteDataset(dataset Dataset, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	encounters := map[string]any{"encounters": dataset.Encounters}
	if err := writeJSON(filepath.Join(dir, EncountersFile), encounters); err != nil {
		return err
	}

	if len(dataset.Histories) == 0 {
		return nil
	}
	histories := map[string]any{"patients": dataset.Histories}
	return writeJSON(filepath.Join(dir, HistoriesFile), histories)
}

func writeJSON(path string, data any) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode json for %s: %w", path, err)
	}
	return nil
}
