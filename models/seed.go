package models

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadSeed reads a YAML document to use instead of Default when storage is
// empty. An empty path returns Default.
func LoadSeed(path string) (TripData, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return TripData{}, fmt.Errorf("read seed %s: %w", path, err)
	}
	var d TripData
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return TripData{}, fmt.Errorf("parse seed %s: %w", path, err)
	}
	d = d.Normalize()
	d.Sequence = d.Sequence.Observe(d)
	return d, nil
}
