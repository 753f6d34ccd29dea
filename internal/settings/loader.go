package settings

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is a settings document as stored on disk. Either section may be omitted.
type File struct {
	Thresholds       *AlertThresholds `yaml:"thresholds"`
	AdaptiveResponse *AdaptiveConfig  `yaml:"adaptive_response"`
}

// LoadFile loads settings from a YAML file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML bytes into a settings File and validates every section present.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing settings YAML: %w", err)
	}
	if err := validate(&f); err != nil {
		return nil, fmt.Errorf("validating settings: %w", err)
	}
	return &f, nil
}

func validate(f *File) error {
	if f.Thresholds == nil && f.AdaptiveResponse == nil {
		return fmt.Errorf("at least one of thresholds or adaptive_response is required")
	}
	if f.Thresholds != nil {
		if err := f.Thresholds.Validate(); err != nil {
			return err
		}
	}
	if f.AdaptiveResponse != nil {
		if f.AdaptiveResponse.MitigationStrategy == "" {
			f.AdaptiveResponse.MitigationStrategy = StrategyAdaptive
		}
		if err := f.AdaptiveResponse.Validate(); err != nil {
			return err
		}
	}
	return nil
}
