package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelConfig holds the construction parameters of a detector. These four
// values, together with the architecture, fully determine every compiled
// shape.
type ModelConfig struct {
	InChannels int `yaml:"in_channels"` // Input image channels
	SplitSize  int `yaml:"split_size"`  // Grid side length S
	NumBoxes   int `yaml:"num_boxes"`   // Boxes per cell B
	NumClasses int `yaml:"num_classes"` // Class scores per cell C
}

// DefaultModelConfig returns the PASCAL VOC configuration from the YOLOv1
// paper: RGB input, 7x7 grid, 2 boxes per cell, 20 classes.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		InChannels: 3,
		SplitSize:  7,
		NumBoxes:   2,
		NumClasses: 20,
	}
}

// Validate reports the first non-positive field as a *ConfigError.
func (c ModelConfig) Validate() error {
	fields := []struct {
		name  string
		value int
	}{
		{"in_channels", c.InChannels},
		{"split_size", c.SplitSize},
		{"num_boxes", c.NumBoxes},
		{"num_classes", c.NumClasses},
	}
	for _, f := range fields {
		if f.value <= 0 {
			return configErrorf(-1, f.name, "must be positive, got %d", f.value)
		}
	}
	return nil
}

// CellWidth returns B*5 + C, the number of values per grid cell.
func (c ModelConfig) CellWidth() int {
	return c.NumBoxes*5 + c.NumClasses
}

// OutputWidth returns (B*5 + C) * S * S.
func (c ModelConfig) OutputWidth() int {
	return c.CellWidth() * c.SplitSize * c.SplitSize
}

// LoadModelConfig reads a model config from YAML. Keys missing from the file
// keep their DefaultModelConfig values; unknown keys are rejected.
func LoadModelConfig(path string) (ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ModelConfig{}, fmt.Errorf("read model config: %w", err)
	}
	return ParseModelConfig(data)
}

// ParseModelConfig decodes YAML bytes into a validated ModelConfig.
func ParseModelConfig(data []byte) (ModelConfig, error) {
	cfg := DefaultModelConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return ModelConfig{}, fmt.Errorf("parse model config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return ModelConfig{}, err
	}
	return cfg, nil
}

// WriteModelConfig writes cfg to path as YAML.
func WriteModelConfig(cfg ModelConfig, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
