package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"zigbee-quirks/internal/quirk"
)

// ModelOverride adjusts the device constants of one manufacturer/model pair.
type ModelOverride struct {
	Manufacturer string           `yaml:"manufacturer"`
	Model        string           `yaml:"model"`
	FriendlyName string           `yaml:"friendly_name,omitempty"`
	Constants    map[string]int64 `yaml:"constants"`
}

// Overrides holds per-model constant overrides keyed by manufacturer+model.
type Overrides struct {
	models map[string]*ModelOverride
}

func overrideKey(manufacturer, model string) string {
	return manufacturer + "\x00" + model
}

// NewOverrides creates an empty override set.
func NewOverrides() *Overrides {
	return &Overrides{models: make(map[string]*ModelOverride)}
}

// Add inserts or replaces an override.
func (o *Overrides) Add(m ModelOverride) {
	cp := m
	o.models[overrideKey(m.Manufacturer, m.Model)] = &cp
}

// Lookup returns the override for a model, or nil.
func (o *Overrides) Lookup(manufacturer, model string) *ModelOverride {
	if o == nil {
		return nil
	}
	return o.models[overrideKey(manufacturer, model)]
}

// Constants returns the constants to merge over a quirk's defaults.
func (o *Overrides) Constants(manufacturer, model string) quirk.Constants {
	m := o.Lookup(manufacturer, model)
	if m == nil || len(m.Constants) == 0 {
		return nil
	}
	out := make(quirk.Constants, len(m.Constants))
	for k, v := range m.Constants {
		out[k] = v
	}
	return out
}

// DefaultName returns the friendly name given to newly paired devices of a
// model, or "".
func (o *Overrides) DefaultName(manufacturer, model string) string {
	if m := o.Lookup(manufacturer, model); m != nil {
		return m.FriendlyName
	}
	return ""
}

// Len returns the number of overridden models.
func (o *Overrides) Len() int {
	if o == nil {
		return 0
	}
	return len(o.models)
}

// overrideFile is the YAML structure for files in the quirks directory.
type overrideFile struct {
	Models []ModelOverride `yaml:"models"`
}

// LoadOverrides reads all *.yaml and *.yml files from dir. A missing or empty
// directory yields an empty set, not an error. Unknown keys are rejected.
func LoadOverrides(dir string, logger *slog.Logger) (*Overrides, error) {
	o := NewOverrides()

	var matches []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		m, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return o, fmt.Errorf("glob quirks dir: %w", err)
		}
		matches = append(matches, m...)
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		logger.Info("no quirk override files found", "dir", dir)
		return o, nil
	}

	for _, path := range matches {
		f, err := os.Open(path)
		if err != nil {
			return o, fmt.Errorf("read %s: %w", path, err)
		}
		var of overrideFile
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		err = dec.Decode(&of)
		f.Close()
		if err != nil && !errors.Is(err, io.EOF) {
			return o, fmt.Errorf("parse %s: %w", path, err)
		}

		for i, m := range of.Models {
			if m.Manufacturer == "" || m.Model == "" {
				return o, fmt.Errorf("%s: models[%d]: manufacturer and model are required", path, i)
			}
			o.Add(m)
		}
		logger.Info("loaded quirk overrides", "path", filepath.Base(path), "models", len(of.Models))
	}

	logger.Info("quirk overrides loaded", "files", len(matches), "models", o.Len())
	return o, nil
}
