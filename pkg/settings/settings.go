// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 StageKit Labs

// Package settings maps the host-editable subset of the pad configuration
// to a human-readable YAML interchange format. It consumes the session
// only through GetConfig/SetConfig; everything firmware-internal in the
// record is preserved untouched by a read-modify-write.
package settings

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/stagekit/padlink/pkg/smx"
)

// PanelSettings is one panel's editable state.
type PanelSettings struct {
	Panel         int    `yaml:"panel"`
	LowThreshold  uint8  `yaml:"low_threshold"`
	HighThreshold uint8  `yaml:"high_threshold"`
	StepColor     string `yaml:"step_color"` // "#RRGGBB"
}

// Settings is the YAML document root.
type Settings struct {
	EnabledPanels []int           `yaml:"enabled_panels"`
	Panels        []PanelSettings `yaml:"panels"`
}

// FromConfig extracts the editable subset of a configuration record.
func FromConfig(cfg smx.Config) Settings {
	var s Settings
	for panel := 0; panel < smx.PanelCount; panel++ {
		if cfg.PanelEnabled(panel) {
			s.EnabledPanels = append(s.EnabledPanels, panel)
		}
		r, g, b := cfg.StepColor(panel)
		s.Panels = append(s.Panels, PanelSettings{
			Panel:         panel,
			LowThreshold:  cfg.LowThreshold(panel),
			HighThreshold: cfg.HighThreshold(panel),
			StepColor:     formatColor(r, g, b),
		})
	}
	return s
}

// Apply writes the settings into an existing configuration record,
// validating panel indexes, threshold ordering, and color syntax. cfg
// should hold the record read from the device so unrelated firmware
// fields survive.
func Apply(s Settings, cfg *smx.Config) error {
	var mask uint16
	for _, panel := range s.EnabledPanels {
		if panel < 0 || panel >= smx.PanelCount {
			return fmt.Errorf("settings: enabled panel %d out of range", panel)
		}
		mask |= 1 << panel
	}
	cfg.SetEnabledPanels(mask)

	for _, p := range s.Panels {
		if p.Panel < 0 || p.Panel >= smx.PanelCount {
			return fmt.Errorf("settings: panel %d out of range", p.Panel)
		}
		if p.LowThreshold > p.HighThreshold {
			return fmt.Errorf("settings: panel %d: low threshold %d above high threshold %d",
				p.Panel, p.LowThreshold, p.HighThreshold)
		}
		r, g, b, err := parseColor(p.StepColor)
		if err != nil {
			return fmt.Errorf("settings: panel %d: %v", p.Panel, err)
		}
		cfg.SetLowThreshold(p.Panel, p.LowThreshold)
		cfg.SetHighThreshold(p.Panel, p.HighThreshold)
		cfg.SetStepColor(p.Panel, r, g, b)
	}
	return nil
}

// Marshal renders the settings as a YAML document.
func Marshal(s Settings) ([]byte, error) {
	return yaml.Marshal(s)
}

// Parse decodes a YAML document into Settings.
func Parse(data []byte) (Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("settings: %v", err)
	}
	return s, nil
}

func formatColor(r, g, b uint8) string {
	return fmt.Sprintf("#%02X%02X%02X", r, g, b)
}

func parseColor(s string) (r, g, b uint8, err error) {
	if len(s) != 7 || s[0] != '#' {
		return 0, 0, 0, fmt.Errorf("invalid color %q, want #RRGGBB", s)
	}
	var rv, gv, bv uint8
	if _, err := fmt.Sscanf(s[1:], "%02x%02x%02x", &rv, &gv, &bv); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid color %q, want #RRGGBB", s)
	}
	return rv, gv, bv, nil
}
