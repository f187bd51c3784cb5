// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 StageKit Labs

package smx

// Config is the firmware's packed configuration record. The session engine
// never interprets its contents — it only moves the record across the wire
// and caches it — but the host-editable subset is exposed through explicit
// byte-offset accessors so tooling never depends on struct memory layout.
//
// Record layout (host-editable subset only; all other bytes are
// firmware-internal and must be preserved across a read-modify-write):
//
//	0x00  uint16 LE  enabled-panel bitmask, bits 0–8
//	0x10  9 × uint8  per-panel low (release) threshold
//	0x19  9 × uint8  per-panel high (press) threshold
//	0x28  9 × [3]uint8  per-panel step color, RGB
type Config [ConfigSize]byte

// Byte offsets of the host-editable fields within Config.
const (
	offEnabledPanels = 0x00
	offLowThreshold  = 0x10
	offHighThreshold = 0x19
	offStepColor     = 0x28
)

// EnabledPanels returns the enabled-panel bitmask (bits 0–8).
func (c *Config) EnabledPanels() uint16 {
	return uint16(c[offEnabledPanels]) | uint16(c[offEnabledPanels+1])<<8
}

// SetEnabledPanels stores the enabled-panel bitmask.
func (c *Config) SetEnabledPanels(mask uint16) {
	c[offEnabledPanels] = byte(mask)
	c[offEnabledPanels+1] = byte(mask >> 8)
}

// PanelEnabled reports whether the given panel is enabled.
func (c *Config) PanelEnabled(panel int) bool {
	return c.EnabledPanels()&(1<<panel) != 0
}

// LowThreshold returns the release threshold for the given panel.
func (c *Config) LowThreshold(panel int) uint8 {
	return c[offLowThreshold+panel]
}

// SetLowThreshold stores the release threshold for the given panel.
func (c *Config) SetLowThreshold(panel int, v uint8) {
	c[offLowThreshold+panel] = v
}

// HighThreshold returns the press threshold for the given panel.
func (c *Config) HighThreshold(panel int) uint8 {
	return c[offHighThreshold+panel]
}

// SetHighThreshold stores the press threshold for the given panel.
func (c *Config) SetHighThreshold(panel int, v uint8) {
	c[offHighThreshold+panel] = v
}

// StepColor returns the step color of the given panel.
func (c *Config) StepColor(panel int) (r, g, b uint8) {
	off := offStepColor + panel*3
	return c[off], c[off+1], c[off+2]
}

// SetStepColor stores the step color of the given panel.
func (c *Config) SetStepColor(panel int, r, g, b uint8) {
	off := offStepColor + panel*3
	c[off], c[off+1], c[off+2] = r, g, b
}
