// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 StageKit Labs

// Package smx implements the host-side session layer for StageKit 9-panel
// stage controllers.
//
// The package owns the logical state of one pad — connectivity, reported
// identity, persisted configuration, and live sensor-test telemetry — and
// implements the wire protocol used to read and write that state. Byte-level
// I/O is delegated to a Transport; see the link subpackage for the stream
// transport shipped with this module.
package smx

import "time"

// Command tags (host → pad). Argument-less commands are newline-terminated;
// see commands.go for the exact wire form of each.
const (
	cmdPanelReset         = 'R'
	cmdReadConfig         = 'g'
	cmdWriteConfig        = 'w'
	cmdFactoryReset       = 'f'
	cmdForceRecalibration = 'C'
	cmdSensorTest         = 'y'
)

// Inbound packet tags (pad → host). Tags not listed here are ignored by the
// session for forward compatibility with newer firmware.
const (
	PacketConfig     = 'g' // configuration readback: tag, 1-byte length, config bytes
	PacketSensorTest = 'y' // sensor telemetry: tag, echoed mode, word count, LE uint16 words
)

// Pad geometry.
const (
	PanelCount      = 9 // physical pressure-sensitive regions
	SensorsPerPanel = 4 // load sensors per panel, one per edge
)

// ConfigSize is the byte length of the firmware's packed configuration
// record. The session treats the record as opaque beyond its length; the
// typed accessors in config.go decode only the host-editable subset.
const ConfigSize = 250

// SensorTestMode selects which raw value the panels report during sensor
// test. The mode byte is echoed back verbatim in every telemetry response.
type SensorTestMode byte

// Sensor test modes. Off means no telemetry is requested.
const (
	SensorTestOff                SensorTestMode = 0
	SensorTestUncalibratedValues SensorTestMode = '0'
	SensorTestCalibratedValues   SensorTestMode = '1'
	SensorTestNoise              SensorTestMode = '2'
	SensorTestTare               SensorTestMode = '3'
)

// sensorTestTimeout is how long the session waits for a telemetry response
// before presuming the request lost and issuing a new one.
const sensorTestTimeout = 2000 * time.Millisecond
