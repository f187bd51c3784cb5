// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 StageKit Labs

package smx

// Command builder functions produce the exact byte sequences the pad
// expects on the wire. Argument-less commands are a single tag byte
// followed by a newline; commands with binary arguments carry no
// terminator since their length is implied by the argument encoding.

// CmdPanelReset builds the panel-reset command sent during activation.
func CmdPanelReset() []byte {
	return []byte{cmdPanelReset, '\n'}
}

// CmdReadConfig builds the configuration readback request. The pad answers
// with a PacketConfig packet carrying its current configuration record.
func CmdReadConfig() []byte {
	return []byte{cmdReadConfig, '\n'}
}

// CmdWriteConfig builds the configuration write command: tag, 1-byte record
// length, record bytes.
func CmdWriteConfig(cfg Config) []byte {
	out := make([]byte, 0, 2+ConfigSize)
	out = append(out, cmdWriteConfig, byte(ConfigSize))
	return append(out, cfg[:]...)
}

// CmdFactoryReset builds the factory-reset command. The pad restores its
// default configuration; the host must read the record back afterwards.
func CmdFactoryReset() []byte {
	return []byte{cmdFactoryReset, '\n'}
}

// CmdForceRecalibration builds the recalibration command. Fire-and-forget;
// the pad sends no acknowledgement.
func CmdForceRecalibration() []byte {
	return []byte{cmdForceRecalibration, '\n'}
}

// CmdSensorTest builds the sensor telemetry request for the given mode.
// The pad answers with a PacketSensorTest packet echoing the mode byte.
func CmdSensorTest(mode SensorTestMode) []byte {
	return []byte{cmdSensorTest, byte(mode), '\n'}
}
