// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 StageKit Labs

package smx

import "fmt"

// SensorTestData is the decoded result of one sensor telemetry response.
// The whole structure is rewritten on every accepted response; panels whose
// record failed validation keep their zero value with HavePanelData false.
type SensorTestData struct {
	HavePanelData [PanelCount]bool
	SensorLevel   [PanelCount][SensorsPerPanel]int16
	BadSensor     [PanelCount][SensorsPerPanel]bool
	DIPSwitch     [PanelCount]uint8
}

// panelRecordSize is the decoded per-panel record length in bytes:
// 1 header/flag byte, four LE int16 sensor readings, 1 DIP byte.
const panelRecordSize = 1 + SensorsPerPanel*2 + 1

// parseSensorTestPacket splits a PacketSensorTest packet into the echoed
// mode byte and the 16-bit word stream. Packet layout: tag, mode, word
// count, then wordCount little-endian uint16 words.
func parseSensorTestPacket(buf []byte) (SensorTestMode, []uint16, error) {
	if len(buf) < 3 {
		return SensorTestOff, nil, fmt.Errorf("sensor test packet too short: %d bytes", len(buf))
	}
	count := int(buf[2])
	if len(buf) < 3+count*2 {
		return SensorTestOff, nil, fmt.Errorf("sensor test packet truncated: want %d words, have %d bytes", count, len(buf)-3)
	}
	words := make([]uint16, count)
	for i := range words {
		words[i] = uint16(buf[3+i*2]) | uint16(buf[3+i*2+1])<<8
	}
	return SensorTestMode(buf[1]), words, nil
}

// readPanelData reconstructs one panel's record from the shared word
// stream. Word i carries panel p's next bit at bit position p, so all nine
// panels decode from the same words in lockstep. Bits are accumulated
// LSB-first into each output byte; bits past the end of the stream read
// as zero.
func readPanelData(words []uint16, panel int) [panelRecordSize]byte {
	var out [panelRecordSize]byte
	cursor := 0
	for i := range out {
		var b byte
		for j := 0; j < 8; j++ {
			if cursor < len(words) {
				if words[cursor]&(1<<panel) != 0 {
					b |= 1 << j
				}
				cursor++
			}
		}
		out[i] = b
	}
	return out
}

// decodeSensorTestWords decodes every panel's record from the word stream.
// A panel whose header bits are not 0,1,0 is not a protocol error — the
// panel simply has no valid data this cycle, which happens when a player
// is standing on it.
func decodeSensorTestWords(words []uint16) SensorTestData {
	var data SensorTestData
	for panel := 0; panel < PanelCount; panel++ {
		rec := readPanelData(words, panel)

		// Header bits identify the record as a telemetry response rather
		// than step noise: always 0, 1, 0.
		if rec[0]&1 != 0 || rec[0]&2 == 0 || rec[0]&4 != 0 {
			continue
		}
		data.HavePanelData[panel] = true

		for sensor := 0; sensor < SensorsPerPanel; sensor++ {
			data.BadSensor[panel][sensor] = rec[0]&(1<<(3+sensor)) != 0
			data.SensorLevel[panel][sensor] = int16(uint16(rec[1+sensor*2]) | uint16(rec[2+sensor*2])<<8)
		}
		data.DIPSwitch[panel] = rec[panelRecordSize-1] & 0x0F
	}
	return data
}
