// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 StageKit Labs

package smx

import (
	"bytes"
	"testing"
)

func TestCommandBuilders_ArgumentLess(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want []byte
	}{
		{"panel reset", CmdPanelReset(), []byte("R\n")},
		{"read config", CmdReadConfig(), []byte("g\n")},
		{"factory reset", CmdFactoryReset(), []byte("f\n")},
		{"force recalibration", CmdForceRecalibration(), []byte("C\n")},
		{"sensor test", CmdSensorTest(SensorTestNoise), []byte("y2\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !bytes.Equal(tt.got, tt.want) {
				t.Errorf("bytes = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestCmdWriteConfig(t *testing.T) {
	var cfg Config
	cfg[0] = 0xAB
	cfg[ConfigSize-1] = 0xCD

	cmd := CmdWriteConfig(cfg)
	if len(cmd) != 2+ConfigSize {
		t.Fatalf("length = %d, want %d", len(cmd), 2+ConfigSize)
	}
	if cmd[0] != 'w' {
		t.Errorf("tag = %q, want 'w'", cmd[0])
	}
	if cmd[1] != byte(ConfigSize) {
		t.Errorf("declared length = %d, want %d", cmd[1], ConfigSize)
	}
	if cmd[2] != 0xAB || cmd[len(cmd)-1] != 0xCD {
		t.Error("record bytes not carried verbatim")
	}
}
