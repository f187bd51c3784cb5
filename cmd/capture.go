// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 StageKit Labs

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"

	"github.com/stagekit/padlink/pkg/smx"
	"github.com/stagekit/padlink/pkg/smx/link"
)

var (
	captureOut        string
	captureSensorTest bool
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Record inbound pad packets to a CBOR log",
	Long: `Record every inbound packet to a CBOR stream for offline analysis.

Each record is a CBOR map {t, tag, data}: receive time in unix
milliseconds, the packet's leading tag byte, and the raw packet bytes.
A configuration readback is requested at startup; --sensor-test
additionally polls calibrated sensor telemetry while capturing.

Press Ctrl+C to stop.`,
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().StringVarP(&captureOut, "out", "o", "padlink.cbor", "Output file")
	captureCmd.Flags().BoolVar(&captureSensorTest, "sensor-test", false, "Poll sensor telemetry while capturing")
	rootCmd.AddCommand(captureCmd)
}

// captureRecord is one logged packet.
type captureRecord struct {
	Time int64  `cbor:"t"`
	Tag  byte   `cbor:"tag"`
	Data []byte `cbor:"data"`
}

func runCapture(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	f, err := os.Create(captureOut)
	if err != nil {
		return err
	}
	defer f.Close()

	// Capture drives the transport directly: the session layer consumes
	// packets destructively, and here we want them verbatim.
	stream := link.NewStream(nil)
	if err := stream.Open(conn); err != nil {
		return err
	}
	defer stream.Close()

	stream.SendRaw(smx.CmdReadConfig(), nil)

	fmt.Printf("Padlink - Packet Capture\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Writing to: %s\n", captureOut)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	enc := cbor.NewEncoder(f)
	ticker := time.NewTicker(pumpInterval)
	defer ticker.Stop()
	poll := time.NewTicker(100 * time.Millisecond)
	defer poll.Stop()

	packets := 0
	for {
		select {
		case <-interrupt:
			fmt.Printf("\nCaptured %d packets.\n", packets)
			return nil

		case <-poll.C:
			if captureSensorTest {
				stream.SendRaw(smx.CmdSensorTest(smx.SensorTestCalibratedValues), nil)
			}

		case <-ticker.C:
			if err := stream.PumpIO(); err != nil {
				fmt.Printf("\nCaptured %d packets.\n", packets)
				return fmt.Errorf("connection lost: %v", err)
			}
			for {
				pkt := stream.PollIncoming()
				if pkt == nil {
					break
				}
				rec := captureRecord{Time: time.Now().UnixMilli(), Data: pkt}
				if len(pkt) > 0 {
					rec.Tag = pkt[0]
				}
				if err := enc.Encode(rec); err != nil {
					return fmt.Errorf("write capture record: %v", err)
				}
				packets++
			}
		}
	}
}
