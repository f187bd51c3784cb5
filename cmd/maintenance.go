// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 StageKit Labs

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagekit/padlink/pkg/smx"
)

var factoryResetCmd = &cobra.Command{
	Use:   "factory-reset",
	Short: "Restore the pad's default configuration",
	Long: `Restore the pad's factory default configuration.

The command waits for the pad to confirm the reset by reading the new
configuration record back before exiting.`,
	RunE: runFactoryReset,
}

var recalibrateCmd = &cobra.Command{
	Use:   "recalibrate",
	Short: "Force the pad to re-tare its sensors",
	Long: `Force a sensor recalibration.

Step off the pad before running this: the pad tares its load sensors
against whatever weight is on them at the time.`,
	RunE: runRecalibrate,
}

func init() {
	rootCmd.AddCommand(factoryResetCmd)
	rootCmd.AddCommand(recalibrateCmd)
}

func runFactoryReset(cmd *cobra.Command, args []string) error {
	conn, _, err := OpenConnection()
	if err != nil {
		return err
	}

	sess, err := startSession(conn)
	if err != nil {
		conn.Close()
		return err
	}
	defer sess.Close()

	if err := sess.waitConnected(connectTimeout); err != nil {
		return err
	}

	done := make(chan struct{}, 1)
	sess.dev.SetUpdateCallback(func(pad int, reason smx.UpdateReason) {
		if reason == smx.ReasonFactoryResetComplete {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})
	sess.dev.FactoryReset()

	select {
	case <-done:
		fmt.Println("Factory reset complete.")
		return nil
	case err := <-sess.errs:
		return fmt.Errorf("pad connection failed: %v", err)
	case <-time.After(connectTimeout):
		return fmt.Errorf("timed out waiting for the factory reset to complete")
	}
}

func runRecalibrate(cmd *cobra.Command, args []string) error {
	conn, _, err := OpenConnection()
	if err != nil {
		return err
	}

	sess, err := startSession(conn)
	if err != nil {
		conn.Close()
		return err
	}
	defer sess.Close()

	if err := sess.waitConnected(connectTimeout); err != nil {
		return err
	}

	sess.dev.ForceRecalibration()

	// Fire-and-forget on the wire; give the pump a moment to flush it.
	time.Sleep(5 * pumpInterval)
	fmt.Println("Recalibration requested.")
	return nil
}
