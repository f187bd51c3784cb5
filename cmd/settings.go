// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 StageKit Labs

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagekit/padlink/pkg/settings"
	"github.com/stagekit/padlink/pkg/smx"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read or write the pad configuration as YAML",
	Long: `Read or write the human-editable pad configuration.

The editable subset — enabled panels, per-panel press/release thresholds,
and step colors — is exchanged as YAML. Firmware-internal fields of the
configuration record are read from the device first and preserved, so an
import is always a read-modify-write.`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the pad's current settings as YAML",
	RunE:  runSettingsShow,
}

var settingsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Apply settings from a YAML file to the pad",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsImport,
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsImportCmd)
	rootCmd.AddCommand(settingsCmd)
}

// connectTimeout bounds how long commands wait for the initial
// configuration round trip after opening the connection.
const connectTimeout = 5 * time.Second

func runSettingsShow(cmd *cobra.Command, args []string) error {
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

	cfg, ok := sess.dev.GetConfig()
	if !ok {
		return fmt.Errorf("no configuration available")
	}

	out, err := settings.Marshal(settings.FromConfig(cfg))
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func runSettingsImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	parsed, err := settings.Parse(data)
	if err != nil {
		return err
	}

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

	cfg, ok := sess.dev.GetConfig()
	if !ok {
		return fmt.Errorf("no configuration available")
	}
	if err := settings.Apply(parsed, &cfg); err != nil {
		return err
	}

	// Wait for the write's verifying readback before reporting success.
	updated := make(chan struct{}, 1)
	sess.dev.SetUpdateCallback(func(pad int, reason smx.UpdateReason) {
		if reason == smx.ReasonUpdated {
			select {
			case updated <- struct{}{}:
			default:
			}
		}
	})
	sess.dev.SetConfig(cfg)

	select {
	case <-updated:
		fmt.Println("Settings written and confirmed.")
		return nil
	case err := <-sess.errs:
		return fmt.Errorf("pad connection failed: %v", err)
	case <-time.After(connectTimeout):
		return fmt.Errorf("timed out waiting for the pad to confirm the write")
	}
}
