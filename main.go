// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 StageKit Labs
//
// Padlink - host-side session tool for StageKit stage controllers.

package main

import (
	"os"

	"github.com/stagekit/padlink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
