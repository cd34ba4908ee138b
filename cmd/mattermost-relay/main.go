// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command mattermost-relay relays messages between Matrix rooms and
// Mattermost channels through one bot account on each side. Bridges,
// masquerades and credentials are managed with its subcommands and stored
// in the relay database.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func NewRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "mattermost-relay",
		Short:         "A Matrix-Mattermost message relay",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Tag, Commit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the config file")

	cmd.AddCommand(
		newServeCommand(&configPath),
		newBridgeCommand(&configPath),
		newMasqueradeCommand(&configPath),
		newSettingsCommand(&configPath),
		newLogsCommand(&configPath),
		newReloadCommand(&configPath),
	)
	return cmd
}

func main() {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
