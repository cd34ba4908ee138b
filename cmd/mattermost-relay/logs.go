// Copyright 2024-2026 Aiku AI

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aiku/mattermost-relay/pkg/relay"
)

func newLogsCommand(configPath *string) *cobra.Command {
	var level string
	var limit int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent relay log records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var lvl relay.LogLevel
			if level != "" {
				var ok bool
				if lvl, ok = relay.ParseLogLevel(level); !ok {
					return fmt.Errorf("invalid level %q, expected info, warn or error", level)
				}
			}
			return withApp(cmd.Context(), *configPath, func(a *app) error {
				records, err := a.store().RecentLogs(cmd.Context(), lvl, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, r := range records {
					line := fmt.Sprintf("%s %-5s %s", r.Timestamp.Local().Format("2006-01-02 15:04:05"), strings.ToUpper(string(r.Level)), r.Message)
					if len(r.Metadata) > 0 {
						meta, _ := json.Marshal(r.Metadata)
						line += " " + string(meta)
					}
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&level, "level", "l", "", "Only show records of this level")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of records")
	return cmd
}
