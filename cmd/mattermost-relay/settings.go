// Copyright 2024-2026 Aiku AI

package main

import (
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aiku/mattermost-relay/pkg/database"
)

// maskSecret hides all but the start of a token.
func maskSecret(value string) string {
	switch {
	case value == "":
		return ""
	case len(value) <= 8:
		return "****"
	default:
		return value[:4] + strings.Repeat("*", 8)
	}
}

func isSecret(key string) bool {
	return strings.HasSuffix(key, "_token")
}

func newSettingsCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage stored credentials and endpoints",
		Long: "Manage the credentials and endpoints stored in the database.\n" +
			"Stored values take precedence over the config file. Run `reload` to apply changes to a running relay.\n" +
			"Keys: " + strings.Join(database.KnownSettings, ", "),
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a setting, an empty value removes it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(database.KnownSettings, args[0]) {
				return fmt.Errorf("unknown setting %q, expected one of %s", args[0], strings.Join(database.KnownSettings, ", "))
			}
			return withApp(cmd.Context(), *configPath, func(a *app) error {
				if err := a.db.Settings.Set(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Setting %s saved\n", args[0])
				return nil
			})
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), *configPath, func(a *app) error {
				stored, err := a.db.Settings.GetAll(cmd.Context())
				if err != nil {
					return err
				}
				defaults := a.cfg.DefaultSettings()
				fromConfig := map[string]string{
					database.SettingMatrixHomeserver:    defaults.MatrixHomeserver,
					database.SettingMatrixToken:         defaults.MatrixToken,
					database.SettingMattermostServerURL: defaults.MattermostServerURL,
					database.SettingMattermostToken:     defaults.MattermostToken,
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "KEY\tVALUE\tSOURCE")
				for _, key := range database.KnownSettings {
					value, source := stored[key], "database"
					if value == "" {
						value, source = fromConfig[key], "config"
					}
					if value == "" {
						source = "unset"
					}
					if isSecret(key) {
						value = maskSecret(value)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", key, value, source)
				}
				return w.Flush()
			})
		},
	}

	cmd.AddCommand(set, show)
	return cmd
}
