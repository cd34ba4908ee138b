// Copyright 2024-2026 Aiku AI

package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aiku/mattermost-relay/pkg/database"
	"github.com/aiku/mattermost-relay/pkg/relay"
)

// parsePlatform accepts a platform name or "" for both platforms.
func parsePlatform(s string) (relay.Platform, error) {
	switch p := relay.Platform(s); p {
	case "", relay.PlatformMatrix, relay.PlatformMattermost:
		return p, nil
	default:
		return "", fmt.Errorf("unknown platform %q, expected %s or %s", s, relay.PlatformMatrix, relay.PlatformMattermost)
	}
}

func newMasqueradeCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "masquerade",
		Aliases: []string{"m"},
		Short:   "Manage per-user name and avatar overrides",
	}

	var platform, name, avatar string
	set := &cobra.Command{
		Use:   "set <bridge-id> <user-id>",
		Short: "Relay a user's messages under another name and avatar",
		Long: "Relay the messages of a source-platform user through a bridge under another name, optionally with an avatar.\n" +
			"Without --platform the override applies to a user ID on either side.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePlatform(platform)
			if err != nil {
				return err
			}
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("--name must not be empty")
			}
			return withBridge(cmd, *configPath, args[0], func(a *app, b *database.Bridge) error {
				m := &database.Masquerade{Masquerade: relay.Masquerade{
					BridgeID:  b.ID,
					Platform:  p,
					UserID:    args[1],
					Username:  name,
					AvatarURL: avatar,
				}}
				if err := a.db.Masquerade.Put(cmd.Context(), m); err != nil {
					return fmt.Errorf("failed to save masquerade: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Masquerade for %s on bridge %d saved\n", args[1], b.ID)
				return nil
			})
		},
	}
	set.Flags().StringVar(&platform, "platform", "", "Source platform of the user (matrix or mattermost)")
	set.Flags().StringVar(&name, "name", "", "Display name to relay under")
	set.Flags().StringVar(&avatar, "avatar", "", "Avatar URL to relay with")
	_ = set.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list [bridge-id]",
		Short: "List masquerades",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, func(a *app) error {
				var rows []*database.Masquerade
				var err error
				if len(args) == 1 {
					bridgeID, perr := parseID(args[0])
					if perr != nil {
						return perr
					}
					rows, err = a.db.Masquerade.GetForBridge(cmd.Context(), bridgeID)
				} else {
					rows, err = a.db.Masquerade.GetAll(cmd.Context())
				}
				if err != nil {
					return fmt.Errorf("failed to get masquerades: %w", err)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "BRIDGE\tPLATFORM\tUSER\tNAME\tAVATAR")
				for _, m := range rows {
					p := string(m.Platform)
					if p == "" {
						p = "any"
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", m.BridgeID, p, m.UserID, m.Username, m.AvatarURL)
				}
				return w.Flush()
			})
		},
	}

	var removePlatform string
	remove := &cobra.Command{
		Use:   "remove <bridge-id> <user-id>",
		Short: "Delete a masquerade",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePlatform(removePlatform)
			if err != nil {
				return err
			}
			bridgeID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), *configPath, func(a *app) error {
				if err := a.db.Masquerade.Delete(cmd.Context(), bridgeID, p, args[1]); err != nil {
					return fmt.Errorf("failed to delete masquerade: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Masquerade for %s on bridge %d removed\n", args[1], bridgeID)
				return nil
			})
		},
	}
	remove.Flags().StringVar(&removePlatform, "platform", "", "Source platform the masquerade was set for")

	cmd.AddCommand(set, list, remove)
	return cmd
}
