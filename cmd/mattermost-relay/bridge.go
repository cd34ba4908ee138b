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

func newBridgeCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "bridge",
		Aliases: []string{"b"},
		Short:   "Manage room-channel bridges",
	}

	var disabled bool
	add := &cobra.Command{
		Use:   "add <matrix-room-id> <mattermost-channel-id>",
		Short: "Bridge a Matrix room with a Mattermost channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !strings.HasPrefix(args[0], "!") {
				return fmt.Errorf("%q is not a Matrix room ID", args[0])
			}
			return withApp(cmd.Context(), *configPath, func(a *app) error {
				b := &database.Bridge{Bridge: relay.Bridge{
					MatrixRoomID:        args[0],
					MattermostChannelID: args[1],
					Enabled:             !disabled,
				}}
				if err := a.db.Bridge.Insert(cmd.Context(), b); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created bridge %d\n", b.ID)
				return nil
			})
		},
	}
	add.Flags().BoolVar(&disabled, "disabled", false, "Create the bridge disabled")

	list := &cobra.Command{
		Use:   "list",
		Short: "List bridges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), *configPath, func(a *app) error {
				bridges, err := a.db.Bridge.GetAll(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tMATRIX ROOM\tMATTERMOST CHANNEL\tENABLED\tCREATED")
				for _, b := range bridges {
					fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\n",
						b.ID, b.MatrixRoomID, b.MattermostChannelID, b.Enabled, b.CreatedAt.UTC().Format("2006-01-02 15:04"))
				}
				return w.Flush()
			})
		},
	}

	cmd.AddCommand(
		add,
		list,
		newSetEnabledCommand(configPath, "enable", true),
		newSetEnabledCommand(configPath, "disable", false),
		&cobra.Command{
			Use:   "remove <bridge-id>",
			Short: "Delete a bridge with its masquerades",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withBridge(cmd, *configPath, args[0], func(a *app, b *database.Bridge) error {
					if err := a.db.Bridge.Delete(cmd.Context(), b.ID); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Removed bridge %d\n", b.ID)
					return nil
				})
			},
		},
	)
	return cmd
}

func newSetEnabledCommand(configPath *string, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <bridge-id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a bridge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBridge(cmd, *configPath, args[0], func(a *app, b *database.Bridge) error {
				if err := a.db.Bridge.SetEnabled(cmd.Context(), b.ID, enabled); err != nil {
					return fmt.Errorf("failed to %s bridge %d: %w", verb, b.ID, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Bridge %d %sd\n", b.ID, verb)
				return nil
			})
		},
	}
}

// withBridge loads the bridge with id rawID and passes it to fn.
func withBridge(cmd *cobra.Command, configPath, rawID string, fn func(a *app, b *database.Bridge) error) error {
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), configPath, func(a *app) error {
		b, err := a.db.Bridge.GetByID(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("failed to get bridge %d: %w", id, err)
		} else if b == nil {
			return fmt.Errorf("bridge %d not found", id)
		}
		return fn(a, b)
	})
}
