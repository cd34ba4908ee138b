// Copyright 2024-2026 Aiku AI

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aiku/mattermost-relay/pkg/config"
	"github.com/aiku/mattermost-relay/pkg/relay/adminapi"
)

func newReloadCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Make a running relay reconnect with the stored settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath, false)
			if err != nil {
				return err
			}
			if !cfg.Admin.Enabled {
				return fmt.Errorf("the admin API is disabled in the config")
			}
			resp, err := requestReload(cmd.Context(), cfg.Admin)
			if err != nil {
				return err
			}
			if resp.Running {
				fmt.Fprintln(cmd.OutOrStdout(), "Relay reloaded and running")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Relay reloaded but not running, see `logs --level error`")
			}
			return nil
		},
	}
}

func adminURL(listen, path string) string {
	if strings.HasPrefix(listen, ":") {
		listen = "127.0.0.1" + listen
	}
	return "http://" + listen + path
}

func requestReload(ctx context.Context, cfg config.AdminConfig) (*adminapi.ReloadResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, adminURL(cfg.Listen, "/api/reload"), nil)
	if err != nil {
		return nil, err
	}
	if cfg.SharedSecret != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.SharedSecret)
	}
	httpResp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach the admin API: %w", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("admin API returned HTTP %d", httpResp.StatusCode)
	}
	var resp adminapi.ReloadResponse
	if err = json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode reload response: %w", err)
	}
	return &resp, nil
}
