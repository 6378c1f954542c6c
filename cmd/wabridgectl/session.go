package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/matheus3301/wabridge/internal/api"
	"github.com/matheus3301/wabridge/internal/bus"
	"github.com/matheus3301/wabridge/internal/status"
	"github.com/spf13/cobra"
)

var waitConnected bool

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logoutCmd)

	initCmd.Flags().BoolVar(&waitConnected, "wait", false, "keep running until the phone completes pairing")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Connect the account, pairing it by QR code if needed",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the connection status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			resp, err := c.Status(ctx)
			if err != nil {
				return err
			}
			return printStatus(cmd, resp)
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Unlink this device and forget its credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			resp, err := c.Logout(ctx)
			if err != nil {
				return err
			}
			if err := printStatus(cmd, resp); err != nil {
				return err
			}
			if resp.Status.Error != "" {
				return fmt.Errorf("logout: %s", resp.Status.Error)
			}
			return nil
		})
	},
}

func runInit(cmd *cobra.Command, _ []string) error {
	c, _, err := connect()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	// Subscribe before Init so no rotation between the two calls is missed.
	watchCtx, stopWatch := context.WithCancel(cmd.Context())
	defer stopWatch()
	var events *api.WatchClient
	if waitConnected && !jsonOut {
		if events, err = c.Watch(watchCtx, bus.KindStatusChanged); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	resp, err := c.Init(ctx)
	if err != nil {
		return err
	}
	if err := printStatus(cmd, resp); err != nil {
		return err
	}
	if resp.Status.Error != "" {
		return fmt.Errorf("init: %s", resp.Status.Error)
	}
	if events == nil || resp.Status.State == status.Connected {
		return nil
	}
	return waitForPairing(cmd, events)
}

// waitForPairing redraws rotated QR codes until the session connects or fails.
func waitForPairing(cmd *cobra.Command, events *api.WatchClient) error {
	for {
		evt, err := events.Recv()
		if err != nil {
			return err
		}
		var change status.StatusChange
		if err := json.Unmarshal(evt.Payload, &change); err != nil {
			continue
		}
		switch change.Status.State {
		case status.PendingQR:
			fmt.Fprintln(cmd.OutOrStdout(), "QR code rotated:")
			if err := printQR(cmd.OutOrStdout(), change.Status.QRCode); err != nil {
				return err
			}
		case status.Connected:
			fmt.Fprintln(cmd.OutOrStdout(), "Connected.")
			return nil
		case status.Disconnected:
			return fmt.Errorf("pairing failed: %s", change.Status.Error)
		}
	}
}
