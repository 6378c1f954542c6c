// Package main implements wabridgectl, the command-line client of a running
// wabridged daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/wabridge/internal/account"
	"github.com/matheus3301/wabridge/internal/api"
	"github.com/spf13/cobra"
)

var (
	// accountName selects the daemon; empty resolves through config.toml.
	accountName string
	jsonOut     bool
	timeout     time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "wabridgectl",
	Short: "Control a running wabridged daemon",
	Long: `wabridgectl talks to the wabridged daemon of one account over its Unix socket.

Examples:
  # Pair the account (prints a QR code to scan from the phone)
  wabridgectl init --wait

  # Send a message to a phone number
  wabridgectl send "+55 11 99999-0000" "hello"

  # Follow daemon events
  wabridgectl watch`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&accountName, "account", "", "account name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "per-request timeout")
}

// connect resolves the account and dials its daemon.
func connect() (*api.Client, string, error) {
	name := account.Resolve(accountName)
	if err := account.ValidateName(name); err != nil {
		return nil, "", err
	}
	c, err := api.Dial(account.SocketPath(name))
	if err != nil {
		return nil, "", fmt.Errorf("cannot connect to daemon for account %q: %w", name, err)
	}
	return c, name, nil
}

// withClient runs fn with a connected client and a request deadline.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *api.Client) error) error {
	c, _, err := connect()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	return fn(ctx, c)
}
