package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/matheus3301/wabridge/internal/api"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

func printStatus(cmd *cobra.Command, resp *api.StatusResponse) error {
	out := cmd.OutOrStdout()
	if jsonOut {
		return outputJSON(out, resp)
	}
	fmt.Fprintf(out, "Account:  %s\n", resp.Account)
	fmt.Fprintf(out, "State:    %s\n", resp.Status.State)
	if resp.Status.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", resp.Status.Error)
	}
	fmt.Fprintf(out, "Chats:    %d\n", resp.ChatCount)
	fmt.Fprintf(out, "Messages: %d\n", resp.MessageCount)
	fmt.Fprintf(out, "Uptime:   %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
	if resp.Status.QRCode != "" {
		fmt.Fprintln(out, "\nScan with WhatsApp > Linked devices:")
		return printQR(out, resp.Status.QRCode)
	}
	return nil
}

// printQR renders the challenge with half-height block characters.
func printQR(w io.Writer, code string) error {
	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("render QR: %w", err)
	}
	_, err = fmt.Fprint(w, qr.ToSmallString(false))
	return err
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
