package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/matheus3301/wabridge/internal/api"
	"github.com/matheus3301/wabridge/internal/status"
	"github.com/matheus3301/wabridge/internal/store"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captured() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	return cmd, &buf
}

func TestPrintStatusPendingQR(t *testing.T) {
	jsonOut = false
	cmd, buf := captured()

	err := printStatus(cmd, &api.StatusResponse{
		Account:  "main",
		Status:   status.Status{State: status.PendingQR, QRCode: "2@abc,def"},
		UptimeMs: 61_400,
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Account:  main")
	assert.Contains(t, out, "State:    PENDING_QR")
	assert.Contains(t, out, "Uptime:   1m1s")
	assert.Contains(t, out, "Linked devices")
	assert.Contains(t, out, "█", "QR should be drawn with block characters")
}

func TestPrintStatusJSON(t *testing.T) {
	jsonOut = true
	t.Cleanup(func() { jsonOut = false })
	cmd, buf := captured()

	err := printStatus(cmd, &api.StatusResponse{
		Account: "main",
		Status:  status.Status{State: status.Disconnected, Error: "logged out"},
	})
	require.NoError(t, err)

	var got api.StatusResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, status.Disconnected, got.Status.State)
	assert.Equal(t, "logged out", got.Status.Error)
}

func TestFormatMessageDirection(t *testing.T) {
	in := formatMessage(store.Message{Direction: store.DirectionIn, Body: "hi", Timestamp: 0})
	out := formatMessage(store.Message{Direction: store.DirectionOut, Body: "hello", Timestamp: 0})
	assert.True(t, strings.HasSuffix(in, "<- hi"), in)
	assert.True(t, strings.HasSuffix(out, "-> hello"), out)
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"init", "status", "logout", "send", "chats", "messages", "search", "watch"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}
