package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/matheus3301/wabridge/internal/api"
	"github.com/matheus3301/wabridge/internal/store"
	"github.com/spf13/cobra"
)

var (
	listLimit   int
	listOffset  int
	beforeTs    int64
	searchChat  string
	watchPrefix string
)

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(chatsCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(watchCmd)

	chatsCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum number of chats")
	chatsCmd.Flags().IntVar(&listOffset, "offset", 0, "chats to skip")
	messagesCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum number of messages")
	messagesCmd.Flags().Int64Var(&beforeTs, "before", 0, "only messages older than this unix ms timestamp")
	searchCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum number of results")
	searchCmd.Flags().StringVar(&searchChat, "chat", "", "restrict the search to one chat")
	watchCmd.Flags().StringVar(&watchPrefix, "kind", "", "only events whose kind starts with this prefix")
}

var sendCmd = &cobra.Command{
	Use:   "send <chat> <text>",
	Short: "Send a text message to a JID or phone number",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			resp, err := c.Send(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			if jsonOut {
				return outputJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %s to %s\n", resp.Message.MsgID, resp.Message.ChatJID)
			return nil
		})
	},
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List chats, most recently active first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			resp, err := c.ListChats(ctx, &api.ListChatsRequest{Limit: listLimit, Offset: listOffset})
			if err != nil {
				return err
			}
			if jsonOut {
				return outputJSON(cmd.OutOrStdout(), resp)
			}
			if len(resp.Chats) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No chats yet.")
				return nil
			}
			for _, ch := range resp.Chats {
				fmt.Fprintf(cmd.OutOrStdout(), "%-32s %-20s %4d  %s\n", ch.JID, ch.Name, ch.MessageCount, ch.LastMessagePreview)
			}
			return nil
		})
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <chat>",
	Short: "Show a chat's messages, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			resp, err := c.ListMessages(ctx, &api.ListMessagesRequest{ChatID: args[0], BeforeTs: beforeTs, Limit: listLimit})
			if err != nil {
				return err
			}
			if jsonOut {
				return outputJSON(cmd.OutOrStdout(), resp)
			}
			for _, m := range resp.Messages {
				fmt.Fprintln(cmd.OutOrStdout(), formatMessage(m))
			}
			if resp.HasMore && len(resp.Messages) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "(more: --before %d)\n", resp.Messages[len(resp.Messages)-1].Timestamp)
			}
			return nil
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search stored message bodies",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *api.Client) error {
			resp, err := c.SearchMessages(ctx, &api.SearchRequest{Query: strings.Join(args, " "), ChatID: searchChat, Limit: listLimit})
			if err != nil {
				return err
			}
			if jsonOut {
				return outputJSON(cmd.OutOrStdout(), resp)
			}
			for _, r := range resp.Results {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", r.Message.ChatJID, formatTime(r.Message.Timestamp), r.Snippet)
			}
			return nil
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream daemon events until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, _, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		events, err := c.Watch(cmd.Context(), watchPrefix)
		if err != nil {
			return err
		}
		for {
			evt, err := events.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if jsonOut {
				if err := outputJSON(cmd.OutOrStdout(), evt); err != nil {
					return err
				}
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-26s %s\n",
				formatTime(evt.OccurredAtUnixMs), evt.Kind, string(evt.Payload))
		}
	},
}

func formatMessage(m store.Message) string {
	arrow := "<-"
	if m.Direction == store.DirectionOut {
		arrow = "->"
	}
	return fmt.Sprintf("%s %s %s", formatTime(m.Timestamp), arrow, m.Body)
}

func formatTime(unixMs int64) string {
	return time.UnixMilli(unixMs).Local().Format("2006-01-02 15:04:05")
}
