package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var msgHistoryLimit int

func init() {
	rootCmd.AddCommand(msgCmd)
	msgCmd.AddCommand(msgListCmd)
	msgCmd.AddCommand(msgHistoryCmd)
	msgCmd.AddCommand(msgSendCmd)
	msgHistoryCmd.Flags().IntVarP(&msgHistoryLimit, "limit", "l", 20, "messages to show")
}

var msgCmd = &cobra.Command{
	Use:   "msg",
	Short: "Conversations and chat messages",
}

var msgListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		convs, err := client.Messages.Conversations(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if len(convs) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		for _, c := range convs {
			name := "(unknown)"
			if c.Participant != nil {
				name = c.Participant.Name
			}
			unread := ""
			if c.UnreadCount > 0 {
				unread = fmt.Sprintf(" [%d unread]", c.UnreadCount)
			}
			fmt.Printf("%-24s  %-20s  %s%s\n", c.ID, name, c.LastMessage, unread)
		}
		return nil
	},
}

var msgHistoryCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Show recent messages in a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		msgs, err := client.Messages.List(ctx, args[0], 1, msgHistoryLimit)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		for _, m := range msgs {
			fmt.Printf("%s  %s: %s\n", m.CreatedAt, m.Sender.Name, m.Content)
		}
		if err := client.Messages.MarkAsRead(ctx, args[0]); err != nil {
			return fmt.Errorf("mark-as-read failed: %w", err)
		}
		return nil
	},
}

var msgSendCmd = &cobra.Command{
	Use:   "send <user-id> <text>",
	Short: "Send a message to a user",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		conv, err := client.Messages.GetOrCreateConversation(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		msg, err := client.Messages.Send(ctx, conv.ID, strings.Join(args[1:], " "), nil)
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
		fmt.Printf("Sent (%s)\n", msg.ID)
		return nil
	},
}
