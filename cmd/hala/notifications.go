package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var notificationsLimit int

func init() {
	rootCmd.AddCommand(notificationsCmd)
	notificationsCmd.AddCommand(notificationsListCmd)
	notificationsCmd.AddCommand(notificationsReadCmd)
	notificationsListCmd.Flags().IntVarP(&notificationsLimit, "limit", "l", 20, "maximum notifications to show")
}

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"notif"},
	Short:   "View and manage notifications",
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent notifications, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		page, err := client.Notifications.List(ctx, notificationsLimit, 0)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if len(page.Notifications) == 0 {
			fmt.Println("No notifications.")
			return nil
		}
		for _, n := range page.Notifications {
			mark := " "
			if !n.IsRead {
				mark = "*"
			}
			fmt.Printf("%s %-24s  [%s] %s\n", mark, n.ID, n.Type, n.Message)
		}
		if page.HasMore {
			fmt.Printf("(%d total, showing %d)\n", page.Total, len(page.Notifications))
		}
		return nil
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read [notification-id]",
	Short: "Mark one notification read, or all when no id is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if len(args) == 1 {
			if err := client.Notifications.MarkRead(ctx, args[0]); err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			fmt.Println("Marked read.")
			return nil
		}
		if err := client.Notifications.MarkAllRead(ctx); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Println("All notifications marked read.")
		return nil
	},
}
