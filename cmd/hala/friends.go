package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(friendsCmd)
	friendsCmd.AddCommand(friendsListCmd)
	friendsCmd.AddCommand(friendsRequestsCmd)
	friendsCmd.AddCommand(friendsAddCmd)
	friendsCmd.AddCommand(friendsAcceptCmd)
	friendsCmd.AddCommand(friendsSearchCmd)
}

var friendsCmd = &cobra.Command{
	Use:   "friends",
	Short: "Manage friends and friend requests",
}

var friendsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your friends",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		friends, err := client.Friends.List(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if len(friends) == 0 {
			fmt.Println("No friends yet.")
			return nil
		}
		for _, f := range friends {
			fmt.Printf("%-24s  %-30s  %s\n", f.ID, f.Name, f.Email)
		}
		return nil
	},
}

var friendsRequestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "List pending friend requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		reqs, err := client.Friends.Requests(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if len(reqs) == 0 {
			fmt.Println("No pending requests.")
			return nil
		}
		for _, r := range reqs {
			fmt.Printf("%-24s  from %s (%s)\n", r.ID, r.Sender.Name, r.Sender.Email)
		}
		return nil
	},
}

var friendsAddCmd = &cobra.Command{
	Use:   "add <user-id>",
	Short: "Send a friend request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.Friends.SendRequest(ctx, args[0]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Println("Friend request sent.")
		return nil
	},
}

var friendsAcceptCmd = &cobra.Command{
	Use:   "accept <request-id>",
	Short: "Accept a friend request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.Friends.AcceptRequest(ctx, args[0]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Println("Friend request accepted.")
		return nil
	},
}

var friendsSearchCmd = &cobra.Command{
	Use:   "search <email>",
	Short: "Search users by email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		users, err := client.Friends.Search(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if len(users) == 0 {
			fmt.Println("No matches.")
			return nil
		}
		for _, u := range users {
			fmt.Printf("%-24s  %-30s  %s\n", u.ID, u.Name, u.Email)
		}
		return nil
	},
}
