package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	feedPage  int
	feedLimit int
)

func init() {
	rootCmd.AddCommand(feedCmd)
	rootCmd.AddCommand(postCmd)
	feedCmd.Flags().IntVar(&feedPage, "page", 1, "feed page")
	feedCmd.Flags().IntVarP(&feedLimit, "limit", "l", 10, "posts per page")
}

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Show the post feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		page, err := client.Posts.List(ctx, feedPage, feedLimit)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if len(page.Posts) == 0 {
			fmt.Println("The feed is empty.")
			return nil
		}
		for _, p := range page.Posts {
			fmt.Printf("%s  %s\n", p.Author.Name, p.CreatedAt)
			fmt.Printf("  %s\n", strings.ReplaceAll(p.Content, "\n", "\n  "))
			fmt.Printf("  %d likes, %d comments  (%s)\n\n", p.LikesCount, p.CommentsCount, p.ID)
		}
		fmt.Printf("Page %d of %d\n", page.Page, page.TotalPages)
		return nil
	},
}

var postCmd = &cobra.Command{
	Use:   "post <content>",
	Short: "Publish a post",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		result, err := client.Posts.Create(ctx, strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Printf("Posted (%s)\n", result.Post.ID)
		return nil
	},
}
