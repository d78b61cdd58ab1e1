package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	hala "github.com/chanhlegend/hala-go"
	"github.com/spf13/cobra"
)

var callAudioOnly bool

func init() {
	rootCmd.AddCommand(callCmd)
	callCmd.Flags().BoolVar(&callAudioOnly, "audio", false, "place an audio-only call")
}

var callCmd = &cobra.Command{
	Use:   "call <user-id>",
	Short: "Call another user",
	Long:  "Ring another user and keep the call up until either side hangs up. Ctrl-C cancels the ring or ends the call.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		peerID := args[0]
		client := getClient()

		sess, err := hala.NewSession(client, &hala.SessionOptions{
			Realtime: &hala.RealtimeConfig{AutoReconnect: true},
		})
		if err != nil {
			return fmt.Errorf("failed to build session: %w", err)
		}

		done := make(chan string, 1)
		sess.Calls.OnPhaseChange(func(c hala.PhaseChange) {
			switch c.To {
			case hala.PhaseActive:
				fmt.Printf("%s answered, call is live\n", c.Call.PeerName)
			case hala.PhaseIdle:
				reason := c.Reason
				if reason == "" {
					reason = "ended"
				}
				select {
				case done <- reason:
				default:
				}
			}
		})

		startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = sess.Start(startCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		defer sess.Close()

		callType := "video"
		if callAudioOnly {
			callType = "audio"
		}
		initCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err = sess.Calls.Initiate(initCtx, peerID, callType)
		cancel()
		if err != nil {
			return fmt.Errorf("call failed: %w", err)
		}
		fmt.Printf("Ringing %s...\n", peerID)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

		select {
		case reason := <-done:
			fmt.Printf("Call over: %s\n", reason)
		case <-sig:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if sess.Calls.Phase() == hala.PhaseRingingCaller {
				_ = sess.Calls.Cancel(ctx)
				fmt.Println("\nCall cancelled.")
			} else {
				_ = sess.Calls.End(ctx)
				fmt.Println("\nCall ended.")
			}
		}
		return nil
	},
}
