package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	hala "github.com/chanhlegend/hala-go"
	"github.com/spf13/cobra"
)

var (
	watchAutoAccept bool
	watchAutoReject bool
	watchVerbose    bool
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchAutoAccept, "auto-accept", false, "answer incoming calls automatically")
	watchCmd.Flags().BoolVar(&watchAutoReject, "auto-reject", false, "decline incoming calls automatically")
	watchCmd.Flags().BoolVarP(&watchVerbose, "verbose", "v", false, "log connection diagnostics")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stay connected and print realtime events",
	Long:  "Open the push channel and print notifications, messages and call events as they arrive. Ctrl-C ends any active call and disconnects cleanly.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		opts := &hala.SessionOptions{
			Realtime: &hala.RealtimeConfig{AutoReconnect: true},
		}
		if watchVerbose {
			opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		}
		sess, err := hala.NewSession(client, opts)
		if err != nil {
			return fmt.Errorf("failed to build session: %w", err)
		}

		sess.Inbox.OnAlert(func(a hala.Alert) {
			switch a.Kind {
			case "message":
				fmt.Printf("[%s] message from %s: %s\n", stamp(), a.Title, a.Body)
			default:
				fmt.Printf("[%s] %s\n", stamp(), a.Body)
			}
		})

		sess.Calls.OnPhaseChange(func(c hala.PhaseChange) {
			switch c.To {
			case hala.PhaseRingingReceiver:
				fmt.Printf("[%s] incoming %s call from %s\n", stamp(), c.Call.CallType, c.Call.PeerName)
			case hala.PhaseActive:
				fmt.Printf("[%s] call with %s is live\n", stamp(), c.Call.PeerName)
			case hala.PhaseIdle:
				if c.Reason != "" {
					fmt.Printf("[%s] call ended (%s)\n", stamp(), c.Reason)
				} else {
					fmt.Printf("[%s] call ended\n", stamp())
				}
			}

			if c.To == hala.PhaseRingingReceiver && (watchAutoAccept || watchAutoReject) {
				go func() {
					ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					if watchAutoAccept {
						_ = sess.Calls.Accept(ctx)
					} else {
						_ = sess.Calls.Reject(ctx)
					}
				}()
			}
		})

		sess.Realtime.OnConnected(func() {
			fmt.Printf("[%s] connected\n", stamp())
		})
		sess.Realtime.OnDisconnected(func(reason string) {
			fmt.Printf("[%s] disconnected: %s\n", stamp(), reason)
		})
		sess.Realtime.OnReconnecting(func(attempt int, delay time.Duration) {
			fmt.Printf("[%s] reconnecting (attempt %d, in %s)\n", stamp(), attempt, delay)
		})

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = sess.Start(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		defer sess.Close()

		fmt.Printf("Watching as %s. Press Ctrl-C to stop.\n", currentUserName())

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		fmt.Println("\nShutting down.")
		return nil
	},
}

func stamp() string {
	return time.Now().Format("15:04:05")
}

func currentUserName() string {
	cfg, err := loadConfig()
	if err != nil || cfg.Auth.UserName == "" {
		return "you"
	}
	return cfg.Auth.UserName
}
