package main

import (
	"fmt"
	"os"

	hala "github.com/chanhlegend/hala-go"
)

// getClient creates a Hala client authenticated with the stored session.
// Rotated tokens are written back to the config so the next invocation keeps
// the refreshed session.
func getClient() *hala.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.AccessToken == "" {
		fmt.Fprintln(os.Stderr, "Not signed in. Run 'hala login' first.")
		os.Exit(1)
	}

	var opts []hala.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, hala.WithBaseURL(cfg.Default.BaseURL))
	}

	client := hala.NewClient(cfg.Auth.AccessToken, opts...)
	client.SetTokens(cfg.Auth.AccessToken, cfg.Auth.RefreshToken)
	client.OnTokenRotated(func(accessToken string) {
		latest, err := loadConfig()
		if err != nil {
			return
		}
		latest.Auth.AccessToken = accessToken
		_ = saveConfig(latest)
	})
	return client
}

// getAnonClient creates an unauthenticated Hala client (login, register).
func getAnonClient() *hala.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	var opts []hala.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, hala.WithBaseURL(cfg.Default.BaseURL))
	}
	return hala.NewClient("", opts...)
}
