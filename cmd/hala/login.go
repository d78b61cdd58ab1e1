package main

import (
	"context"
	"fmt"
	"time"

	hala "github.com/chanhlegend/hala-go"
	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string

	registerName     string
	registerEmail    string
	registerPassword string
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(verifyCmd)

	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "account email (required)")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "account password (required)")
	loginCmd.MarkFlagRequired("email")
	loginCmd.MarkFlagRequired("password")

	registerCmd.Flags().StringVarP(&registerName, "name", "n", "", "display name (required)")
	registerCmd.Flags().StringVarP(&registerEmail, "email", "e", "", "account email (required)")
	registerCmd.Flags().StringVarP(&registerPassword, "password", "p", "", "account password (required)")
	registerCmd.MarkFlagRequired("name")
	registerCmd.MarkFlagRequired("email")
	registerCmd.MarkFlagRequired("password")
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session in ~/.hala/config.toml",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getAnonClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.Auth.Login(ctx, &hala.LoginOptions{Email: loginEmail, Password: loginPassword})
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Auth.AccessToken = result.AccessToken
		cfg.Auth.RefreshToken = result.RefreshToken
		if result.User != nil {
			cfg.Auth.UserID = result.User.ID
			cfg.Auth.UserName = result.User.Name
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		if result.User != nil {
			fmt.Printf("Signed in as %s (%s)\n", result.User.Name, result.User.Email)
		} else {
			fmt.Println("Signed in.")
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Auth.AccessToken != "" {
			client := getClient()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			// Server-side revocation is best effort; the local session is
			// cleared either way.
			_ = client.Auth.Logout(ctx)
		}

		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Println("Signed out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		profile, err := client.Users.Profile(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Name:   %s\n", profile.Name)
		fmt.Printf("Email:  %s\n", profile.Email)
		if profile.Bio != "" {
			fmt.Printf("Bio:    %s\n", profile.Bio)
		}
		if !client.TokenExpiry().IsZero() {
			fmt.Printf("Token:  expires %s\n", client.TokenExpiry().Format(time.RFC3339))
		}
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account (an OTP is emailed for verification)",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getAnonClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.Auth.Register(ctx, &hala.RegisterOptions{
			Name: registerName, Email: registerEmail, Password: registerPassword,
		})
		if err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}

		fmt.Println(result.Message)
		fmt.Printf("Run 'hala verify %s <otp>' with the code from your inbox.\n", registerEmail)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <email> <otp>",
	Short: "Verify a new account with the emailed OTP",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getAnonClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.Auth.VerifyOTP(ctx, args[0], args[1])
		if err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Auth.AccessToken = result.AccessToken
		cfg.Auth.RefreshToken = result.RefreshToken
		if result.User != nil {
			cfg.Auth.UserID = result.User.ID
			cfg.Auth.UserName = result.User.Name
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Println("Account verified, you are signed in.")
		return nil
	},
}
