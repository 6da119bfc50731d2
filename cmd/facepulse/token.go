package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"facepulse/internal/auth"
)

var tokenSession string

var tokenCmd = &cobra.Command{
	Use:   "token <viewer>",
	Short: "Mint a token for a display client",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Display.JWTSecret == "" {
			return errors.New("display.jwt_secret must be set, a random secret would not match the server's")
		}
		manager := auth.NewJWTManager(cfg.Display.JWTSecret, cfg.Display.TokenExpiry.Std())
		token, expiresAt, err := manager.GenerateToken(args[0], tokenSession)
		if err != nil {
			return fmt.Errorf("failed to generate token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Local().Format("2006-01-02 15:04"))
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenSession, "session", "s", "", "limit the token to one pipeline session")
	rootCmd.AddCommand(tokenCmd)
}
