package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/suteetoe/coursecatalog/pkg/config"
	"github.com/suteetoe/coursecatalog/pkg/jwtutil"
)

// tokenCmd signs a bearer token with the configured key, for local development
func tokenCmd() *cobra.Command {
	var (
		username, email string
		admin           bool
		ttl             time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a development bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(serviceName)
			if err != nil {
				return err
			}
			j := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{SigningKey: cfg.JWT.SigningKey, Issuer: cfg.JWT.Issuer})
			tok, err := j.GenerateToken(username, email, admin, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "preferred_username claim")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().BoolVar(&admin, "admin", false, "mark the user as an administrator")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}
