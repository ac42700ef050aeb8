package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"entitlement-backend/internal/mw"
)

var operatorTokenCmd = &cobra.Command{
	Use:   "operator-token",
	Short: "Mint a bearer token for the operator API",
	RunE:  runOperatorToken,
}

func init() {
	rootCmd.AddCommand(operatorTokenCmd)
	operatorTokenCmd.Flags().String("name", "", "operator name carried as the token subject")
	operatorTokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	_ = operatorTokenCmd.MarkFlagRequired("name")
}

func runOperatorToken(cmd *cobra.Command, _ []string) error {
	name, _ := cmd.Flags().GetString("name")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Tokens.OperatorSecret == "" {
		return errors.New("operator secret is not configured")
	}

	tok, err := mw.IssueOperatorToken(cfg.Tokens.OperatorSecret, cfg.Tokens.OperatorTokenIssuer, name, ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
