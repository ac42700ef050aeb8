package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"entitlement-backend/internal/command"
	"entitlement-backend/internal/db"
	"entitlement-backend/internal/roster"
	"entitlement-backend/internal/store"
)

var codesCmd = &cobra.Command{
	Use:   "codes",
	Short: "Manage pickup codes",
}

var codesGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate pickup codes for a customer",
	RunE:  runCodesGenerate,
}

func init() {
	rootCmd.AddCommand(codesCmd)
	codesCmd.AddCommand(codesGenerateCmd)

	codesGenerateCmd.Flags().Int64("customer", 0, "customer id")
	codesGenerateCmd.Flags().Int("count", 1, "number of codes to create (1-100)")
	codesGenerateCmd.Flags().String("prefix", "", "code prefix, A-Z and 0-9 (default CODE)")
	_ = codesGenerateCmd.MarkFlagRequired("customer")
}

func runCodesGenerate(cmd *cobra.Command, _ []string) error {
	customerID, _ := cmd.Flags().GetInt64("customer")
	count, _ := cmd.Flags().GetInt("count")
	prefix, _ := cmd.Flags().GetString("prefix")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		return err
	}
	st := store.NewGormStore(gormDB)

	svc := roster.NewService(st, command.NewQueue(st, logger), logger)
	codes, err := svc.GenerateCodes(cmd.Context(), "cli", customerID, count, prefix)
	if err != nil {
		return err
	}
	for _, c := range codes {
		fmt.Fprintln(cmd.OutOrStdout(), c)
	}
	return nil
}
