package main

import (
	"fmt"

	"modbot/internal/modules/audit"
	"modbot/internal/storage"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Manage stored audit entries",
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop audit entries of every guild older than --days",
	Long: "Drop audit entries of every guild older than --days, including guilds the bot already left. " +
		"The running bot applies each guild's own retention on its own.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := toolSetup()
		if err != nil {
			return err
		}
		days, _ := cmd.Flags().GetInt("days")
		if days <= 0 {
			days = cfg.Audit.RetentionDays
		}
		if days <= 0 {
			return fmt.Errorf("days must be positive")
		}

		store, err := storage.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(cmd.Context()); err != nil {
			return err
		}

		if err := audit.NewLogger(store, logger).Cleanup(cmd.Context(), days); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "audit entries older than %d days removed\n", days)
		return nil
	},
}

func init() {
	auditPruneCmd.Flags().Int("days", 0, "retention in days (default audit.retention_days)")
	auditCmd.AddCommand(auditPruneCmd)
	rootCmd.AddCommand(auditCmd)
}
