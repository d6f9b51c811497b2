package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hookmill/hookmill/internal/config"
	"github.com/hookmill/hookmill/internal/database"
	"github.com/hookmill/hookmill/internal/database/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfigOrDefault()

		// Open applies pending migrations as part of setup.
		db, err := database.Open(&cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()

		log.Info().Str("database", cfg.Database.Path).Msg("Migrations applied")
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfigOrDefault()

		db, err := database.Open(&cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()

		applied, err := migrations.GetApplied(context.Background(), db.DB)
		if err != nil {
			return fmt.Errorf("listing migrations: %w", err)
		}

		if len(applied) == 0 {
			fmt.Println("No migrations applied")
			return nil
		}

		for _, m := range applied {
			fmt.Printf("%s\t%s\n", m.ID, m.AppliedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}

func loadConfigOrDefault() *config.Config {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgFile})
	if err != nil {
		log.Warn().Err(err).Msg("No config file found, using defaults")
		cfg = config.Default()
	}
	return cfg
}
