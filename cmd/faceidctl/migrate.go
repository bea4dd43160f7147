package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/your-org/faceid/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending Postgres schema migrations",
	Long: `Apply the embedded SQL migrations to the configured Postgres database.
Already applied migrations are skipped. The API server also migrates on start.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	fmt.Println("Connecting to PostgreSQL...")
	pg, err := storage.NewPostgresStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pg.Close()

	applied, err := pg.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if len(applied) == 0 {
		fmt.Println("Schema is up to date")
		return nil
	}
	for _, f := range applied {
		fmt.Printf("Applied migration: %s\n", f)
	}
	return nil
}
