package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/perpkeeper/internal/infra/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down]",
	Short:     "Apply or roll back database migrations",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down"},
	Run:       runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) {
	direction := "up"
	if len(args) == 1 {
		direction = args[0]
	}

	cfg := loadConfig()
	if !cfg.UseDatabase() {
		slog.Error("migrate needs database.url")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	if direction == "down" {
		err = db.Rollback(ctx)
	} else {
		err = db.Migrate(ctx)
	}
	if err != nil {
		slog.Error("Migration failed", "direction", direction, "error", err)
		os.Exit(1)
	}

	version, _ := db.MigrationVersion(ctx)
	slog.Info("Migration complete", "direction", direction, "version", version)
}
