package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/perpkeeper/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored price history and migration version",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if !cfg.UseDatabase() {
		slog.Error("status needs database.url; the memory store does not outlive the process")
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

	repo := postgres.NewPriceRepo(db)
	rows, err := repo.Count(ctx)
	if err != nil {
		slog.Error("Failed to count rows", "error", err)
		os.Exit(1)
	}
	latest, found, err := repo.SelectMostRecentBlockNumber(ctx)
	if err != nil {
		slog.Error("Failed to read latest block", "error", err)
		os.Exit(1)
	}
	version, err := db.MigrationVersion(ctx)
	if err != nil {
		slog.Warn("Failed to read migration version", "error", err)
	}

	latestBlock := "empty"
	if found {
		latestBlock = latest.String()
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ROWS\tLATEST BLOCK\tMIGRATION")
	_, _ = fmt.Fprintf(w, "%d\t%s\t%d\n", rows, latestBlock, version)
	_ = w.Flush()
}
