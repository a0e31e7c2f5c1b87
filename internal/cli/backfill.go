package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vietddude/perpkeeper/internal/control"
)

var backfillCmd = &cobra.Command{
	Use:          "backfill",
	Short:        "Run one backfill pass up to the current head and exit",
	SilenceUsage: true,
	RunE:         runBackfill,
}

func init() {
	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	app, err := control.NewKeeper(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize keeper: %w", err)
	}
	defer app.Close()

	head, err := app.Pipeline().BackfillOnce(ctx)
	if err != nil {
		return fmt.Errorf("backfill failed: %w", err)
	}
	slog.Info("Backfill complete", "head", head)
	return nil
}
