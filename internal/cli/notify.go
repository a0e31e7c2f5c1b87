package cli

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vietddude/perpkeeper/internal/infra/notify"
)

var notifyCmd = &cobra.Command{
	Use:   "notify [message]",
	Short: "Send a test notification through the configured mail transport",
	Args:  cobra.MinimumNArgs(1),
	Run:   runNotify,
}

func init() {
	rootCmd.AddCommand(notifyCmd)
}

func runNotify(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if !cfg.Notify.Enabled() {
		slog.Error("notify needs notify.brevo_api_key, notify.sender and notify.receiver")
		os.Exit(1)
	}

	b := notify.NewBrevo(cfg.Notify, slog.Default())
	if err := b.Send(context.Background(), strings.Join(args, " ")); err != nil {
		slog.Error("Failed to send notification", "error", err)
		os.Exit(1)
	}
	slog.Info("Notification sent", "receiver", cfg.Notify.Receiver)
}
