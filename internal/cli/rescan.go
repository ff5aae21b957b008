package cli

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/scrapeback/internal/control"
)

var rescanOnce bool

var rescanCmd = &cobra.Command{
	Use:   "rescan",
	Short: "Re-request every URL in the bad URL ledger",
	Long: `Runs the rescan worker with the health server until interrupted.
With --once a single pass is made and its summary printed.`,
	Run: runRescan,
}

func init() {
	rescanCmd.Flags().BoolVar(&rescanOnce, "once", false, "run a single pass and exit")
	rootCmd.AddCommand(rescanCmd)
}

func runRescan(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	cfg.Rescan.Enabled = true

	if !rescanOnce {
		serve(cfg)
		return
	}

	ctx := context.Background()
	app, err := control.NewApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize service", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	pass, err := app.RescanOnce(ctx)
	if err != nil {
		slog.Error("Rescan failed", "error", err)
	}
	_ = json.NewEncoder(os.Stdout).Encode(pass)
}
