package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/scrapeback/internal/infra/storage"
	"github.com/vietddude/scrapeback/internal/infra/storage/postgres"
)

var badURLsCmd = &cobra.Command{
	Use:   "bad-urls",
	Short: "Inspect and edit the bad URL ledger",
}

var badURLsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List URLs whose latest request did not succeed",
	Args:  cobra.NoArgs,
	Run:   runBadURLsList,
}

var badURLsRemoveCmd = &cobra.Command{
	Use:   "remove URL...",
	Short: "Remove URLs from the ledger",
	Args:  cobra.MinimumNArgs(1),
	Run:   runBadURLsRemove,
}

var badURLsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every URL from the ledger",
	Args:  cobra.NoArgs,
	Run:   runBadURLsClear,
}

func init() {
	badURLsCmd.AddCommand(badURLsListCmd, badURLsRemoveCmd, badURLsClearCmd)
	rootCmd.AddCommand(badURLsCmd)
}

func openStore(ctx context.Context) *storage.Store {
	cfg := loadConfig()
	if cfg.Ledger.Backend == storage.BackendMemory {
		slog.Warn("Memory ledger does not outlive the process, configure redis or postgres")
	}
	store, err := storage.Open(ctx, cfg.Ledger, cfg.Redis, cfg.Database)
	if err != nil {
		slog.Error("Failed to open ledger", "error", err)
		os.Exit(1)
	}
	return store
}

func runBadURLsList(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store := openStore(ctx)
	defer func() {
		_ = store.Close()
	}()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	defer w.Flush()

	if repo, ok := store.Ledger.(*postgres.BadURLRepo); ok {
		entries, err := repo.Entries(ctx)
		if err != nil {
			slog.Error("Failed to list bad urls", "error", err)
			os.Exit(1)
		}
		_, _ = fmt.Fprintln(w, "URL\tMARKS\tFIRST SEEN\tLAST SEEN")
		for _, e := range entries {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", e.URL, e.Marks,
				e.FirstSeen.Format(time.RFC3339), e.LastSeen.Format(time.RFC3339))
		}
		return
	}

	urls, err := store.Ledger.List(ctx)
	if err != nil {
		slog.Error("Failed to list bad urls", "error", err)
		os.Exit(1)
	}
	_, _ = fmt.Fprintln(w, "URL")
	for _, u := range urls {
		_, _ = fmt.Fprintln(w, u)
	}
}

func runBadURLsRemove(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store := openStore(ctx)
	defer func() {
		_ = store.Close()
	}()

	if repo, ok := store.Ledger.(*postgres.BadURLRepo); ok {
		n, err := repo.RemoveMany(ctx, args)
		if err != nil {
			slog.Error("Failed to remove bad urls", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Removed %d urls\n", n)
		return
	}

	for _, u := range args {
		if err := store.Ledger.Remove(ctx, u); err != nil {
			slog.Error("Failed to remove bad url", "url", u, "error", err)
			os.Exit(1)
		}
	}
	fmt.Printf("Removed %d urls\n", len(args))
}

func runBadURLsClear(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	store := openStore(ctx)
	defer func() {
		_ = store.Close()
	}()

	if err := store.Ledger.Clear(ctx); err != nil {
		slog.Error("Failed to clear bad urls", "error", err)
		os.Exit(1)
	}
	fmt.Println("Cleared bad url ledger")
}
