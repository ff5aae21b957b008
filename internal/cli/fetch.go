package cli

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/vietddude/scrapeback/internal/control"
	"github.com/vietddude/scrapeback/internal/core/domain"
	"github.com/vietddude/scrapeback/internal/scrape/params"
	"github.com/vietddude/scrapeback/internal/scrape/predicate"
)

var fetchFlags struct {
	method      string
	data        []string
	predicate   string
	attempts    int
	ignore404   bool
	randomUA    bool
	chunkSize   int
	concurrency int
	body        bool
}

var fetchCmd = &cobra.Command{
	Use:   "fetch URL...",
	Short: "Request URLs with backoff and print one JSON line per URL",
	Args:  cobra.MinimumNArgs(1),
	Run:   runFetch,
}

func init() {
	f := fetchCmd.Flags()
	f.StringVarP(&fetchFlags.method, "method", "X", "", "HTTP method")
	f.StringArrayVarP(&fetchFlags.data, "data", "d", nil, "request body, repeat to send one request per body")
	f.StringVar(&fetchFlags.predicate, "predicate", "", "acceptance predicate, e.g. 'selector:#main && not-challenge'")
	f.IntVar(&fetchFlags.attempts, "attempts", 0, "max attempts per URL")
	f.BoolVar(&fetchFlags.ignore404, "ignore-404", false, "treat 404 as final")
	f.BoolVar(&fetchFlags.randomUA, "random-ua", false, "send a random desktop user agent")
	f.IntVar(&fetchFlags.chunkSize, "chunk-size", 0, "URLs per chunk, 0 sends all at once")
	f.IntVar(&fetchFlags.concurrency, "concurrency", 0, "max concurrent requests per chunk")
	f.BoolVar(&fetchFlags.body, "body", false, "include the response body")
	rootCmd.AddCommand(fetchCmd)
}

type fetchLine struct {
	URL      string `json:"url"`
	Status   int    `json:"status,omitempty"`
	Attempts int    `json:"attempts"`
	Failure  string `json:"failure,omitempty"`
	Error    string `json:"error,omitempty"`
	Body     string `json:"body,omitempty"`
}

func runFetch(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if fetchFlags.attempts > 0 {
		cfg.Backoff.MaxAttempts = fetchFlags.attempts
	}
	if fetchFlags.ignore404 {
		cfg.Backoff.Ignore404 = true
	}
	if fetchFlags.randomUA {
		cfg.Transport.RandomUserAgent = true
	}
	if fetchFlags.method != "" {
		cfg.Transport.Method = fetchFlags.method
	}
	if fetchFlags.chunkSize > 0 {
		cfg.Fanout.ChunkSize = fetchFlags.chunkSize
	}
	if fetchFlags.concurrency > 0 {
		cfg.Fanout.Concurrency = fetchFlags.concurrency
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := control.NewApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize service", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	req, err := control.NewRequest(cfg, args)
	if err != nil {
		slog.Error("Invalid request", "error", err)
		os.Exit(1)
	}
	if fetchFlags.predicate != "" {
		if req.Predicate, err = predicate.Parse(fetchFlags.predicate); err != nil {
			slog.Error("Invalid predicate", "error", err)
			os.Exit(1)
		}
	}
	if len(fetchFlags.data) > 0 {
		bodies := make([]*domain.Body, len(fetchFlags.data))
		for i, d := range fetchFlags.data {
			bodies[i] = &domain.Body{Raw: []byte(d)}
		}
		req.Bodies = params.List(bodies...)
		if req.Method == "GET" && fetchFlags.method == "" {
			req.Method = "POST"
		}
	}

	results, err := app.Scraper.MakeBackoffRequest(ctx, req)
	if err != nil {
		slog.Error("Request failed", "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	for _, r := range results {
		line := fetchLine{URL: r.URL, Attempts: r.Attempts}
		if r.Response != nil {
			line.Status = r.Response.StatusCode
			if fetchFlags.body {
				line.Body = r.Response.Text
			}
		}
		if r.Failure != nil {
			line.Failure = string(r.Failure.Kind)
		}
		if r.Err != nil {
			line.Error = r.Err.Error()
		}
		_ = enc.Encode(line)
	}
}
