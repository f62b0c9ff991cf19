// Scout collects posts from configured sources, enriches and classifies
// them, and writes a per-batch markdown corpus.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/probeworks/scout/pkg/config"
	"github.com/probeworks/scout/pkg/enrich"
	"github.com/probeworks/scout/pkg/fetch"
	"github.com/probeworks/scout/pkg/llm"
	"github.com/probeworks/scout/pkg/organize"
	"github.com/probeworks/scout/pkg/pipeline"
	"github.com/probeworks/scout/pkg/runlog"
	"github.com/probeworks/scout/pkg/transcribe"
	"github.com/probeworks/scout/pkg/version"
	"github.com/probeworks/scout/pkg/write"
	"github.com/probeworks/scout/pkg/xscraper"
)

// Exit codes.
const (
	exitOK      = 0
	exitConfig  = 1
	exitPartial = 2 // more than 10% of sources failed
	exitFatal   = 3
)

// shutdownGrace is how long a cancelled run may keep draining before the
// process is forced down.
const shutdownGrace = 30 * time.Second

var (
	configPath string
	debug      bool
)

func main() {
	root := &cobra.Command{
		Use:           "scout",
		Short:         "Fetch, enrich, classify, and file posts from configured sources",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.ini", "path to the INI configuration file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	root.AddCommand(newPipelineCmd(), newScraperCmd())

	if err := root.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			slog.Error(exit.message, "error", exit.cause)
			os.Exit(exit.code)
		}
		slog.Error("Command failed", "error", err)
		os.Exit(exitFatal)
	}
}

// exitError carries a process exit code up through cobra.
type exitError struct {
	code    int
	message string
	cause   error
}

func (e *exitError) Error() string { return fmt.Sprintf("%s: %v", e.message, e.cause) }

func newPipelineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pipeline",
		Short: "Run one full batch over all configured sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline()
		},
	}
}

func runPipeline() error {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "error", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return &exitError{exitConfig, "Failed to load configuration", err}
	}

	batchID := pipeline.NewBatchID(time.Now())
	batchDir := filepath.Join(cfg.DataDir, batchID)
	if err := os.MkdirAll(batchDir, 0o755); err != nil {
		return &exitError{exitFatal, "Failed to create batch directory", err}
	}
	errs, err := runlog.Open(filepath.Join(batchDir, "errors.log"))
	if err != nil {
		return &exitError{exitFatal, "Failed to open batch error log", err}
	}
	defer func() {
		if err := errs.Close(); err != nil {
			slog.Error("Error closing batch error log", "error", err)
		}
	}()

	llmClient := llm.NewHTTPClient(llm.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Timeout: cfg.LLM.Timeout,
	})

	var scraper fetch.MicroblogScraper
	if cfg.XScraper.Enabled {
		if s, err := buildScraper(cfg.XScraper); err != nil {
			slog.Warn("Direct scraper unavailable, microblog sources fall back to feeds", "error", err)
		} else {
			scraper = s
		}
	}

	fetcher := fetch.New(cfg, fetch.NewGofeedParser(), scraper, errs, batchDir)

	var asr transcribe.ASRBackend
	if cfg.Enricher.WhisperModel != "" {
		asr = transcribe.NewWhisperCLI(cfg.Enricher.WhisperBinary, cfg.Enricher.WhisperModel)
	}
	transcriber := transcribe.New(llmClient, cfg.LLM.OptModel, asr, batchDir)
	renderer := enrich.NewChromeRenderer(cfg.Enricher.URLTimeout)
	enricher := enrich.New(cfg.Enricher, renderer, transcriber, errs)

	organizer := organize.New(cfg.Organizer, llmClient, cfg.LLM.Model, errs)
	writer := write.New(cfg.DataDir, batchID, cfg.Entities, errs)

	p := pipeline.New(batchID, fetcher, enricher, organizer, writer,
		cfg.Enricher.PoolSize, cfg.Organizer.PoolSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Warn("Shutdown requested, draining pipeline", "grace", shutdownGrace)
		time.Sleep(shutdownGrace)
		slog.Error("Drain grace period exceeded, aborting")
		os.Exit(exitFatal)
	}()

	summary, err := p.Run(ctx)
	if err != nil {
		return &exitError{exitFatal, "Pipeline failed", err}
	}
	if summary.SourceCount > 0 && summary.SourceErrors*10 > summary.SourceCount {
		return &exitError{exitPartial, "Batch completed with degraded sources",
			fmt.Errorf("%d of %d sources failed", summary.SourceErrors, summary.SourceCount)}
	}
	return nil
}

func newScraperCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scraper",
		Short: "Inspect and exercise the direct microblog scraper",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Scrape every configured microblog account into per-user JSON files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return &exitError{exitConfig, "Failed to load configuration", err}
			}
			sources := cfg.MicroblogSources()
			if len(sources) == 0 {
				return &exitError{exitConfig, "No microblog accounts configured",
					errors.New("[microblog_accounts] is empty")}
			}
			scraper, err := buildScraper(cfg.XScraper)
			if err != nil {
				return &exitError{exitConfig, "Failed to build scraper", err}
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			since := time.Now().AddDate(0, 0, -cfg.Fetcher.LookbackDays)
			outDir := filepath.Join(cfg.DataDir, "x_scraper_"+pipeline.NewBatchID(time.Now()))
			failed, err := scrapeAccounts(ctx, scraper, sources, since, outDir)
			if err != nil {
				return &exitError{exitFatal, "Scrape run failed", err}
			}
			if failed > 0 {
				return &exitError{exitPartial, "Scrape run completed with failed accounts",
					fmt.Errorf("%d of %d accounts failed", failed, len(sources))}
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the configured credential pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return &exitError{exitConfig, "Failed to load configuration", err}
			}
			creds, err := xscraper.LoadCredentials(cfg.XScraper.AuthCredentials, cfg.XScraper.EnvFile)
			if err != nil {
				return &exitError{exitConfig, "Failed to load scraper credentials", err}
			}
			for _, status := range xscraper.NewPool(creds).Status() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  requests=%d failures=%d disabled=%v\n",
					status.Token, status.RequestCount, status.FailureCount, status.Disabled)
			}
			return nil
		},
	})

	var limit int
	fetchCmd := &cobra.Command{
		Use:   "fetch USERNAME",
		Short: "Fetch one account's recent posts and print them as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return &exitError{exitConfig, "Failed to load configuration", err}
			}
			if limit > 0 {
				cfg.XScraper.MaxTweetsPerUser = limit
			}
			scraper, err := buildScraper(cfg.XScraper)
			if err != nil {
				return &exitError{exitConfig, "Failed to build scraper", err}
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			since := time.Now().AddDate(0, 0, -cfg.Fetcher.LookbackDays)
			tweets, err := scraper.FetchUserTweets(ctx, args[0], since)
			if err != nil {
				return &exitError{exitFatal, "Fetch failed", err}
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(tweets)
		},
	}
	fetchCmd.Flags().IntVar(&limit, "limit", 0, "override max posts to fetch")
	cmd.AddCommand(fetchCmd)
	return cmd
}

// scrapeAccounts fetches every account and writes one JSON file per user
// under outDir. It returns the number of accounts that failed.
func scrapeAccounts(ctx context.Context, scraper fetch.MicroblogScraper, sources []config.Source,
	since time.Time, outDir string) (int, error) {

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, fmt.Errorf("create scrape output directory: %w", err)
	}

	usernames := make([]string, 0, len(sources))
	for _, src := range sources {
		usernames = append(usernames, fetch.Username(src))
	}

	failed := 0
	for _, result := range scraper.FetchUsers(ctx, usernames, since) {
		if result.Err != nil {
			slog.Error("Account scrape failed", "username", result.Username, "error", result.Err)
			failed++
			continue
		}
		data, err := json.MarshalIndent(result.Tweets, "", "  ")
		if err != nil {
			slog.Error("Cannot marshal scraped tweets", "username", result.Username, "error", err)
			failed++
			continue
		}
		path := filepath.Join(outDir, result.Username+".json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			slog.Error("Cannot write scrape output", "path", path, "error", err)
			failed++
			continue
		}
		slog.Info("Account scraped",
			"username", result.Username, "tweets", len(result.Tweets), "path", path)
	}
	return failed, nil
}

// buildScraper assembles the credential pool, TLS transport, and client.
func buildScraper(cfg config.XScraperConfig) (*xscraper.Scraper, error) {
	creds, err := xscraper.LoadCredentials(cfg.AuthCredentials, cfg.EnvFile)
	if err != nil {
		return nil, err
	}
	doer, err := xscraper.NewTLSTransport(int(cfg.RequestTimeout.Seconds()))
	if err != nil {
		return nil, err
	}
	client := xscraper.NewClient(cfg, xscraper.NewPool(creds), doer)
	return xscraper.NewScraper(cfg, client), nil
}
