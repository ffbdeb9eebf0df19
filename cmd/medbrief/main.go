package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/medbrief/internal/assemble"
	"github.com/TobiSchelling/medbrief/internal/cache"
	"github.com/TobiSchelling/medbrief/internal/config"
	"github.com/TobiSchelling/medbrief/internal/database"
	"github.com/TobiSchelling/medbrief/internal/logging"
	"github.com/TobiSchelling/medbrief/internal/pipeline"
	"github.com/TobiSchelling/medbrief/internal/render"
	"github.com/TobiSchelling/medbrief/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     = zap.NewNop()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "medbrief",
	Short:   "Answer medical research questions from web sources",
	Long:    "MedBrief retrieves web documents for a medical question, classifies and summarizes them with a language model, and assembles a cited report.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = loadConfig()
		if err != nil {
			return err
		}
		logger, err = logging.New(cfg.Logging, verbose)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads the resolved config file. Without an explicit --config and
// without any file on disk the embedded defaults are used.
func loadConfig() (*config.Config, error) {
	path, err := config.ResolveConfigPath(configPath)
	if err != nil {
		if configPath != "" {
			return nil, err
		}
		return config.Default(), nil
	}
	c, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return c, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("medbrief", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/medbrief/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to choose search and LLM providers, then export the API keys it names.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache and configuration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Query cache:")
		fmt.Printf("  Cached questions: %d\n", stats.CachedQueries)
		fmt.Println("\nContent cache:")
		fmt.Printf("  Documents: %d\n", stats.CachedDocuments)
		fmt.Printf("  Classified: %d\n", stats.ClassifiedDocuments)
		fmt.Printf("  Summarized: %d\n", stats.SummarizedDocuments)
		fmt.Println("\nProviders:")
		fmt.Printf("  Search: %s (max %d results)\n", cfg.Search.Provider, cfg.Search.MaxResults)
		fmt.Printf("  LLM: %s\n", cfg.Generation.Provider)
		fmt.Printf("  Output format: %s\n", cfg.Output.Format)
		return nil
	},
}

// --- ask command ---

var (
	askFormat string
	askPDF    string
	askPretty bool
	dryRun    bool
)

const pdfAuto = "auto"

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a medical question: retrieve -> classify -> summarize -> cite -> assemble",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.TrimSpace(strings.Join(args, " "))

		var opts []pipeline.Option
		if askFormat != "" {
			f, err := assemble.ParseFormat(askFormat)
			if err != nil {
				return err
			}
			opts = append(opts, pipeline.WithFormat(f))
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		if dryRun {
			p, err := pipeline.New(cfg, db, nil, nil, logger, opts...)
			if err != nil {
				return err
			}
			result, err := p.DryRun(question)
			if err != nil {
				return err
			}
			printSteps(cmd.OutOrStdout(), result.Steps)
			return nil
		}

		p, err := pipeline.FromConfig(ctx, cfg, db, logger, opts...)
		if err != nil {
			return err
		}

		result, err := p.Run(ctx, question)
		if verbose && result != nil {
			printSteps(cmd.ErrOrStderr(), result.Steps)
		}
		if err != nil {
			return err
		}
		if result.CacheHit {
			logger.Info("answered from cache", zap.String("run_id", result.RunID))
		}

		out := result.Report.Body
		if askPretty && result.Report.Format == assemble.FormatMarkdown {
			if styled, err := render.Terminal(out, 100); err != nil {
				logger.Warn("pretty rendering failed, printing plain text", zap.Error(err))
			} else {
				out = styled
			}
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		if !strings.HasSuffix(out, "\n") {
			fmt.Fprintln(cmd.OutOrStdout())
		}

		if askPDF != "" {
			writePDF(cmd.ErrOrStderr(), result)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().StringVarP(&askFormat, "format", "f", "", "Report format: markdown or json (default from config)")
	askCmd.Flags().StringVar(&askPDF, "pdf", "", "Also write a PDF report, optionally to the given path")
	askCmd.Flags().Lookup("pdf").NoOptDefVal = pdfAuto
	askCmd.Flags().BoolVar(&askPretty, "pretty", false, "Style Markdown output for the terminal")
	askCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
}

// writePDF renders the run as PDF. Failures are reported but never fail the command.
func writePDF(w io.Writer, result *pipeline.Result) {
	path := askPDF
	if path == pdfAuto {
		dir := cfg.GetPDFDir()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("creating PDF directory", zap.Error(err))
			return
		}
		path = filepath.Join(dir, render.PDFFilename(result.Query, time.Now()))
	}

	data, err := render.PDF{}.Render(result.Structured())
	if err != nil {
		logger.Error("PDF generation failed", zap.Error(err))
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logger.Error("writing PDF", zap.String("path", path), zap.Error(err))
		return
	}
	fmt.Fprintf(w, "PDF report saved: %s\n", path)
}

func printSteps(w io.Writer, steps []pipeline.StepResult) {
	for i, step := range steps {
		fmt.Fprintf(w, "\nStep %d/%d: %s\n", i+1, len(steps), step.Name)
		if step.Err != nil {
			fmt.Fprintf(w, "  Error: %v\n", step.Err)
		} else {
			fmt.Fprintf(w, "  %s\n", step.Summary)
		}
	}
}

// --- cache command ---

var (
	clearQueries bool
	clearContent bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and invalidate cached answers",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached questions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		snaps, err := cache.NewQueryCache(db, logger).List()
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			fmt.Println("No cached questions. Ask one with: medbrief ask \"<question>\"")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "CREATED\tFORMAT\tPAPERS\tQUESTION")
		for _, s := range snaps {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.CreatedAt, s.FinalOutput.Format, len(s.Docs), s.Query)
		}
		return tw.Flush()
	},
}

var cacheForgetCmd = &cobra.Command{
	Use:   "forget [question]",
	Short: "Remove the cached answer for a question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		question := strings.Join(args, " ")
		removed, err := cache.NewQueryCache(db, logger).Forget(question)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("no cached answer for %q", question)
		}
		fmt.Printf("Forgot cached answer for: %s\n", question)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear cached answers and/or cached document work",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		both := !clearQueries && !clearContent
		if clearQueries || both {
			n, err := cache.NewQueryCache(db, logger).Clear()
			if err != nil {
				return fmt.Errorf("clearing query cache: %w", err)
			}
			fmt.Printf("Cleared %d cached questions\n", n)
		}
		if clearContent || both {
			n, err := cache.NewContentCache(db, logger).Clear()
			if err != nil {
				return fmt.Errorf("clearing content cache: %w", err)
			}
			fmt.Printf("Cleared %d cached documents\n", n)
		}
		return nil
	},
}

func init() {
	cacheClearCmd.Flags().BoolVar(&clearQueries, "queries", false, "Clear only the query cache")
	cacheClearCmd.Flags().BoolVar(&clearContent, "content", false, "Clear only the content cache")

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheForgetCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		p, err := pipeline.FromConfig(ctx, cfg, db, logger)
		if err != nil {
			return err
		}
		var runner server.Runner = p
		if err := p.Connect(ctx); err != nil {
			logger.Warn("asking disabled, serving cached answers only", zap.Error(err))
			runner = nil
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		if err := server.Serve(ctx, db, runner, port, logger); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(cfg.DBPath(), logger)
}
