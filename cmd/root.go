/*
Copyright © 2026 Rythmiq Contributors

Rythmiq turns scanned documents into structured records.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/trobanga/rythmiq/internal/lib"
	"github.com/trobanga/rythmiq/internal/models"
	"github.com/trobanga/rythmiq/internal/services"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rythmiq",
	Short: "Rythmiq - document processing job engine",
	Long: `Rythmiq extracts text from documents, normalizes it and maps it onto
structured schemas.

Documents are enqueued as jobs. A worker drains the queue: each job runs
through extraction (plain text, PDF or Tesseract OCR), text normalization
and schema transformation. Transient failures such as engine timeouts are
retried with exponential backoff; data and configuration problems fail the
job with a stable error code.

Example:
  rythmiq job enqueue invoice.pdf --schema invoice@1 --user acme
  rythmiq worker run
  rythmiq job status <job-id>
  rythmiq job result <job-id>`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./rythmiq.yaml, ~/.config/rythmiq/rythmiq.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	// Add version template
	rootCmd.SetVersionTemplate("Rythmiq version {{.Version}}\n")
}

// loadConfig reads the configuration and builds the logger it describes
func loadConfig() (*models.ProjectConfig, *lib.Logger, error) {
	config, err := services.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logLevel := lib.ParseLogLevel(config.Logging.Level)
	if verbose {
		logLevel = lib.LogLevelDebug
	}
	logger := lib.NewLogger(logLevel)
	if lib.LogFormat(config.Logging.Format) == lib.LogFormatJSON {
		logger = lib.NewLoggerWithOutput(logLevel, lib.LogFormatJSON, os.Stderr)
	}
	if path := services.GetConfigFilePath(); path != "" {
		logger.Debug("Using config file", "path", path)
	}

	return config, logger, nil
}
