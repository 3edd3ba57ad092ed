package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjy-dev/lcov-capture/internal/capture"
	"github.com/zjy-dev/lcov-capture/internal/config"
	"github.com/zjy-dev/lcov-capture/internal/gcov"
	"github.com/zjy-dev/lcov-capture/internal/logger"
	"github.com/zjy-dev/lcov-capture/internal/report"
)

// NewCaptureCommand creates the root command for the lcov-capture tool.
func NewCaptureCommand() *cobra.Command {
	var (
		output   string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "lcov-capture [directory]",
		Short: "Capture gcov coverage data into an lcov tracefile.",
		Long: `lcov-capture scans a directory tree for .gcda data files written by a
gcov-instrumented program run, pairs each with its compile-time .gcno
note file, reconstructs per-line, per-branch and per-function execution
counts, and writes the aggregate as an lcov tracefile.

Damaged or mismatched pairs are reported on standard error and skipped;
the report contains whatever sources completed cleanly.

Configuration:
  Default values are loaded from configs/capture.yaml when present.
  Command line flags override the config file values.

Examples:
  # Capture coverage under the current directory into app.info
  lcov-capture

  # Capture a build tree into a custom tracefile
  lcov-capture ./build --output coverage.info`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if err := config.Load("capture", &cfg); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if cmd.Flags().Changed("output") {
				cfg.Output = output
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}

			logger.Init(cfg.LogLevel)
			logger.SetLevel(cfg.LogLevel)

			directory := "."
			if len(args) > 0 {
				directory = args[0]
			}

			logger.Infof("Capturing coverage data from %s", directory)

			session := capture.New(gcov.Options{
				AllBlocks: cfg.AllBlocks,
				Branches:  cfg.Branches,
			})
			if err := session.Run(directory); err != nil {
				return err
			}

			writer := report.NewLcovWriter(cfg.Output)
			if err := writer.Write(session.Tables()); err != nil {
				return err
			}

			logger.Infof("Finished %s creation", cfg.Output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "app.info", "path of the tracefile to write")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "logging level (debug, info, warn, error)")

	return cmd
}
