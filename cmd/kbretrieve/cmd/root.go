// Package cmd provides the CLI commands for kbretrieve.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbretrieve/internal/config"
	amerrors "github.com/Aman-CERP/kbretrieve/internal/errors"
	"github.com/Aman-CERP/kbretrieve/internal/logging"
	"github.com/Aman-CERP/kbretrieve/pkg/version"
)

// Global flags
var (
	configFile string
	projectDir string
	debugMode  bool
)

// NewRootCmd creates the root command for the kbretrieve CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kbretrieve",
		Short: "Hybrid knowledge-base retrieval over a remote index and a local corpus",
		Long: `kbretrieve answers queries from a hosted search index, a local corpus, or both.

Each backend returns a lexical (BM25) list and a vector list. The lists are
normalized and fused with a per-query weight derived from how confident each
side looks, then tie-broken deterministically.

Which backend is used is controlled by the retrieval policy:
  strict-remote, strict-local, prefer-remote, prefer-local, federated`,
		Version:       version.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.SetVersionTemplate("kbretrieve version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file applied after user and project config")
	cmd.PersistentFlags().StringVar(&projectDir, "dir", ".", "Project directory holding .kbretrieve.yaml")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Log at debug level")

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		_, _ = fmt.Fprint(os.Stderr, amerrors.FormatForCLI(err))
	}
	return err
}

// loadConfig loads the merged configuration for --dir and --config.
func loadConfig() (*config.Config, error) {
	return config.LoadWith(projectDir, configFile)
}

// startLogging sets up the file logger from cfg and makes it the default.
// The returned cleanup must run before the command exits.
func startLogging(cfg *config.Config) (*slog.Logger, func(), error) {
	level := cfg.Logging.Level
	if debugMode {
		level = "debug"
	}
	logger, cleanup, err := logging.Setup(logging.Config{
		Level:         level,
		FilePath:      cfg.Logging.File,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: cfg.Logging.Stderr,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logger)
	logger.Debug("logging_started", slog.String("version", version.Short()), slog.String("level", level))
	return logger, cleanup, nil
}
