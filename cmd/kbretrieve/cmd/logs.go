package cmd

import (
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbretrieve/internal/config"
	"github.com/Aman-CERP/kbretrieve/internal/logging"
	"github.com/Aman-CERP/kbretrieve/internal/ui"
)

type logsOptions struct {
	lines   int
	level   string
	grep    string
	file    string
	noColor bool
}

func newLogsCmd() *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent log entries",
		Example: `  kbretrieve logs
  kbretrieve logs -n 200 --level warn
  kbretrieve logs --grep fallback_triggered`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of lines to read from the end of the file")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level: debug, info, warn, error")
	cmd.Flags().StringVar(&opts.grep, "grep", "", "Only show lines matching this regular expression")
	cmd.Flags().StringVar(&opts.file, "file", "", "Log file (default: logging.file or ~/.kbretrieve/logs/kbretrieve.log)")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	return cmd
}

func runLogs(cmd *cobra.Command, opts logsOptions) error {
	explicit := opts.file
	if explicit == "" {
		// a broken config should not hide the logs explaining it
		if cfg, err := loadConfig(); err == nil {
			explicit = cfg.Logging.File
		} else {
			explicit = config.NewConfig().Logging.File
		}
	}
	path, err := logging.FindLogFile(explicit)
	if err != nil {
		return err
	}

	filter := logging.Filter{MinLevel: opts.level}
	if opts.grep != "" {
		re, err := regexp.Compile(opts.grep)
		if err != nil {
			return fmt.Errorf("invalid --grep pattern: %w", err)
		}
		filter.Pattern = re
	}

	entries, err := logging.Tail(path, opts.lines, filter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	styles := ui.StylesFor(out, opts.noColor)
	for _, e := range entries {
		if err := ui.RenderLogEntry(out, e, styles); err != nil {
			return err
		}
	}
	return nil
}
