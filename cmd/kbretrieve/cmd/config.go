package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/kbretrieve/internal/config"
	"github.com/Aman-CERP/kbretrieve/internal/logging"
	"github.com/Aman-CERP/kbretrieve/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage kbretrieve configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/kbretrieve/config.yaml)
  3. Project config (.kbretrieve.yaml, .kbretrieve.yml or .kbretrieve.toml)
  4. --config file
  5. Environment variables (KB_*, then KBRETRIEVE_*)`,
		Example: `  # Create user config with defaults
  kbretrieve config init

  # Show effective configuration (merged from all sources)
  kbretrieve config show

  # Print user config file path
  kbretrieve config path

  # Show the retrieval policy each purpose resolves to
  kbretrieve config policy`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigPolicyCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create user configuration file",
		Long: `Write the default configuration to ~/.config/kbretrieve/config.yaml
(or $XDG_CONFIG_HOME/kbretrieve/config.yaml).

With --force an existing file is backed up first; the last three backups are kept.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration (a backup is kept)")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long: `Show the configuration after merging all sources. The remote API key is
never printed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, jsonOutput, source)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, user, project, defaults")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}

func newConfigPolicyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Show the resolved retrieval policy per purpose",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			for i, purpose := range []string{config.PurposeDirect, config.PurposeAssist} {
				p, err := cfg.PolicyFor(config.Overrides{Purpose: purpose})
				if err != nil {
					return err
				}
				if i > 0 {
					out.Newline()
				}
				out.Statusf("🎯", "Purpose: %s", purpose)
				out.KeyValues(map[string]string{
					"mode":              string(p.Mode),
					"top_k":             strconv.Itoa(p.ResultLimit()),
					"candidate_top_k":   strconv.Itoa(p.CandidateLimit()),
					"fallback_on_empty": strconv.FormatBool(p.FallbackOnEmpty),
					"alpha_band":        fmt.Sprintf("[%g, %g]", p.Fusion.AlphaMin, p.Fusion.AlphaMax),
					"tie_epsilon":       strconv.FormatFloat(p.Fusion.TieEpsilon, 'g', -1, 64),
					"judge":             strconv.FormatBool(p.UseJudge),
				})
			}
			return nil
		},
	}
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())
	configPath := config.GetUserConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		if !force {
			out.Warning("User configuration already exists")
			out.Statusf("📁", "Location: %s", configPath)
			out.Status("💡", "Use --force to overwrite it (a backup is kept)")
			return nil
		}
		backupPath, err := config.BackupFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to backup config: %w", err)
		}
		out.Statusf("💾", "Backup: %s", backupPath)
	}

	if err := config.NewConfig().WriteYAML(configPath); err != nil {
		return err
	}

	out.Success("Created user configuration")
	out.Statusf("📁", "Location: %s", configPath)
	out.Newline()
	out.Status("📋", "Next steps:")
	out.Status("", "  1. Set remote.endpoint and remote.index, or local.corpus_path")
	out.Status("", "  2. Run 'kbretrieve config show' to verify")
	return nil
}

func runConfigShow(cmd *cobra.Command, jsonOutput bool, source string) error {
	out := output.New(cmd.OutOrStdout())

	var (
		cfg        *config.Config
		sourceDesc string
		err        error
	)
	switch source {
	case "merged":
		cfg, err = loadConfig()
		if err != nil {
			return err
		}
		sourceDesc = "merged (defaults + user + project + env)"

	case "user":
		path := config.GetUserConfigPath()
		if _, statErr := os.Stat(path); statErr != nil {
			out.Warning("No user configuration file found")
			out.Statusf("📁", "Expected at: %s", path)
			out.Status("💡", "Run 'kbretrieve config init' to create one")
			return nil
		}
		cfg = config.NewConfig()
		if err := cfg.LoadFile(path); err != nil {
			return err
		}
		sourceDesc = fmt.Sprintf("user (%s)", path)

	case "project":
		path := config.FindProjectFile(projectDir)
		if path == "" {
			out.Warning("No project configuration file found")
			out.Statusf("📁", "Expected at: %s", config.ProjectFileName+".yaml")
			return nil
		}
		cfg = config.NewConfig()
		if err := cfg.LoadFile(path); err != nil {
			return err
		}
		sourceDesc = fmt.Sprintf("project (%s)", path)

	case "defaults":
		cfg = config.NewConfig()
		sourceDesc = "defaults (hardcoded)"

	default:
		return fmt.Errorf("invalid source: %s (use: merged, user, project, defaults)", source)
	}

	shown := *cfg
	if shown.Remote.APIKey != "" {
		shown.Remote.APIKey = logging.Redacted
	}

	if jsonOutput {
		data, err := json.MarshalIndent(&shown, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}

	out.Statusf("📋", "Configuration source: %s", sourceDesc)
	out.Newline()
	data, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), string(data))
	return err
}
