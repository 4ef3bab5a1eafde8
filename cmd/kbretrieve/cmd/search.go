package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbretrieve/internal/config"
	amerrors "github.com/Aman-CERP/kbretrieve/internal/errors"
	"github.com/Aman-CERP/kbretrieve/internal/retrieval"
	"github.com/Aman-CERP/kbretrieve/internal/ui"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	policy          string
	fallbackOnEmpty bool
	topK            int
	purpose         string
	format          string // "text", "json"
	explain         bool
	corpus          string
	noColor         bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge base",
		Long: `Search the knowledge base with hybrid (BM25 + vector) retrieval.

The configured policy decides which backends answer; flags override it for
this call only.

Examples:
  kbretrieve search "reset my password"
  kbretrieve search "invoice download" --policy prefer-local --fallback-on-empty
  kbretrieve search "two factor" --corpus ./kb.yaml --policy strict-local --explain
  kbretrieve search "refund policy" --purpose assist --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.policy, "policy", "p", "", "Retrieval policy: strict-remote, strict-local, prefer-remote, prefer-local, federated")
	cmd.Flags().BoolVar(&opts.fallbackOnEmpty, "fallback-on-empty", false, "In prefer-* modes, query the secondary backend when the primary finds nothing")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 0, "Number of results (default: configured value for the purpose)")
	cmd.Flags().StringVar(&opts.purpose, "purpose", config.PurposeDirect, "Top-k purpose: direct, assist")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Show ranks, raw scores, alpha and every error met")
	cmd.Flags().StringVar(&opts.corpus, "corpus", "", "Local corpus file (.yaml, .toml, .jsonl)")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	if opts.format != "text" && opts.format != "json" {
		return amerrors.ValidationError(fmt.Sprintf("invalid format %q (use: text, json)", opts.format), nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, cleanup, err := startLogging(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	overrides := config.Overrides{
		Purpose: opts.purpose,
		TopK:    opts.topK,
		Mode:    opts.policy,
	}
	if cmd.Flags().Changed("fallback-on-empty") {
		v := opts.fallbackOnEmpty
		overrides.FallbackOnEmpty = &v
	}
	policy, err := cfg.PolicyFor(overrides)
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg, logger, opts.corpus)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	logger.Info("search_started",
		slog.String("mode", string(policy.Mode)),
		slog.Int("top_k", policy.ResultLimit()))
	outcome, err := a.orchestrator.Retrieve(ctx, query, policy)
	if outcome != nil {
		if rerr := renderOutcome(cmd, outcome, opts); rerr != nil {
			return rerr
		}
	}
	return err
}

func renderOutcome(cmd *cobra.Command, outcome *retrieval.Outcome, opts searchOptions) error {
	out := cmd.OutOrStdout()
	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(outcome)
	}
	return ui.RenderOutcome(out, outcome, ui.ResultOptions{
		Styles:  ui.StylesFor(out, opts.noColor),
		Explain: opts.explain,
	})
}
