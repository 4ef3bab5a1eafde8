package cmd

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/kbretrieve/internal/backend/local"
	"github.com/Aman-CERP/kbretrieve/internal/backend/remote"
	"github.com/Aman-CERP/kbretrieve/internal/config"
	"github.com/Aman-CERP/kbretrieve/internal/embed"
	amerrors "github.com/Aman-CERP/kbretrieve/internal/errors"
	"github.com/Aman-CERP/kbretrieve/internal/retrieval"
	"github.com/Aman-CERP/kbretrieve/internal/search"
	"github.com/Aman-CERP/kbretrieve/internal/server"
	"github.com/Aman-CERP/kbretrieve/internal/telemetry"
)

// app is the wired retrieval stack shared by search and serve.
type app struct {
	orchestrator *retrieval.Orchestrator
	metrics      *telemetry.RetrievalMetrics
	remote       *remote.Backend
	local        *local.Backend
	embedder     embed.Embedder
}

// buildApp wires backends, embedder, judge and metrics from cfg. corpus, when
// set, replaces local.corpus_path.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, corpus string) (*app, error) {
	a := &app{metrics: telemetry.NewRetrievalMetrics()}

	embedder, err := newEmbedder(cfg.Embeddings)
	if err != nil {
		return nil, err
	}
	a.embedder = embedder

	if corpus == "" && cfg.Local.CorpusPath != "" {
		corpus = cfg.Local.CorpusPath
		if !filepath.IsAbs(corpus) {
			corpus = filepath.Join(projectDir, corpus)
		}
	}
	if corpus != "" {
		opts := []local.Option{
			local.WithLogger(logger),
			local.WithWorkers(cfg.Local.Workers),
			local.WithBatchSize(cfg.Local.BatchSize),
		}
		if embedder != nil {
			opts = append(opts, local.WithEmbedder(embedder))
		}
		lb, err := local.Open(ctx, corpus, opts...)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.local = lb
	}

	if cfg.RemoteEnabled() {
		rb, err := remote.New(cfg.Remote.BackendConfig(), remote.WithLogger(logger))
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.remote = rb
	}

	if a.remote == nil && a.local == nil {
		_ = a.Close()
		return nil, amerrors.ConfigError("no retrieval backend configured", nil).
			WithSuggestion("Set remote.endpoint and remote.index, or local.corpus_path (or pass --corpus)")
	}

	opts := []retrieval.Option{
		retrieval.WithLogger(logger),
		retrieval.WithMetrics(a.metrics),
	}
	if embedder != nil {
		opts = append(opts, retrieval.WithEmbedder(embedder))
	}
	if cfg.Judge.Enabled {
		judge, err := newJudge(cfg.Judge)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		opts = append(opts, retrieval.WithJudge(judge))
	}

	// typed nil pointers must not reach the orchestrator as non-nil interfaces
	var remoteBackend, localBackend retrieval.Backend
	if a.remote != nil {
		remoteBackend = a.remote
	}
	if a.local != nil {
		localBackend = a.local
	}
	orch, err := retrieval.NewOrchestrator(remoteBackend, localBackend, opts...)
	if err != nil {
		_ = a.Close()
		return nil, amerrors.InternalError("create orchestrator", err)
	}
	a.orchestrator = orch

	logger.Info("retrieval_ready",
		slog.Bool("remote", a.remote != nil),
		slog.Bool("local", a.local != nil),
		slog.Bool("embedder", embedder != nil),
		slog.Bool("judge", cfg.Judge.Enabled))
	return a, nil
}

func newEmbedder(cfg config.EmbeddingsConfig) (embed.Embedder, error) {
	if strings.EqualFold(cfg.Provider, "none") {
		return nil, nil
	}
	var e embed.Embedder = embed.NewStaticEmbedder(embed.WithDimensions(cfg.Dimensions))
	if cfg.CacheSize > 0 {
		cached, err := embed.NewCachedEmbedder(e, cfg.CacheSize)
		if err != nil {
			return nil, amerrors.InternalError("create embedding cache", err)
		}
		e = cached
	}
	return e, nil
}

func newJudge(cfg config.JudgeConfig) (search.AlphaJudge, error) {
	sc := cfg.SearchConfig()
	var judge search.AlphaJudge = search.NewLLMJudge(sc)
	if sc.CacheSize > 0 {
		cached, err := search.NewCachedJudge(judge, sc.CacheSize)
		if err != nil {
			return nil, amerrors.InternalError("create judge cache", err)
		}
		judge = cached
	}
	return judge, nil
}

// healthChecks reports backend state on /healthz.
func (a *app) healthChecks() []server.Option {
	var opts []server.Option
	if a.remote != nil {
		opts = append(opts, server.WithHealthCheck(retrieval.RemoteName, a.remote.BreakerState))
	}
	if a.local != nil {
		lb := a.local
		opts = append(opts, server.WithHealthCheck(retrieval.LocalName, func() string {
			if lb.HasVectors() {
				return "ready"
			}
			return "ready (lexical only)"
		}))
	}
	return opts
}

// Close releases the local index and the embedder.
func (a *app) Close() error {
	var errs []error
	if a.local != nil {
		errs = append(errs, a.local.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	return errors.Join(errs...)
}
