// Package remote queries a hosted search index over the Azure AI Search REST
// API. Lexical and vector sub-requests run concurrently and the client is
// guarded by a circuit breaker.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	amerrors "github.com/Aman-CERP/kbretrieve/internal/errors"
	"github.com/Aman-CERP/kbretrieve/internal/retrieval"
	"github.com/Aman-CERP/kbretrieve/internal/search"
	"github.com/Aman-CERP/kbretrieve/pkg/version"
)

// Default configuration values.
const (
	DefaultAPIVersion      = "2024-07-01"
	DefaultIDField         = "id"
	DefaultContentField    = "content"
	DefaultVectorField     = "contentVector"
	DefaultTimeout         = 10 * time.Second
	DefaultBreakerFailures = 5
	DefaultBreakerCooldown = 30 * time.Second
)

// Config describes the remote index.
type Config struct {
	Endpoint   string
	Index      string
	APIKey     string
	APIVersion string

	IDField      string
	ContentField string
	VectorField  string

	// Timeout bounds one search call including both sub-requests.
	Timeout time.Duration

	// BreakerFailures is the number of consecutive transport failures that
	// opens the breaker. BreakerCooldown is how long it stays open.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// DefaultConfig returns a Config with everything but the endpoint, index and key set.
func DefaultConfig() Config {
	return Config{
		APIVersion:      DefaultAPIVersion,
		IDField:         DefaultIDField,
		ContentField:    DefaultContentField,
		VectorField:     DefaultVectorField,
		Timeout:         DefaultTimeout,
		BreakerFailures: DefaultBreakerFailures,
		BreakerCooldown: DefaultBreakerCooldown,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.APIVersion == "" {
		c.APIVersion = d.APIVersion
	}
	if c.IDField == "" {
		c.IDField = d.IDField
	}
	if c.ContentField == "" {
		c.ContentField = d.ContentField
	}
	if c.VectorField == "" {
		c.VectorField = d.VectorField
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = d.BreakerFailures
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = d.BreakerCooldown
	}
}

// Validate reports a missing endpoint or index as a backend config error.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return amerrors.BackendConfigError(retrieval.RemoteName, "remote endpoint is not set", nil).
			WithSuggestion("Set remote.endpoint or KBRETRIEVE_REMOTE_ENDPOINT")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return amerrors.BackendConfigError(retrieval.RemoteName, "remote endpoint is not a valid URL", err).
			WithDetail("endpoint", c.Endpoint)
	}
	if strings.TrimSpace(c.Index) == "" {
		return amerrors.BackendConfigError(retrieval.RemoteName, "remote index is not set", nil).
			WithSuggestion("Set remote.index or KBRETRIEVE_REMOTE_INDEX")
	}
	return nil
}

// Backend is a retrieval.Backend over a remote search index.
type Backend struct {
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*retrieval.Response]
	logger  *slog.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) {
		if c != nil {
			b.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.logger = l
		}
	}
}

// New validates cfg and creates a Backend.
func New(cfg Config, opts ...Option) (*Backend, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	b := &Backend{
		cfg:    cfg,
		client: &http.Client{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.breaker = gobreaker.NewCircuitBreaker[*retrieval.Response](gobreaker.Settings{
		Name:        "remote:" + cfg.Index,
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// only transport failures count against the breaker
		IsSuccessful: func(err error) bool {
			return err == nil || !amerrors.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("circuit_breaker_state_change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return b, nil
}

// Name implements retrieval.Backend.
func (b *Backend) Name() string { return retrieval.RemoteName }

// Search implements retrieval.Backend. The vector sub-request runs only when
// the query carries an embedding.
func (b *Backend) Search(ctx context.Context, q retrieval.Query) (*retrieval.Response, error) {
	resp, err := b.breaker.Execute(func() (*retrieval.Response, error) {
		return b.search(ctx, q)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, amerrors.New(amerrors.ErrCodeCircuitOpen, "remote circuit breaker is open", err).
			WithDetail("backend", retrieval.RemoteName)
	}
	return resp, err
}

// BreakerState returns the circuit breaker state name.
func (b *Backend) BreakerState() string {
	return b.breaker.State().String()
}

func (b *Backend) search(ctx context.Context, q retrieval.Query) (*retrieval.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	k := q.TopK
	if k <= 0 {
		k = retrieval.DefaultCandidateTopK
	}

	var lexical, vector []search.ScoredDocument
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lexical, err = b.query(gctx, searchRequest{
			Search:    q.Text,
			QueryType: "simple",
			Top:       k,
		})
		return err
	})
	if len(q.Embedding) > 0 {
		g.Go(func() error {
			var err error
			vector, err = b.query(gctx, searchRequest{
				Top: k,
				VectorQueries: []vectorQuery{{
					Kind:       "vector",
					Vector:     q.Embedding,
					Fields:     b.cfg.VectorField,
					K:          k,
					Exhaustive: true,
				}},
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &retrieval.Response{
		Lexical:      lexical,
		Vector:       vector,
		VectorMetric: search.MetricSimilarity,
	}, nil
}

type searchRequest struct {
	Search        string        `json:"search,omitempty"`
	QueryType     string        `json:"queryType,omitempty"`
	Top           int           `json:"top"`
	VectorQueries []vectorQuery `json:"vectorQueries,omitempty"`
}

type vectorQuery struct {
	Kind       string    `json:"kind"`
	Vector     []float32 `json:"vector"`
	Fields     string    `json:"fields"`
	K          int       `json:"k"`
	Exhaustive bool      `json:"exhaustive,omitempty"`
}

type searchResponse struct {
	Value []map[string]any `json:"value"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (b *Backend) searchURL() string {
	return fmt.Sprintf("%s/indexes/%s/docs/search?api-version=%s",
		b.cfg.Endpoint, url.PathEscape(b.cfg.Index), url.QueryEscape(b.cfg.APIVersion))
}

// query sends one search request and maps the hits.
func (b *Backend) query(ctx context.Context, body searchRequest) ([]search.ScoredDocument, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, amerrors.InternalError("marshal search request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.searchURL(), bytes.NewReader(payload))
	if err != nil {
		return nil, amerrors.BackendConfigError(retrieval.RemoteName, "build search request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if b.cfg.APIKey != "" {
		req.Header.Set("api-key", b.cfg.APIKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, amerrors.BackendTransportError(retrieval.RemoteName, "decode search response", err)
	}
	return b.mapHits(decoded.Value), nil
}

// mapHits converts index rows to scored documents. Rows without an id are
// passed through with an empty ID so fusion validation can report them.
func (b *Backend) mapHits(rows []map[string]any) []search.ScoredDocument {
	out := make([]search.ScoredDocument, 0, len(rows))
	for _, row := range rows {
		doc := search.ScoredDocument{Origin: retrieval.RemoteName}
		doc.ID = stringField(row[b.cfg.IDField])
		doc.Content = stringField(row[b.cfg.ContentField])
		if score, ok := row["@search.score"].(float64); ok {
			doc.RawScore = score
		}

		for key, val := range row {
			if key == b.cfg.IDField || key == b.cfg.ContentField || key == b.cfg.VectorField ||
				strings.HasPrefix(key, "@") {
				continue
			}
			if doc.Metadata == nil {
				doc.Metadata = make(map[string]any)
			}
			doc.Metadata[key] = val
		}
		out = append(out, doc)
	}
	return out
}

func stringField(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func transportError(ctx context.Context, err error) error {
	// caller cancellation stays a plain context error
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return amerrors.New(amerrors.ErrCodeNetworkTimeout, "remote search timed out", err).
				WithDetail("backend", retrieval.RemoteName)
		}
		return ctxErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return amerrors.New(amerrors.ErrCodeNetworkTimeout, "remote search timed out", err).
			WithDetail("backend", retrieval.RemoteName)
	}
	return amerrors.BackendTransportError(retrieval.RemoteName, "remote search unreachable", err)
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	var er errorResponse
	if json.Unmarshal(raw, &er) == nil && er.Error.Message != "" {
		msg = er.Error.Message
	}
	cause := fmt.Errorf("status %d: %s", resp.StatusCode, msg)

	var ke *amerrors.KBError
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		ke = amerrors.BackendAuthError(retrieval.RemoteName, "remote index rejected the credentials", cause).
			WithSuggestion("Check remote.api_key or KBRETRIEVE_REMOTE_API_KEY")
	case resp.StatusCode == http.StatusNotFound:
		ke = amerrors.BackendConfigError(retrieval.RemoteName, "remote index not found", cause)
	case resp.StatusCode == http.StatusBadRequest:
		ke = amerrors.BackendConfigError(retrieval.RemoteName, "remote index rejected the request", cause)
	default:
		// 429 and 5xx
		ke = amerrors.BackendTransportError(retrieval.RemoteName, "remote search failed", cause)
	}
	return ke.WithDetail("status", fmt.Sprint(resp.StatusCode))
}

var _ retrieval.Backend = (*Backend)(nil)
