package server

import (
	"encoding/json"
	"strings"

	"github.com/Aman-CERP/kbretrieve/internal/config"
	amerrors "github.com/Aman-CERP/kbretrieve/internal/errors"
	"github.com/Aman-CERP/kbretrieve/internal/retrieval"
)

// SearchRequest is the body of POST /v1/search.
type SearchRequest struct {
	// Query is the search text (required).
	Query string `json:"query"`

	// Policy overrides the configured selection mode.
	Policy string `json:"policy,omitempty"`

	// FallbackOnEmpty overrides retrieval.fallback_on_empty when present.
	FallbackOnEmpty *bool `json:"fallback_on_empty,omitempty"`

	// TopK overrides the resolved top-k for the purpose.
	TopK int `json:"top_k,omitempty"`

	// Purpose is "direct" (default) or "assist".
	Purpose string `json:"purpose,omitempty"`
}

// Validate checks that required fields are present.
func (r *SearchRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return amerrors.New(amerrors.ErrCodeQueryEmpty, "query is required", nil)
	}
	if r.TopK < 0 {
		return amerrors.ValidationError("top_k must not be negative", nil)
	}
	return nil
}

// Overrides converts the request into per-call policy overrides.
func (r *SearchRequest) Overrides() config.Overrides {
	return config.Overrides{
		Purpose:         r.Purpose,
		TopK:            r.TopK,
		Mode:            r.Policy,
		FallbackOnEmpty: r.FallbackOnEmpty,
	}
}

// ErrorResponse is returned with every non-2xx status. Outcome is present when
// the retrieval itself ran and failed.
type ErrorResponse struct {
	Error   json.RawMessage    `json:"error"`
	Outcome *retrieval.Outcome `json:"outcome,omitempty"`
}

// HealthResult is the body of GET /healthz.
type HealthResult struct {
	Status   string            `json:"status"`
	Uptime   string            `json:"uptime"`
	Version  string            `json:"version"`
	Backends map[string]string `json:"backends,omitempty"`
}
