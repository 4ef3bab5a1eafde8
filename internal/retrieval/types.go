// Package retrieval selects search backends according to a policy, fuses their
// lexical and vector lists and reports what happened along the way.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/kbretrieve/internal/search"
)

// ErrNilDependency is returned when a required collaborator is nil.
var ErrNilDependency = errors.New("nil dependency")

// Backend names used in logs, metrics and error descriptors.
const (
	RemoteName = "remote"
	LocalName  = "local"
)

// Query is what a backend receives. Embedding is nil when no query vector is
// available, in which case the backend returns lexical results only.
type Query struct {
	Text      string
	TopK      int
	Embedding []float32
}

// Response holds a backend's lexical and vector lists, each best first.
type Response struct {
	Lexical      []search.ScoredDocument
	Vector       []search.ScoredDocument
	VectorMetric search.VectorMetric
}

// Empty reports whether neither list holds a document.
func (r *Response) Empty() bool {
	return r == nil || (len(r.Lexical) == 0 && len(r.Vector) == 0)
}

// Backend is a searchable document store.
//
// Search returns a *errors.KBError classified as auth, transport or config on
// failure; anything else is treated as a transport failure.
type Backend interface {
	Name() string
	Search(ctx context.Context, q Query) (*Response, error)
}

// Mode selects which backends a call may use.
type Mode string

const (
	ModeStrictRemote Mode = "strict-remote"
	ModeStrictLocal  Mode = "strict-local"
	ModePreferRemote Mode = "prefer-remote"
	ModePreferLocal  Mode = "prefer-local"
	// ModeFederated queries both backends concurrently and merges their lists.
	ModeFederated Mode = "federated"
)

// DefaultMode keeps retrieval on the remote index unless told otherwise.
const DefaultMode = ModeStrictRemote

var modeAliases = map[string]Mode{
	"azure_only":   ModeStrictRemote,
	"local_only":   ModeStrictLocal,
	"prefer_azure": ModePreferRemote,
	"prefer_local": ModePreferLocal,
}

// ParseMode accepts canonical mode names and the legacy aliases
// azure_only, local_only, prefer_azure and prefer_local. Matching ignores case,
// surrounding space and the choice of '-' or '_'.
func ParseMode(s string) (Mode, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if m, ok := modeAliases[key]; ok {
		return m, nil
	}
	m := Mode(strings.ReplaceAll(key, "_", "-"))
	if m.Valid() {
		return m, nil
	}
	return "", fmt.Errorf("unknown retrieval mode %q", s)
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeStrictRemote, ModeStrictLocal, ModePreferRemote, ModePreferLocal, ModeFederated:
		return true
	}
	return false
}

// Modes lists every mode in a stable order.
func Modes() []Mode {
	return []Mode{ModeStrictRemote, ModeStrictLocal, ModePreferRemote, ModePreferLocal, ModeFederated}
}

// Default limits.
const (
	DefaultTopK          = 5
	DefaultCandidateTopK = 20
)

// Policy controls one Retrieve call. It is passed by value and never modified.
type Policy struct {
	Mode Mode

	// FallbackOnEmpty lets prefer-* modes query the secondary backend when the
	// primary succeeded with no results.
	FallbackOnEmpty bool

	// TopK caps the fused results; ModeTopK overrides it per mode.
	TopK     int
	ModeTopK map[Mode]int

	// CandidateTopK is how many documents each backend list is asked for.
	// It is raised to the result limit when smaller.
	CandidateTopK int

	Fusion search.Config

	// SkipMalformed drops documents with a missing id, a non-finite score or a
	// duplicate id instead of failing the call.
	SkipMalformed bool

	// UseJudge lets a configured alpha judge override the signal-based alpha.
	UseJudge bool
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		Mode:          DefaultMode,
		TopK:          DefaultTopK,
		CandidateTopK: DefaultCandidateTopK,
		Fusion:        search.DefaultConfig(),
	}
}

// ResultLimit returns the number of fused results the policy keeps.
func (p Policy) ResultLimit() int {
	if n := p.ModeTopK[p.Mode]; n > 0 {
		return n
	}
	if p.TopK > 0 {
		return p.TopK
	}
	return DefaultTopK
}

// CandidateLimit returns the per-list size requested from backends.
func (p Policy) CandidateLimit() int {
	n := p.CandidateTopK
	if n <= 0 {
		n = DefaultCandidateTopK
	}
	if limit := p.ResultLimit(); n < limit {
		n = limit
	}
	return n
}

// Validate checks the policy can drive a call.
func (p Policy) Validate() error {
	if !p.Mode.Valid() {
		return fmt.Errorf("unknown retrieval mode %q", p.Mode)
	}
	return p.Fusion.Validate()
}

// BackendUsed reports which backends produced the returned results.
type BackendUsed string

const (
	UsedRemote BackendUsed = "REMOTE"
	UsedLocal  BackendUsed = "LOCAL"
	UsedBoth   BackendUsed = "BOTH"
	UsedNone   BackendUsed = "NONE"
)

func usedFor(name string) BackendUsed {
	if name == RemoteName {
		return UsedRemote
	}
	return UsedLocal
}

// AlphaSource reports how the fusion weight was chosen.
type AlphaSource string

const (
	AlphaFromSignal AlphaSource = "signal"
	AlphaFromJudge  AlphaSource = "judge"
	// AlphaSingle means only one source had results, so alpha is exactly 0 or 1.
	AlphaSingle AlphaSource = "single"
	// AlphaNone means no source had results.
	AlphaNone AlphaSource = "none"
)

// ErrorDescriptor describes one error met during a call.
// Recovered errors were absorbed (fallback, skipped document, judge or
// embedding failure) and did not fail the call.
type ErrorDescriptor struct {
	Backend   string `json:"backend"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Recovered bool   `json:"recovered"`
}

// Outcome is the result of one Retrieve call.
type Outcome struct {
	RequestID         string                `json:"request_id"`
	Results           []*search.FusedResult `json:"results"`
	BackendUsed       BackendUsed           `json:"backend_used"`
	FallbackTriggered bool                  `json:"fallback_triggered"`
	Errors            []ErrorDescriptor     `json:"errors"`
	Failed            bool                  `json:"failed"`
	Alpha             float64               `json:"alpha"`
	AlphaSource       AlphaSource           `json:"alpha_source"`
	Mode              Mode                  `json:"mode"`
	Elapsed           time.Duration         `json:"elapsed_ns"`
}

// RecoveredErrors returns the descriptors of absorbed errors.
func (o *Outcome) RecoveredErrors() []ErrorDescriptor {
	var out []ErrorDescriptor
	for _, e := range o.Errors {
		if e.Recovered {
			out = append(out, e)
		}
	}
	return out
}
