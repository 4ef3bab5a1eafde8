package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Default judge configuration values.
const (
	DefaultJudgeModel        = "llama3.2:1b"
	DefaultJudgeTimeout      = 5 * time.Second
	DefaultJudgeCacheSize    = 10000
	DefaultJudgeContentChars = 1500
	DefaultOllamaHost        = "http://localhost:11434"
)

// AlphaJudge picks alpha by asking an external model which top result answers the query better.
type AlphaJudge interface {
	Judge(ctx context.Context, query string, topLexical, topVector ScoredDocument) (float64, error)
}

// Judgement holds the 0-5 relevance scores a judge assigned to the top vector and lexical results.
type Judgement struct {
	Vector  int
	Lexical int
}

var judgementNumber = regexp.MustCompile(`-?\d+`)

// ParseJudgement extracts "<vector> <lexical>" from model output.
// Anything unparseable or outside 0-5 yields the zero Judgement.
func ParseJudgement(text string) Judgement {
	nums := judgementNumber.FindAllString(text, 2)
	if len(nums) < 2 {
		return Judgement{}
	}
	sv, err1 := strconv.Atoi(nums[0])
	sl, err2 := strconv.Atoi(nums[1])
	if err1 != nil || err2 != nil {
		return Judgement{}
	}
	if sv < 0 || sv > 5 || sl < 0 || sl > 5 {
		return Judgement{}
	}
	return Judgement{Vector: sv, Lexical: sl}
}

// Alpha converts the judgement to a vector weight rounded to one decimal.
//
//   - both zero: 0.5
//   - vector 5, lexical not 5: 1.0
//   - lexical 5, vector not 5: 0.0
//   - otherwise vector / (vector + lexical)
func (j Judgement) Alpha() float64 {
	var alpha float64
	switch {
	case j.Vector == 0 && j.Lexical == 0:
		alpha = 0.5
	case j.Vector == 5 && j.Lexical != 5:
		alpha = 1.0
	case j.Lexical == 5 && j.Vector != 5:
		alpha = 0.0
	default:
		alpha = float64(j.Vector) / float64(j.Vector+j.Lexical)
	}
	return math.Round(alpha*10) / 10
}

// JudgeConfig holds configuration for the LLM judge.
type JudgeConfig struct {
	// Model is the Ollama model used for judging (default: llama3.2:1b).
	Model string

	// Timeout bounds a single judge call (default: 5s).
	Timeout time.Duration

	// CacheSize is the LRU size for CachedJudge (default: 10000).
	CacheSize int

	// OllamaHost is the Ollama API base URL (default: http://localhost:11434).
	OllamaHost string

	// MaxContentChars truncates each top result before it is sent (default: 1500).
	MaxContentChars int
}

// DefaultJudgeConfig returns sensible defaults for the judge.
func DefaultJudgeConfig() JudgeConfig {
	return JudgeConfig{
		Model:           DefaultJudgeModel,
		Timeout:         DefaultJudgeTimeout,
		CacheSize:       DefaultJudgeCacheSize,
		OllamaHost:      DefaultOllamaHost,
		MaxContentChars: DefaultJudgeContentChars,
	}
}

// judgeSystemPrompt instructs the model to score both candidates.
const judgeSystemPrompt = `You evaluate two retrieval results for the same question.
Score each result from 0 to 5 for how directly it answers the question:
5 = directly and completely answers it, 0 = unrelated.
Respond with exactly two integers separated by a space:
the score for the dense retrieval result, then the score for the BM25 retrieval result.`

// LLMJudge asks an Ollama model to score the top lexical and vector results.
type LLMJudge struct {
	client *http.Client
	config JudgeConfig
}

// chatMessage is one Ollama /api/chat message.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the Ollama /api/chat request body.
type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

// chatResponse is the Ollama /api/chat response body.
type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

// NewLLMJudge creates a judge backed by Ollama.
func NewLLMJudge(config JudgeConfig) *LLMJudge {
	if config.Model == "" {
		config.Model = DefaultJudgeModel
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultJudgeTimeout
	}
	if config.OllamaHost == "" {
		config.OllamaHost = DefaultOllamaHost
	}
	if config.MaxContentChars <= 0 {
		config.MaxContentChars = DefaultJudgeContentChars
	}

	return &LLMJudge{
		client: &http.Client{Timeout: config.Timeout},
		config: config,
	}
}

// Judge scores both top results and converts the scores to alpha.
func (l *LLMJudge) Judge(ctx context.Context, query string, topLexical, topVector ScoredDocument) (float64, error) {
	prompt := fmt.Sprintf("Question: %s\n\n--- Dense Retrieval Top-1 Result ---\n%s\n\n--- BM25 Retrieval Top-1 Result ---\n%s\n",
		strings.TrimSpace(query),
		truncateRunes(topVector.Content, l.config.MaxContentChars),
		truncateRunes(topLexical.Content, l.config.MaxContentChars))

	body, err := json.Marshal(chatRequest{
		Model: l.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: judgeSystemPrompt},
			{Role: "user", Content: prompt},
		},
		Stream:  false,
		Options: map[string]any{"temperature": 0.0},
	})
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.config.OllamaHost+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}

	return ParseJudgement(result.Message.Content).Alpha(), nil
}

// CachedJudge memoizes alpha per query.
// Keys are the lowercased, trimmed query text.
type CachedJudge struct {
	inner AlphaJudge
	cache *lru.Cache[string, float64]
}

// NewCachedJudge wraps inner with an LRU cache of the given size.
func NewCachedJudge(inner AlphaJudge, size int) (*CachedJudge, error) {
	if size <= 0 {
		size = DefaultJudgeCacheSize
	}
	cache, err := lru.New[string, float64](size)
	if err != nil {
		return nil, fmt.Errorf("create judge cache: %w", err)
	}
	return &CachedJudge{inner: inner, cache: cache}, nil
}

// Judge returns the cached alpha or asks the wrapped judge. Errors are not cached.
func (c *CachedJudge) Judge(ctx context.Context, query string, topLexical, topVector ScoredDocument) (float64, error) {
	key := normalizeQuery(query)
	if alpha, ok := c.cache.Get(key); ok {
		return alpha, nil
	}
	alpha, err := c.inner.Judge(ctx, query, topLexical, topVector)
	if err != nil {
		return 0, err
	}
	c.cache.Add(key, alpha)
	return alpha, nil
}

// Len returns the number of cached judgements.
func (c *CachedJudge) Len() int {
	return c.cache.Len()
}

// normalizeQuery normalizes a query for cache key.
func normalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

var (
	_ AlphaJudge = (*LLMJudge)(nil)
	_ AlphaJudge = (*CachedJudge)(nil)
)
