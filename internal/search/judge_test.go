package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJudgement(t *testing.T) {
	tests := []struct {
		input string
		want  Judgement
	}{
		{"4 2", Judgement{Vector: 4, Lexical: 2}},
		{"Scores: 5, 0", Judgement{Vector: 5, Lexical: 0}},
		{"3 1 9", Judgement{Vector: 3, Lexical: 1}},
		{"6 2", Judgement{}},
		{"-1 3", Judgement{}},
		{"only 4", Judgement{}},
		{"", Judgement{}},
		{"no numbers here", Judgement{}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseJudgement(tt.input))
		})
	}
}

func TestJudgement_Alpha(t *testing.T) {
	tests := []struct {
		j    Judgement
		want float64
	}{
		{Judgement{0, 0}, 0.5},
		{Judgement{5, 3}, 1.0},
		{Judgement{2, 5}, 0.0},
		{Judgement{5, 5}, 0.5},
		{Judgement{3, 1}, 0.8},
		{Judgement{1, 2}, 0.3},
		{Judgement{0, 4}, 0.0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.j.Alpha(), "judgement %+v", tt.j)
	}
}

func TestLLMJudge_Judge(t *testing.T) {
	// Given: an Ollama-compatible server that scores vector 4, lexical 1
	var gotRequest chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRequest))
		_ = json.NewEncoder(w).Encode(chatResponse{
			Message: chatMessage{Role: "assistant", Content: "4 1"},
			Done:    true,
		})
	}))
	defer server.Close()

	judge := NewLLMJudge(JudgeConfig{OllamaHost: server.URL, Model: "test-model", MaxContentChars: 10})

	// When: judging
	alpha, err := judge.Judge(context.Background(), "what is bm25",
		ScoredDocument{ID: "l", Content: strings.Repeat("L", 50)},
		ScoredDocument{ID: "v", Content: "vector text"})

	// Then: alpha reflects the scores and content was truncated
	require.NoError(t, err)
	assert.Equal(t, 0.8, alpha)
	assert.Equal(t, "test-model", gotRequest.Model)
	require.Len(t, gotRequest.Messages, 2)
	assert.Contains(t, gotRequest.Messages[1].Content, "Question: what is bm25")
	assert.Contains(t, gotRequest.Messages[1].Content, strings.Repeat("L", 10)+"\n")
	assert.NotContains(t, gotRequest.Messages[1].Content, strings.Repeat("L", 11))
}

func TestLLMJudge_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	judge := NewLLMJudge(JudgeConfig{OllamaHost: server.URL})

	_, err := judge.Judge(context.Background(), "q", ScoredDocument{}, ScoredDocument{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

type countingJudge struct {
	calls atomic.Int32
	alpha float64
	err   error
}

func (c *countingJudge) Judge(context.Context, string, ScoredDocument, ScoredDocument) (float64, error) {
	c.calls.Add(1)
	return c.alpha, c.err
}

func TestCachedJudge_CachesByNormalizedQuery(t *testing.T) {
	inner := &countingJudge{alpha: 0.7}
	judge, err := NewCachedJudge(inner, 8)
	require.NoError(t, err)

	a1, err := judge.Judge(context.Background(), "  What Is BM25 ", ScoredDocument{}, ScoredDocument{})
	require.NoError(t, err)
	a2, err := judge.Judge(context.Background(), "what is bm25", ScoredDocument{}, ScoredDocument{})
	require.NoError(t, err)

	assert.Equal(t, 0.7, a1)
	assert.Equal(t, a1, a2)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, 1, judge.Len())
}

func TestCachedJudge_DoesNotCacheErrors(t *testing.T) {
	inner := &countingJudge{err: errors.New("timeout")}
	judge, err := NewCachedJudge(inner, 0)
	require.NoError(t, err)

	_, err = judge.Judge(context.Background(), "q", ScoredDocument{}, ScoredDocument{})
	require.Error(t, err)
	_, err = judge.Judge(context.Background(), "q", ScoredDocument{}, ScoredDocument{})
	require.Error(t, err)

	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Zero(t, judge.Len())
}
