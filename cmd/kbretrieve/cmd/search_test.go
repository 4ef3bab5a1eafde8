package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/kbretrieve/internal/errors"
	"github.com/Aman-CERP/kbretrieve/internal/retrieval"
)

func TestSearchCmd_Flags(t *testing.T) {
	cmd := NewRootCmd()
	searchCmd, _, err := cmd.Find([]string{"search"})
	require.NoError(t, err)

	for flag, def := range map[string]string{
		"policy":            "",
		"fallback-on-empty": "false",
		"top-k":             "0",
		"purpose":           "direct",
		"format":            "text",
		"explain":           "false",
		"corpus":            "",
	} {
		f := searchCmd.Flags().Lookup(flag)
		require.NotNil(t, f, flag)
		assert.Equal(t, def, f.DefValue, flag)
	}
}

func TestSearchCmd_LocalCorpusText(t *testing.T) {
	// Given: a corpus file and no remote
	isolate(t)
	corpus := writeFile(t, t.TempDir(), "kb.yaml", testCorpus)

	// When: searching strict-local with explain
	out, err := execute(t, "search", "reset", "password",
		"--corpus", corpus, "--policy", "strict-local", "--explain", "--dir", t.TempDir())

	// Then: the password article ranks first and the explain footer is shown
	require.NoError(t, err)
	lines := strings.Split(out, "\n")
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], "kb-1")
	assert.Contains(t, out, "Password reset")
	assert.Contains(t, out, "backend_used")
	assert.Contains(t, out, "LOCAL")
}

func TestSearchCmd_JSONOutput(t *testing.T) {
	isolate(t)
	corpus := writeFile(t, t.TempDir(), "kb.yaml", testCorpus)

	out, err := execute(t, "search", "invoices emailed",
		"--corpus", corpus, "--policy", "strict-local", "--format", "json", "--top-k", "1", "--dir", t.TempDir())

	require.NoError(t, err)
	var o retrieval.Outcome
	require.NoError(t, json.Unmarshal([]byte(out), &o))
	require.Len(t, o.Results, 1)
	assert.Equal(t, "kb-2", o.Results[0].ID)
	assert.Equal(t, retrieval.UsedLocal, o.BackendUsed)
	assert.Equal(t, retrieval.ModeStrictLocal, o.Mode)
	assert.NotEmpty(t, o.RequestID)
}

func TestSearchCmd_ConfiguredCorpusIsRelativeToDir(t *testing.T) {
	// Given: a project config naming a corpus next to it
	isolate(t)
	dir := t.TempDir()
	writeFile(t, dir, "kb.yaml", testCorpus)
	writeFile(t, dir, ".kbretrieve.yaml", "retrieval:\n  policy: local_only\nlocal:\n  corpus_path: kb.yaml\n")

	// When
	out, err := execute(t, "search", "two factor", "--dir", dir)

	// Then
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "1. kb-3"), out)
}

func TestSearchCmd_NoBackendConfigured(t *testing.T) {
	isolate(t)

	_, err := execute(t, "search", "anything", "--dir", t.TempDir())

	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeConfigInvalid, amerrors.GetCode(err))
}

func TestSearchCmd_InvalidFlags(t *testing.T) {
	isolate(t)
	corpus := writeFile(t, t.TempDir(), "kb.yaml", testCorpus)

	_, err := execute(t, "search", "q", "--corpus", corpus, "--format", "xml")
	assert.Equal(t, amerrors.ErrCodeInvalidInput, amerrors.GetCode(err))

	_, err = execute(t, "search", "q", "--corpus", corpus, "--policy", "azure_first", "--dir", t.TempDir())
	assert.Equal(t, amerrors.ErrCodeInvalidInput, amerrors.GetCode(err))

	_, err = execute(t, "search", "--corpus", corpus)
	assert.Error(t, err, "query argument is required")
}

func TestSearchCmd_StrictRemoteWithoutRemote(t *testing.T) {
	// Given: only a local corpus
	isolate(t)
	corpus := writeFile(t, t.TempDir(), "kb.yaml", testCorpus)

	// When: the default strict-remote policy is used
	out, err := execute(t, "search", "password", "--corpus", corpus, "--dir", t.TempDir())

	// Then: the call fails as a policy violation and says so
	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodePolicyViolation, amerrors.GetCode(err))
	assert.Contains(t, out, "retrieval failed")
}

func TestSearchCmd_PreferRemoteFallsBackToLocal(t *testing.T) {
	// Given: a remote index that is down and a local corpus
	isolate(t)
	var calls atomic.Int32
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"index warming up"}}`))
	}))
	t.Cleanup(remote.Close)
	t.Setenv("KBRETRIEVE_REMOTE_ENDPOINT", remote.URL)
	t.Setenv("KBRETRIEVE_REMOTE_INDEX", "kb")
	corpus := writeFile(t, t.TempDir(), "kb.yaml", testCorpus)

	// When
	out, err := execute(t, "search", "reset password",
		"--corpus", corpus, "--policy", "prefer-remote", "--format", "json", "--dir", t.TempDir())

	// Then: local answers and the remote failure is recorded as recovered
	require.NoError(t, err)
	assert.Positive(t, calls.Load())
	var o retrieval.Outcome
	require.NoError(t, json.Unmarshal([]byte(out), &o))
	assert.Equal(t, retrieval.UsedLocal, o.BackendUsed)
	assert.True(t, o.FallbackTriggered)
	require.NotEmpty(t, o.Results)
	assert.Equal(t, "kb-1", o.Results[0].ID)
	recovered := o.RecoveredErrors()
	require.NotEmpty(t, recovered)
	assert.Equal(t, retrieval.RemoteName, recovered[0].Backend)
	assert.Equal(t, amerrors.ErrCodeBackendTransport, recovered[0].Code)
}

func TestSearchCmd_RemoteAnswers(t *testing.T) {
	isolate(t)
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "remote-key", r.Header.Get("api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":[{"@search.score":3.2,"id":"az-7","content":"Refunds take five days."}]}`))
	}))
	t.Cleanup(remote.Close)
	t.Setenv("KBRETRIEVE_REMOTE_ENDPOINT", remote.URL)
	t.Setenv("KBRETRIEVE_REMOTE_INDEX", "kb")
	t.Setenv("KBRETRIEVE_REMOTE_API_KEY", "remote-key")

	out, err := execute(t, "search", "refund", "--format", "json", "--dir", t.TempDir())

	require.NoError(t, err)
	var o retrieval.Outcome
	require.NoError(t, json.Unmarshal([]byte(out), &o))
	assert.Equal(t, retrieval.UsedRemote, o.BackendUsed)
	require.Len(t, o.Results, 1)
	assert.Equal(t, "az-7", o.Results[0].ID)
	assert.Equal(t, []string{retrieval.RemoteName}, o.Results[0].Origins)
}
