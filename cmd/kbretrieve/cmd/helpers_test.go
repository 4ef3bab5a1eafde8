package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testCorpus = `documents:
  - id: kb-1
    content: Reset your password from the account settings page.
    metadata:
      title: Password reset
  - id: kb-2
    content: Invoices are emailed on the first day of the month.
  - id: kb-3
    content: Turn on two factor authentication under security settings.
`

// isolate points HOME and XDG_CONFIG_HOME at temp dirs and clears every
// environment override so tests never read the developer's setup.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("NO_COLOR", "1")
	for _, prefix := range []string{"KB_", "KBRETRIEVE_"} {
		for _, key := range []string{"POLICY", "FALLBACK_ON_EMPTY", "TOPK_DIRECT", "TOPK_ASSIST"} {
			t.Setenv(prefix+key, "")
			require.NoError(t, os.Unsetenv(prefix+key))
		}
	}
	for _, key := range []string{"REMOTE_ENDPOINT", "REMOTE_INDEX", "REMOTE_API_KEY", "LOCAL_CORPUS", "LOG_LEVEL", "JUDGE_ENABLED"} {
		t.Setenv("KBRETRIEVE_"+key, "")
		require.NoError(t, os.Unsetenv("KBRETRIEVE_"+key))
	}
	return home
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}
