package local

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/kbretrieve/internal/errors"
)

func writeCorpus(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const yamlCorpus = `documents:
  - id: kb-1
    content: Reset your password from the account settings page.
    metadata:
      title: Password reset
  - id: kb-2
    content: Invoices are emailed on the first day of the month.
`

func TestLoadCorpus_Formats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml", "kb.yaml", yamlCorpus},
		{"yml", "kb.yml", yamlCorpus},
		{"toml", "kb.toml", `
[[documents]]
id = "kb-1"
content = "Reset your password from the account settings page."
[documents.metadata]
title = "Password reset"

[[documents]]
id = "kb-2"
content = "Invoices are emailed on the first day of the month."
`},
		{"json", "kb.json", `{"documents": [
  {"id": "kb-1", "content": "Reset your password from the account settings page.", "metadata": {"title": "Password reset"}},
  {"id": "kb-2", "content": "Invoices are emailed on the first day of the month."}
]}`},
		{"jsonl", "kb.jsonl", `{"id":"kb-1","content":"Reset your password from the account settings page.","metadata":{"title":"Password reset"}}

{"id":"kb-2","content":"Invoices are emailed on the first day of the month."}
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a two-document corpus file
			path := writeCorpus(t, tt.file, tt.content)

			// When: loading it
			docs, err := LoadCorpus(path)

			// Then: both documents come back in file order with metadata
			require.NoError(t, err)
			require.Len(t, docs, 2)
			assert.Equal(t, "kb-1", docs[0].ID)
			assert.Equal(t, "kb-2", docs[1].ID)
			assert.Equal(t, "Password reset", docs[0].Metadata["title"])
			assert.Nil(t, docs[1].Metadata)
		})
	}
}

func TestLoadCorpus_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"missing id", "kb.yaml", "documents:\n  - content: text\n"},
		{"missing content", "kb.yaml", "documents:\n  - id: a\n    content: '  '\n"},
		{"duplicate id", "kb.jsonl", `{"id":"a","content":"x"}` + "\n" + `{"id":"a","content":"y"}` + "\n"},
		{"bad yaml", "kb.yaml", "documents: [\n"},
		{"bad toml", "kb.toml", "documents = \n"},
		{"bad json", "kb.json", `{"documents": [`},
		{"bad jsonl line", "kb.jsonl", `{"id":"a","content":"x"}` + "\n{not json}\n"},
		{"unknown extension", "kb.csv", "id,content\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeCorpus(t, tt.file, tt.content)

			_, err := LoadCorpus(path)

			require.Error(t, err)
			assert.Equal(t, amerrors.ErrCodeCorpusInvalid, amerrors.GetCode(err))
		})
	}
}

func TestLoadCorpus_MissingFile(t *testing.T) {
	_, err := LoadCorpus(filepath.Join(t.TempDir(), "absent.yaml"))

	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeFileNotFound, amerrors.GetCode(err))
	assert.True(t, amerrors.IsCategory(err, amerrors.CategoryIO))
}
