package local

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	amerrors "github.com/Aman-CERP/kbretrieve/internal/errors"
	"github.com/Aman-CERP/kbretrieve/internal/store"
)

// corpusEntry is one document as written in a corpus file.
type corpusEntry struct {
	ID       string         `yaml:"id" toml:"id" json:"id"`
	Content  string         `yaml:"content" toml:"content" json:"content"`
	Metadata map[string]any `yaml:"metadata" toml:"metadata" json:"metadata"`
}

type corpusFile struct {
	Documents []corpusEntry `yaml:"documents" toml:"documents" json:"documents"`
}

// LoadCorpus reads a corpus file. The format is chosen by extension:
// .yaml/.yml, .toml and .json hold a top-level documents list, .jsonl holds
// one JSON object per line.
func LoadCorpus(path string) ([]*store.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, amerrors.IOError("cannot read corpus", err).
			WithDetail("path", path).
			WithSuggestion("Check local.corpus_path in your config")
	}

	var entries []corpusEntry
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		var f corpusFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, corpusError(path, "invalid YAML", err)
		}
		entries = f.Documents
	case ".toml":
		var f corpusFile
		if err := toml.Unmarshal(data, &f); err != nil {
			return nil, corpusError(path, "invalid TOML", err)
		}
		entries = f.Documents
	case ".json":
		var f corpusFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, corpusError(path, "invalid JSON", err)
		}
		entries = f.Documents
	case ".jsonl", ".ndjson":
		entries, err = parseJSONL(data)
		if err != nil {
			return nil, corpusError(path, "invalid JSONL", err)
		}
	default:
		return nil, corpusError(path, fmt.Sprintf("unsupported corpus format %q", ext), nil).
			WithSuggestion("Use a .yaml, .toml, .json or .jsonl file")
	}

	return toDocuments(path, entries)
}

func parseJSONL(data []byte) ([]corpusEntry, error) {
	var entries []corpusEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var e corpusEntry
		if err := json.Unmarshal(text, &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

func toDocuments(path string, entries []corpusEntry) ([]*store.Document, error) {
	seen := make(map[string]struct{}, len(entries))
	docs := make([]*store.Document, 0, len(entries))
	for i, e := range entries {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return nil, corpusError(path, fmt.Sprintf("document %d has no id", i+1), nil)
		}
		if strings.TrimSpace(e.Content) == "" {
			return nil, corpusError(path, fmt.Sprintf("document %q has no content", id), nil)
		}
		if _, dup := seen[id]; dup {
			return nil, corpusError(path, fmt.Sprintf("duplicate document id %q", id), nil)
		}
		seen[id] = struct{}{}
		docs = append(docs, &store.Document{ID: id, Content: e.Content, Metadata: e.Metadata})
	}
	return docs, nil
}

func corpusError(path, msg string, cause error) *amerrors.KBError {
	return amerrors.New(amerrors.ErrCodeCorpusInvalid, msg, cause).WithDetail("path", path)
}
