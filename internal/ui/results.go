package ui

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Aman-CERP/kbretrieve/internal/logging"
	"github.com/Aman-CERP/kbretrieve/internal/retrieval"
	"github.com/Aman-CERP/kbretrieve/internal/search"
)

// DefaultSnippetChars is how much content a result line shows.
const DefaultSnippetChars = 160

// ResultOptions controls RenderOutcome.
type ResultOptions struct {
	Styles Styles
	// Explain adds per-result ranks and scores plus a footer with alpha,
	// the backend used and every error met.
	Explain      bool
	SnippetChars int
}

// RenderOutcome writes a human readable view of o.
func RenderOutcome(w io.Writer, o *retrieval.Outcome, opts ResultOptions) error {
	if o == nil {
		return nil
	}
	s := opts.Styles
	limit := opts.SnippetChars
	if limit <= 0 {
		limit = DefaultSnippetChars
	}

	var b strings.Builder
	if len(o.Results) == 0 {
		b.WriteString(s.Dim.Render("No results."))
		b.WriteString("\n")
	}
	for i, r := range o.Results {
		fmt.Fprintf(&b, "%s %s %s\n",
			s.Rank.Render(fmt.Sprintf("%2d.", i+1)),
			s.ID.Render(r.ID),
			s.Score.Render(fmt.Sprintf("%.4f", r.FusedScore)))
		if title := metadataString(r.Metadata, "title"); title != "" {
			fmt.Fprintf(&b, "    %s\n", title)
		}
		if snippet := Snippet(r.Content, limit); snippet != "" {
			fmt.Fprintf(&b, "    %s\n", s.Dim.Render(snippet))
		}
		if opts.Explain {
			fmt.Fprintf(&b, "    %s\n", s.Label.Render(explainResult(r)))
		}
	}

	if opts.Explain {
		b.WriteString("\n")
		b.WriteString(explainOutcome(o, s))
	} else if o.Failed {
		b.WriteString(s.Error.Render("retrieval failed"))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func explainResult(r *search.FusedResult) string {
	parts := []string{"sources=" + r.Sources.String()}
	if r.LexicalRank > 0 {
		parts = append(parts, fmt.Sprintf("lexical=#%d raw=%.4f norm=%.4f", r.LexicalRank, r.LexicalRaw, r.LexicalNormalized))
	}
	if r.VectorRank > 0 {
		parts = append(parts, fmt.Sprintf("vector=#%d raw=%.4f norm=%.4f", r.VectorRank, r.VectorRaw, r.VectorNormalized))
	}
	if len(r.Origins) > 0 {
		parts = append(parts, "from="+strings.Join(r.Origins, ","))
	}
	return strings.Join(parts, " ")
}

func explainOutcome(o *retrieval.Outcome, s Styles) string {
	var b strings.Builder
	row := func(label, value string) {
		fmt.Fprintf(&b, "%s %s\n", s.Label.Render(fmt.Sprintf("%-18s", label)), value)
	}
	row("mode", string(o.Mode))
	row("backend_used", string(o.BackendUsed))
	row("fallback", fmt.Sprint(o.FallbackTriggered))
	row("alpha", fmt.Sprintf("%.4f (%s)", o.Alpha, o.AlphaSource))
	row("elapsed", o.Elapsed.String())
	if o.RequestID != "" {
		row("request_id", o.RequestID)
	}
	for _, e := range o.Errors {
		style := s.Error
		state := "fatal"
		if e.Recovered {
			style = s.Warning
			state = "recovered"
		}
		line := fmt.Sprintf("%s %s [%s] %s", state, e.Backend, e.Code, e.Message)
		fmt.Fprintf(&b, "%s\n", style.Render(line))
	}
	return s.Panel.Render(strings.TrimRight(b.String(), "\n")) + "\n"
}

// Snippet collapses whitespace and cuts text to at most limit runes.
func Snippet(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}

func metadataString(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// RenderLogEntry writes one log line. Attributes are sorted by key.
func RenderLogEntry(w io.Writer, e logging.Entry, s Styles) error {
	if !e.Valid {
		_, err := fmt.Fprintln(w, e.Raw)
		return err
	}

	level := fmt.Sprintf("%-5s", e.Level)
	switch e.Level {
	case "ERROR":
		level = s.Error.Render(level)
	case "WARN":
		level = s.Warning.Render(level)
	default:
		level = s.Label.Render(level)
	}

	var b strings.Builder
	if !e.Time.IsZero() {
		b.WriteString(s.Dim.Render(e.Time.Format("15:04:05.000")))
		b.WriteString(" ")
	}
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(e.Msg)

	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", s.Label.Render(k), e.Attrs[k])
	}
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}
