package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"
)

// Entry is one parsed JSON log line.
type Entry struct {
	Time  time.Time
	Level string
	Msg   string
	Attrs map[string]any
	Raw   string
	// Valid is false when the line is not a JSON record.
	Valid bool
}

// Filter selects entries. Zero values match everything.
type Filter struct {
	MinLevel string
	Pattern  *regexp.Regexp
}

func (f Filter) match(e Entry) bool {
	if f.MinLevel != "" && e.Valid && LevelFromString(e.Level) < LevelFromString(f.MinLevel) {
		return false
	}
	if f.Pattern != nil && !f.Pattern.MatchString(e.Raw) {
		return false
	}
	return true
}

// ParseLine parses a record written by Setup's JSON handler.
func ParseLine(line string) Entry {
	e := Entry{Raw: line}
	var fields map[string]any
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return e
	}

	e.Valid = true
	if ts, ok := fields[slog.TimeKey].(string); ok {
		e.Time, _ = time.Parse(time.RFC3339Nano, ts)
	}
	e.Level, _ = fields[slog.LevelKey].(string)
	e.Msg, _ = fields[slog.MessageKey].(string)
	delete(fields, slog.TimeKey)
	delete(fields, slog.LevelKey)
	delete(fields, slog.MessageKey)
	if len(fields) > 0 {
		e.Attrs = fields
	}
	return e
}

// Tail returns the matching entries among the last n lines of path.
func Tail(path string, n int, filter Filter) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	// ring of the last n lines
	lines := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if n <= 0 {
			continue
		}
		if len(lines) == n {
			copy(lines, lines[1:])
			lines = lines[:n-1]
		}
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	entries := make([]Entry, 0, len(lines))
	for _, line := range lines {
		if e := ParseLine(line); filter.match(e) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}
