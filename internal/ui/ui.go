// Package ui renders retrieval outcomes and log entries for the terminal.
package ui

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

type fder interface {
	Fd() uintptr
}

// IsTTY reports whether w writes to a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(fder)
	if !ok || f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// DetectNoColor reports whether NO_COLOR is set, to any value.
func DetectNoColor() bool {
	_, set := os.LookupEnv("NO_COLOR")
	return set
}

// ColorAllowed reports whether ANSI styling may be written to w.
func ColorAllowed(w io.Writer, noColor bool) bool {
	if noColor || DetectNoColor() || os.Getenv("TERM") == "dumb" {
		return false
	}
	return IsTTY(w)
}

// StylesFor returns colored styles for terminals and plain styles otherwise.
func StylesFor(w io.Writer, noColor bool) Styles {
	return GetStyles(!ColorAllowed(w, noColor))
}
