// Package version reports kbretrieve build information.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set with -ldflags "-X github.com/Aman-CERP/kbretrieve/pkg/version.Version=...".
// Commit and Date fall back to the VCS stamp of the main module when unset.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// BuildInfo is the resolved build description.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetInfo resolves the build description.
func GetInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info = withVCS(info, bi.Settings)
	}
	return info
}

// withVCS fills commit and date from -buildvcs settings where ldflags left
// them unset. A modified tree marks the commit dirty.
func withVCS(info BuildInfo, settings []debug.BuildSetting) BuildInfo {
	var revision, modified, when string
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified = s.Value
		case "vcs.time":
			when = s.Value
		}
	}
	if info.Commit == "unknown" && revision != "" {
		if len(revision) > 12 {
			revision = revision[:12]
		}
		if modified == "true" {
			revision += "-dirty"
		}
		info.Commit = revision
	}
	if info.Date == "unknown" && when != "" {
		info.Date = when
	}
	return info
}

// String returns the one-line version banner.
func String() string {
	info := GetInfo()
	return fmt.Sprintf("kbretrieve %s (commit: %s, built: %s, go: %s)",
		info.Version, info.Commit, info.Date, info.GoVersion)
}

// Short returns just the version.
func Short() string { return Version }

// UserAgent identifies kbretrieve on outgoing HTTP requests.
func UserAgent() string { return "kbretrieve/" + Version }
