// Package versions provides version information for the tether binaries.
package versions

import (
	"fmt"
	"runtime"
	"time"
)

const unknownStr = "unknown"

// Build information. Populated at build time via ldflags.
var (
	// Version is the semantic version of the build, or "dev" for local builds.
	Version = "dev"
	// Commit is the git commit hash the binary was built from.
	Commit = unknownStr
	// BuildDate is the RFC 3339 timestamp of the build.
	BuildDate = unknownStr
)

// VersionInfo represents the version information of the binary.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the version information for the current binary.
func GetVersionInfo() VersionInfo {
	version := Version
	if version == "dev" {
		version = buildVersion(Commit)
	}

	return VersionInfo{
		Version:   version,
		Commit:    Commit,
		BuildDate: formatBuildDate(BuildDate),
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// buildVersion derives a version string for untagged dev builds from the
// commit hash, truncated to 8 characters when longer.
func buildVersion(commit string) string {
	if commit == unknownStr {
		return "build-" + unknownStr
	}
	if len(commit) > 8 {
		commit = commit[:8]
	}
	return "build-" + commit
}

// formatBuildDate renders an RFC 3339 build date in a human-friendly form.
// Unparseable values are returned unchanged.
func formatBuildDate(date string) string {
	t, err := time.Parse(time.RFC3339, date)
	if err != nil {
		return date
	}
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
