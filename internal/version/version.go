// Package version carries the build identity stamped into the anvil binary.
package version

import "time"

var (
	// Version is the release version (set via -ldflags).
	Version = ""
	// Commit is the git commit hash (set via -ldflags).
	Commit = ""
	// BuildTime is the build timestamp (set via -ldflags).
	BuildTime = ""
)

// String renders the stamped version, falling back to the build time and
// finally to the current time for unstamped dev builds.
func String() string {
	v := Version
	if v == "" {
		v = BuildTime
	}
	if v == "" {
		v = time.Now().UTC().Format("20060102T150405Z")
	}
	if Commit == "" {
		return v
	}
	return v + " (" + shortCommit(Commit) + ")"
}

func shortCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}
