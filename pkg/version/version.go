// Package version exposes the application version derived from build
// metadata: an -ldflags override, then VCS info from debug.BuildInfo, then
// a "dev" fallback.
package version

import "runtime/debug"

// AppName is the application name used in version strings.
const AppName = "mnemora"

// gitCommitOverride can be set via -ldflags for builds without VCS
// metadata. Empty means no override.
var gitCommitOverride string

// GitCommit is the short git commit hash (8 chars) from build info, or
// "dev" when none is available (e.g. `go test`).
var GitCommit = initGitCommit()

func initGitCommit() string {
	if gitCommitOverride != "" {
		if len(gitCommitOverride) > 8 {
			return gitCommitOverride[:8]
		}
		return gitCommitOverride
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 8 {
				return s.Value[:8]
			}
			return s.Value
		}
	}
	return "dev"
}

// Full returns "mnemora/<commit>" for use in user-agent strings, logging, etc.
func Full() string {
	return AppName + "/" + GitCommit
}
