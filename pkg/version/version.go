// Package version reports the build identity shown by `scout --version`.
package version

import (
	"fmt"
	"runtime/debug"
)

// commit is overridable with -ldflags "-X .../version.commit=<sha>" for
// builds without VCS stamping.
var commit string

// Full returns the version string, e.g. "scout/1a2b3c4d".
func Full() string {
	return fmt.Sprintf("scout/%s", Commit())
}

// Commit returns the short revision baked into the binary, or "dev" when
// neither the ldflags override nor VCS build info is available.
func Commit() string {
	if commit != "" {
		return short(commit)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return short(s.Value)
			}
		}
	}
	return "dev"
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}
