// Package version derives the build identity reported in logs, health
// responses, and user-agent strings.
package version

import "runtime/debug"

// AppName prefixes version strings in logs and handshakes.
const AppName = "stratus"

// commit may be injected with -ldflags "-X .../pkg/version.commit=<sha>"
// for builds where no VCS stamp is available, such as containers built
// from a source tarball.
var commit string

// GitCommit is the short (8 character) hash identifying this build. It
// falls back to "dev" when neither the ldflags override nor a VCS stamp
// is present, which is the case under `go test`.
var GitCommit = resolveCommit()

func resolveCommit() string {
	if commit != "" {
		return shortRev(commit)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return shortRev(s.Value)
			}
		}
	}
	return "dev"
}

func shortRev(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "stratus/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}
