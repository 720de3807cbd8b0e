// Package version stamps relay builds with the git revision they were cut
// from. Release builds inject the commit through -ldflags; everything else
// falls back to the module's embedded VCS metadata, then to "dev".
package version

import "runtime/debug"

// AppName identifies this binary in user-agent strings and log banners.
const AppName = "relay"

// commit is the -ldflags injection point for container builds where .git
// is not available:
//
//	-X github.com/codeready-toolchain/relay/pkg/version.commit=<sha>
var commit string

// GitCommit is the short (8 character) revision hash, or "dev" when the
// build carries no VCS metadata (go test, builds outside a checkout).
var GitCommit = resolve()

func resolve() string {
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

// Full returns "relay/<commit>", the form logs and the version subcommand
// print.
func Full() string {
	return AppName + "/" + GitCommit
}
