package charm

import "strings"

// Source origins understood by ParseSource.
const (
	OriginStable = "stable"
	OriginTrunk  = "trunk"
	OriginBranch = "branch"
)

// ParseSource parses the "juju-gui-source" option. It returns the origin and
// an optional value describing how to retrieve the GUI:
//
//	("stable", "")             latest stable release
//	("stable", "0.1.0")        stable release v0.1.0
//	("trunk", "")              latest trunk release
//	("trunk", "0.1.0+build.1") trunk release v0.1.0 build 1
//	("branch", "https://...")  release built from a branch
func ParseSource(source string) (origin, value string) {
	switch {
	case source == OriginStable, source == OriginTrunk:
		return source, ""
	case strings.HasPrefix(source, "lp:"),
		strings.HasPrefix(source, "http://"),
		strings.HasPrefix(source, "https://"):
		return OriginBranch, source
	case strings.Contains(source, "build"):
		return OriginTrunk, source
	}
	return OriginStable, source
}
