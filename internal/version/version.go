// Package version reports the engine version string written into dumps.
package version

import (
	"runtime/debug"
	"sync"
)

// MaxLen is the width of a version field in a dump header.
const MaxLen = 40

// Fallback is used when build info carries no module version.
const Fallback = "nodedb-devel"

var (
	once    sync.Once
	current string
)

// String returns the running engine version, resolved once from build info
// and truncated to MaxLen bytes.
func String() string {
	once.Do(func() {
		current = resolve(debug.ReadBuildInfo())
	})
	return current
}

func resolve(info *debug.BuildInfo, ok bool) string {
	v := Fallback
	if ok && info != nil {
		switch {
		case info.Main.Path == "github.com/hupe1980/nodedb" && info.Main.Version != "" && info.Main.Version != "(devel)":
			v = "nodedb-" + info.Main.Version
		default:
			for _, dep := range info.Deps {
				if dep.Path == "github.com/hupe1980/nodedb" {
					v = "nodedb-" + dep.Version
					break
				}
			}
		}
	}
	return Truncate(v)
}

// Truncate cuts s to MaxLen bytes.
func Truncate(s string) string {
	if len(s) > MaxLen {
		return s[:MaxLen]
	}
	return s
}
