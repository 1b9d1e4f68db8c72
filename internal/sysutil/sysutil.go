// Package sysutil holds process-level helpers used by cmd/server.
package sysutil

import (
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog"
)

// SetLogLevel sets the global zerolog level from a config string and returns
// the level applied. Unknown or empty values fall back to info.
func SetLogLevel(lvl string) zerolog.Level {
	lvl = strings.ToLower(strings.TrimSpace(lvl))
	level, err := zerolog.ParseLevel(lvl)
	if lvl == "warning" {
		level, err = zerolog.WarnLevel, nil
	}
	if err != nil || level == zerolog.NoLevel || level == zerolog.TraceLevel || level == zerolog.Disabled {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	return level
}

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

// BuildVersion reports the version stamped into the binary. Preference order:
// the explicit value (ldflags), the main module version, the VCS revision
// (shortened, "+dirty" when modified), then "dev".
func BuildVersion(explicit string) string {
	if v := strings.TrimSpace(explicit); v != "" {
		return v
	}
	info, ok := readBuildInfo()
	if !ok || info == nil {
		return "dev"
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}
	var rev, dirty string
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			if s.Value == "true" {
				dirty = "+dirty"
			}
		}
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	return FirstNonEmpty(rev+dirty, "dev")
}

// FirstNonEmpty returns the first value that is not blank, or "".
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
