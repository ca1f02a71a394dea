// Package version reports build and version information for the binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// Set at build time with -ldflags "-X".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime time.Time `json:"build_time"`
	GoVersion string    `json:"go_version"`
	Platform  string    `json:"platform"`
	Dirty     bool      `json:"dirty"`
}

// Get collects Info from the linker variables, falling back to the VCS
// stamps embedded by the go tool.
func Get() Info {
	info := Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: parseBuildTime(BuildTime),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}

	if info.Version == "" || info.Version == "dev" {
		if v := bi.Main.Version; v != "" && v != "(devel)" {
			info.Version = v
		}
	}

	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "" || info.GitCommit == "unknown" {
				info.GitCommit = s.Value
			}
		case "vcs.time":
			if info.BuildTime.IsZero() {
				info.BuildTime = parseBuildTime(s.Value)
			}
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		}
	}

	return info
}

// IsRelease reports whether the binary carries a real version.
func (i Info) IsRelease() bool {
	return i.Version != "" && i.Version != "dev" && !strings.HasPrefix(i.Version, "dev-")
}

// Short is the one-line form, e.g. "v1.2.0 (abc1234)".
func (i Info) Short() string {
	commit := i.shortCommit()
	switch {
	case commit == "":
		return i.Version
	case i.Version == "dev":
		return "dev-" + commit
	default:
		return fmt.Sprintf("%s (%s)", i.Version, commit)
	}
}

// Detailed lists every known field on its own line.
func (i Info) Detailed() string {
	lines := []string{"Version: " + i.Version}
	if i.GitCommit != "unknown" && i.GitCommit != "" {
		commit := i.GitCommit
		if i.Dirty {
			commit += " (dirty)"
		}
		lines = append(lines, "Commit: "+commit)
	}
	if !i.BuildTime.IsZero() {
		lines = append(lines, "Built: "+i.BuildTime.UTC().Format(time.RFC3339))
	}
	lines = append(lines, "Go: "+i.GoVersion, "Platform: "+i.Platform)

	return strings.Join(lines, "\n")
}

func (i Info) shortCommit() string {
	if len(i.GitCommit) < 7 || i.GitCommit == "unknown" {
		return ""
	}

	return i.GitCommit[:7]
}

func parseBuildTime(s string) time.Time {
	if s == "" || s == "unknown" {
		return time.Time{}
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}

	return time.Time{}
}
