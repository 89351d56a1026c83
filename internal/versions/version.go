// Package versions reports build information for the seqci-proxy binary.
package versions

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"golang.org/x/mod/semver"
)

// Set at build time with -ldflags "-X github.com/stacklok/seqci-proxy/internal/versions.Version=..."
var (
	Version   = "dev"
	Commit    = ""
	BuildDate = ""
)

// VersionInfo describes the running binary
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the build information, filling commit and build
// date from the embedded VCS stamp when they were not set at link time
func GetVersionInfo() VersionInfo {
	info := VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		fillFromBuildInfo(&info, bi)
	}
	return info
}

func fillFromBuildInfo(info *VersionInfo, bi *debug.BuildInfo) {
	// go install stamps the module version; local builds report "(devel)"
	if info.Version == "dev" && semver.IsValid(bi.Main.Version) {
		info.Version = bi.Main.Version
	}

	var modified, fromVCS bool
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = s.Value
				fromVCS = true
			}
		case "vcs.time":
			if info.BuildDate == "" {
				info.BuildDate = s.Value
			}
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	if modified && fromVCS {
		info.Commit += "-dirty"
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	if info.BuildDate == "" {
		info.BuildDate = "unknown"
	}
}
