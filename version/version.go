package version

import (
	"fmt"
	"runtime/debug"
	"time"
)

// ModulePath is the import path of the engine module.
const ModulePath = "github.com/kbukum/flowkit"

// Set with -ldflags -X.
var (
	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

// Info describes the running binary.
type Info struct {
	Version   string    `json:"version"`
	Commit    string    `json:"commit"`
	Dirty     bool      `json:"dirty"`
	BuildDate time.Time `json:"build_date"`
	GoVersion string    `json:"go_version"`
	// Engine is the flowkit module version linked into the binary, or
	// "(devel)" when flowkit is the main module.
	Engine string `json:"engine"`
}

var readBuildInfo = debug.ReadBuildInfo

// Get returns the build information of the running binary.
func Get() Info {
	info := Info{Version: Version, Commit: Commit}
	if BuildTime != "" {
		info.BuildDate, _ = time.Parse(time.RFC3339, BuildTime)
	}

	bi, ok := readBuildInfo()
	if !ok {
		return info
	}
	info.GoVersion = bi.GoVersion
	if bi.Main.Path == ModulePath {
		info.Engine = bi.Main.Version
	}
	for _, dep := range bi.Deps {
		if dep.Path == ModulePath {
			info.Engine = dep.Version
		}
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = s.Value
			}
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		case "vcs.time":
			if info.BuildDate.IsZero() {
				info.BuildDate, _ = time.Parse(time.RFC3339, s.Value)
			}
		}
	}
	if len(info.Commit) > 7 {
		info.Commit = info.Commit[:7]
	}
	return info
}

// Short renders the version with the abbreviated commit, e.g. 1.4.0-3f2a9c1.
func (i Info) Short() string {
	if i.Commit == "" {
		return i.Version
	}
	s := fmt.Sprintf("%s-%s", i.Version, i.Commit)
	if i.Dirty {
		s += "-dirty"
	}
	return s
}
