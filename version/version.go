// Package version reports scubad's own build provenance: the git
// commit it was built from, plus whatever runtime/debug can recover
// from the build itself. cmd/scubad surfaces GitCommit as the
// runtimeVersion string in the CRI Version RPC response.
package version

import (
	"runtime/debug"

	"github.com/google/go-cmp/cmp"
)

var (
	// GitRepo, GitBranch, GitCommit, and BuildTime are populated by
	// -ldflags at build time (see the release build command); they
	// are empty in a plain `go build`.
	GitRepo   string
	GitBranch string
	GitCommit string
	BuildTime string
)

// Info is everything known about the running binary's provenance.
type Info struct {
	GitRepo   string           `json:"gitRepo,omitempty"`
	GitBranch string           `json:"gitBranch,omitempty"`
	GitCommit string           `json:"gitCommit,omitempty"`
	BuildTime string           `json:"buildTime,omitempty"`
	BuildInfo *debug.BuildInfo `json:"buildInfo,omitempty"`
}

// Get reads the ldflags-injected fields plus whatever module build
// info the Go runtime embedded in this binary.
func Get() Info {
	buildInfo, ok := debug.ReadBuildInfo()
	info := Info{
		GitRepo:   GitRepo,
		GitBranch: GitBranch,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
	}
	if ok {
		info.BuildInfo = buildInfo
	}
	return info
}

// Equal reports whether v and other were built from the same commit
// and the same dependency set. BuildTime is deliberately excluded: a
// rebuild of the same commit with the same deps is still the same
// version, even if the wall clock moved.
func (v Info) Equal(other Info) bool {
	if v.BuildInfo != nil {
		if other.BuildInfo == nil {
			return false
		}
		if v.BuildInfo.Main.Path != other.BuildInfo.Main.Path ||
			!cmp.Equal(v.BuildInfo.Deps, other.BuildInfo.Deps) ||
			v.BuildInfo.GoVersion != other.BuildInfo.GoVersion {
			return false
		}
	}
	return v.GitBranch == other.GitBranch &&
		v.GitCommit == other.GitCommit &&
		v.GitRepo == other.GitRepo
}
