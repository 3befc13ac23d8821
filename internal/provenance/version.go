package provenance

import "runtime/debug"

// Set at build time:
//
//	-ldflags "-X github.com/idlab-discover/visionprep-cli/internal/provenance.Version=v1.0.0
//	          -X github.com/idlab-discover/visionprep-cli/internal/provenance.Commit=abc1234"
var (
	Version = ""
	Commit  = ""
)

var readBuildInfo = debug.ReadBuildInfo

// ToolVersion reports the visionprep version recorded in exported BOMs. It
// only looks at the binary itself: ldflags, then the module version, then
// the VCS revision stamped by the go toolchain.
func ToolVersion() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	commit := Commit
	if info, ok := readBuildInfo(); ok && info != nil {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
		if commit == "" {
			commit = vcsRevision(info)
		}
	}
	if commit != "" {
		return "commit-" + commit
	}
	return "devel"
}

// vcsRevision returns the short stamped revision, suffixed with "-dirty"
// for builds from a modified tree.
func vcsRevision(info *debug.BuildInfo) string {
	var rev string
	dirty := false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if rev != "" && dirty {
		rev += "-dirty"
	}
	return rev
}
