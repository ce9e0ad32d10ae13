// Package version carries build information set via ldflags:
//
//	go build -ldflags "-X github.com/teranos/reel/version.Version=v1.2.0 \
//	  -X github.com/teranos/reel/version.CommitHash=$(git rev-parse HEAD)"
package version

import (
	"fmt"
	"runtime"

	"github.com/Masterminds/semver/v3"
)

// Build information. These variables are set at build time via ldflags.
var (
	// CommitHash is the git commit hash when the binary was built
	CommitHash = "dev"

	// BuildTime is when the binary was built
	BuildTime = "unknown"

	// Version is the semantic version (if tagged)
	Version = "dev"
)

// Info contains version and build information
type Info struct {
	CommitHash string `json:"commit_hash"`
	BuildTime  string `json:"build_time"`
	Version    string `json:"version"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

// Get returns the current version information
func Get() Info {
	return Info{
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		Version:    Version,
		GoVersion:  runtime.Version(),
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String returns a human-readable version string
func (i Info) String() string {
	if v, err := semver.NewVersion(i.Version); err == nil {
		return fmt.Sprintf("reel v%s (commit %s, built %s)", v, i.Short(), i.BuildTime)
	}
	return fmt.Sprintf("reel %s (commit %s, built %s)", i.Version, i.Short(), i.BuildTime)
}

// Short returns the commit hash cut to 7 characters
func (i Info) Short() string {
	if len(i.CommitHash) >= 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}

// Semver parses Version. Dev builds return an error.
func Semver() (*semver.Version, error) {
	return semver.NewVersion(Version)
}

// IsRelease reports whether this is a tagged build without a
// pre-release suffix
func IsRelease() bool {
	return isRelease(Version)
}

func isRelease(s string) bool {
	v, err := semver.NewVersion(s)
	return err == nil && v.Prerelease() == ""
}

// AtLeast reports whether this build is a version satisfying >= min.
// Dev builds always satisfy it.
func AtLeast(min string) (bool, error) {
	c, err := semver.NewConstraint(">= " + min)
	if err != nil {
		return false, err
	}
	v, err := Semver()
	if err != nil {
		return true, nil
	}
	return c.Check(v), nil
}
