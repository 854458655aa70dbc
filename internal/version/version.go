// Package version formats the build information stamped in by the linker
package version

import (
	"fmt"
	"runtime"
)

// Info is the build information of a binary
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// New fills unset build values with placeholders
func New(version, commit, buildTime string) Info {
	if version == "" {
		version = "dev"
	}
	if commit == "" {
		commit = "unknown"
	}
	if buildTime == "" {
		buildTime = "unknown"
	}
	return Info{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Short returns version and abbreviated commit, e.g. v1.2.0-abcdef1
func (i Info) Short() string {
	commit := i.Commit
	if commit == "unknown" {
		return i.Version
	}
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("%s-%s", i.Version, commit)
}

func (i Info) String() string {
	return fmt.Sprintf(`Hummingbird (I2C electrical and timing analyzer)
Version:    %s
Commit:     %s
Built:      %s
Go version: %s
OS/Arch:    %s`,
		i.Version, i.Commit, i.BuildTime, i.GoVersion, i.Platform)
}

// GetVersion returns a formatted version string
func GetVersion(version, commit, buildTime string) string {
	return New(version, commit, buildTime).Short()
}

// GetDetailedVersion returns detailed version information
func GetDetailedVersion(version, commit, buildTime string) string {
	return New(version, commit, buildTime).String()
}
