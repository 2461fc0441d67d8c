// Package version reports the build's semantic version, commit and date.
package version

import (
	_ "embed"
	"fmt"
	"runtime/debug"
	"strings"
)

//go:embed VERSION
var versionFile string

// Set at link time:
//
//	go build -ldflags "-X github.com/leefowlercu/mailroom/internal/version.gitCommit=VALUE -X github.com/leefowlercu/mailroom/internal/version.buildDate=VALUE"
var (
	gitCommit string
	buildDate string
)

const unknown = "unknown"

// Info is the build identity of the running binary.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
}

// String formats Info for human-readable display.
func (i Info) String() string {
	return fmt.Sprintf("Version:    %s\nGit Commit: %s\nBuild Date: %s",
		i.Version, i.GitCommit, i.BuildDate)
}

// Get returns the build identity.
func Get() Info {
	return Info{
		Version:   getVersion(),
		GitCommit: getGitCommit(),
		BuildDate: getBuildDate(),
	}
}

// UserAgent is the User-Agent mailroom sends to the daemon and to webhooks.
func UserAgent() string {
	return "mailroom/" + getVersion()
}

func getVersion() string {
	return strings.TrimSpace(versionFile)
}

// getGitCommit prefers the linker value, then VCS build info.
func getGitCommit() string {
	if gitCommit != "" {
		return gitCommit
	}
	if revision, dirty := readBuildInfo(); revision != "" {
		if dirty {
			return revision + "-dirty"
		}
		return revision
	}
	return unknown
}

func getBuildDate() string {
	if buildDate != "" {
		return buildDate
	}
	if _, stamp := vcsSetting("vcs.time"); stamp != "" {
		return stamp
	}
	return unknown
}

// readBuildInfo returns the short VCS revision and whether the tree was dirty.
func readBuildInfo() (revision string, dirty bool) {
	ok, revision := vcsSetting("vcs.revision")
	if !ok {
		return "", false
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}
	_, modified := vcsSetting("vcs.modified")
	return revision, modified == "true"
}

func vcsSetting(key string) (bool, string) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return false, ""
	}
	for _, s := range info.Settings {
		if s.Key == key {
			return true, s.Value
		}
	}
	return true, ""
}
