package version

import (
	"strings"
	"testing"
)

func TestGetVersion(t *testing.T) {
	got := getVersion()
	if got == "" {
		t.Fatal("getVersion() returned empty string")
	}
	if got != strings.TrimSpace(got) {
		t.Errorf("getVersion() = %q, contains surrounding whitespace", got)
	}
	if parts := strings.SplitN(got, ".", 3); len(parts) < 3 {
		t.Errorf("getVersion() = %q, want MAJOR.MINOR.PATCH", got)
	}
}

func TestInfoString(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want string
	}{
		{
			name: "all fields",
			info: Info{Version: "1.0.0", GitCommit: "abc1234", BuildDate: "2026-01-10T15:04:05Z"},
			want: "Version:    1.0.0\nGit Commit: abc1234\nBuild Date: 2026-01-10T15:04:05Z",
		},
		{
			name: "dirty commit",
			info: Info{Version: "1.0.0-rc.1", GitCommit: "def5678-dirty", BuildDate: unknown},
			want: "Version:    1.0.0-rc.1\nGit Commit: def5678-dirty\nBuild Date: unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetGitCommit(t *testing.T) {
	got := getGitCommit()
	if got == unknown {
		return
	}
	for _, c := range strings.TrimSuffix(got, "-dirty") {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			t.Errorf("getGitCommit() = %q, contains non-hex character %q", got, c)
			return
		}
	}
}

func TestGetGitCommitLinkerOverride(t *testing.T) {
	old := gitCommit
	gitCommit = "feedbee"
	t.Cleanup(func() { gitCommit = old })

	if got := Get().GitCommit; got != "feedbee" {
		t.Errorf("GitCommit = %q, want linker value", got)
	}
}

func TestUserAgent(t *testing.T) {
	if got := UserAgent(); got != "mailroom/"+getVersion() {
		t.Errorf("UserAgent() = %q", got)
	}
}
