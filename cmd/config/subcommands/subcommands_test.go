package subcommands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/testutil"
)

func newCmd(in string) (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(in))
	return cmd, &out
}

func TestRunValidate(t *testing.T) {
	dir := t.TempDir()
	valid := filepath.Join(dir, "valid.yaml")
	invalid := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(valid, []byte("log:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(invalid, []byte("workers:\n  poll_interval: -1s\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{name: "valid", path: valid, want: "Configuration is valid"},
		{name: "invalid", path: invalid, want: "validation failed", wantErr: true},
		{name: "missing", path: filepath.Join(dir, "missing.yaml"), want: "No configuration file found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, out := newCmd("")
			err := runValidate(cmd, []string{tt.path})
			if (err != nil) != tt.wantErr {
				t.Fatalf("runValidate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("output = %q, want containing %q", out.String(), tt.want)
			}
		})
	}
}

func TestResetFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	now := time.Unix(1700000000, 0)
	backup, err := resetFile(path, now)
	if err != nil {
		t.Fatalf("resetFile() error = %v", err)
	}
	if backup != path+".backup.1700000000" {
		t.Errorf("backup = %q", backup)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("config file still present after reset")
	}
	data, err := os.ReadFile(backup)
	if err != nil || !strings.Contains(string(data), "warn") {
		t.Errorf("backup content = %q, %v", data, err)
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"y\n", true},
		{"Y\n", true},
		{"yes\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		if got := confirm(strings.NewReader(tt.in), &out, "/tmp/config.yaml"); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRunShow(t *testing.T) {
	testutil.NewTestEnv(t)

	cmd, out := newCmd("")
	if err := runShow(cmd, nil); err != nil {
		t.Fatalf("runShow() error = %v", err)
	}
	for _, want := range []string{"Effective configuration", "Config file: none", "daemon:"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("runShow() missing %q:\n%s", want, out.String())
		}
	}

	showRaw = true
	t.Cleanup(func() { showRaw = false })
	cmd, out = newCmd("")
	if err := runShow(cmd, nil); err != nil {
		t.Fatalf("runShow(raw) error = %v", err)
	}
	if !strings.Contains(out.String(), "No configuration file found") {
		t.Errorf("runShow(raw) = %q", out.String())
	}
}

func TestRunReset_NoFile(t *testing.T) {
	testutil.NewTestEnv(t)

	cmd, out := newCmd("")
	if err := runReset(cmd, nil); err != nil {
		t.Fatalf("runReset() error = %v", err)
	}
	if !strings.Contains(out.String(), "Using defaults") {
		t.Errorf("runReset() = %q", out.String())
	}
}

func TestRunValidate_LoadedFile(t *testing.T) {
	env := testutil.NewTestEnv(t)
	env.WriteConfig("log:\n  level: debug\n")

	cmd, out := newCmd("")
	if err := runValidate(cmd, nil); err != nil {
		t.Fatalf("runValidate() error = %v", err)
	}
	if !strings.Contains(out.String(), env.ConfigPath()) {
		t.Errorf("runValidate() = %q, want it to name %s", out.String(), env.ConfigPath())
	}

	cmd, out = newCmd("")
	if err := runShow(cmd, nil); err != nil {
		t.Fatalf("runShow() error = %v", err)
	}
	if !strings.Contains(out.String(), "level: debug") {
		t.Errorf("runShow() missing loaded level:\n%s", out.String())
	}
}
