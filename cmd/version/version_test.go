package version

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/cmdutil"
	"github.com/leefowlercu/mailroom/internal/version"
)

func newVersionCmd(out *bytes.Buffer) *cobra.Command {
	cmd := &cobra.Command{Use: "version", RunE: runVersion}
	cmdutil.AddJSONFlag(cmd)
	cmd.SetOut(out)
	return cmd
}

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	if err := runVersion(newVersionCmd(&out), nil); err != nil {
		t.Fatalf("runVersion() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("output has %d lines, want 3:\n%s", len(lines), out.String())
	}
	for i, label := range []string{"Version:", "Git Commit:", "Build Date:"} {
		if !strings.HasPrefix(lines[i], label) {
			t.Errorf("line %d = %q, want prefix %q", i, lines[i], label)
		}
	}
}

func TestRunVersion_JSON(t *testing.T) {
	var out bytes.Buffer
	cmd := newVersionCmd(&out)
	if err := cmd.Flags().Set("json", "true"); err != nil {
		t.Fatal(err)
	}
	if err := runVersion(cmd, nil); err != nil {
		t.Fatalf("runVersion() error = %v", err)
	}

	var got version.Info
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if got != version.Get() {
		t.Errorf("JSON = %+v, want %+v", got, version.Get())
	}
}
