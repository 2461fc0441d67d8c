package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func fileOptions(t *testing.T, parts ...string) FileOptions {
	t.Helper()
	path := filepath.Join(append([]string{t.TempDir()}, parts...)...)
	return FileOptions{Path: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1}
}

func readJSONLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open log file: %v", err)
	}
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("log line is not JSON: %v: %s", err, sc.Text())
		}
		out = append(out, entry)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input  string
		want   slog.Level
		wantOK bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"Warn", slog.LevelWarn, true},
		{"warning", slog.LevelWarn, true},
		{" error ", slog.LevelError, true},
		{"", DefaultLevel, false},
		{"verbose", DefaultLevel, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseLevel(tt.input)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseLevel(%q) = (%v, %v), want (%v, %v)", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestManager_Logger_Stable(t *testing.T) {
	mgr := newManager(&bytes.Buffer{})
	defer func() { _ = mgr.Close() }()

	before := mgr.Logger()
	if err := mgr.Upgrade(fileOptions(t, "mailroom.log"), slog.LevelInfo); err != nil {
		t.Fatalf("Upgrade() error = %v", err)
	}
	if mgr.Logger() != before {
		t.Error("Logger() should return the same instance across Upgrade")
	}
}

func TestManager_Upgrade_WritesJSONAndText(t *testing.T) {
	var stderr bytes.Buffer
	mgr := newManager(&stderr)
	defer func() { _ = mgr.Close() }()

	opts := fileOptions(t, "nested", "dirs", "mailroom.log")
	if err := mgr.Upgrade(opts, slog.LevelInfo); err != nil {
		t.Fatalf("Upgrade() error = %v", err)
	}

	mgr.Logger().Info("job completed", "queue", "email")

	entries := readJSONLines(t, opts.Path)
	if len(entries) != 1 {
		t.Fatalf("got %d file entries, want 1", len(entries))
	}
	if entries[0]["msg"] != "job completed" || entries[0]["queue"] != "email" {
		t.Errorf("unexpected file entry %v", entries[0])
	}
	if !strings.Contains(stderr.String(), "queue=email") {
		t.Errorf("stderr should carry text output, got %q", stderr.String())
	}
}

func TestManager_Upgrade_InvalidPath(t *testing.T) {
	mgr := newManager(&bytes.Buffer{})
	defer func() { _ = mgr.Close() }()

	dir := t.TempDir()
	// The path is a directory, which cannot be opened for writing.
	if err := mgr.Upgrade(FileOptions{Path: dir, MaxSizeMB: 1}, slog.LevelInfo); err == nil {
		t.Error("Upgrade() with a directory path should fail")
	}
}

func TestManager_SetLevel(t *testing.T) {
	mgr := newManager(&bytes.Buffer{})
	defer func() { _ = mgr.Close() }()

	opts := fileOptions(t, "mailroom.log")
	if err := mgr.Upgrade(opts, slog.LevelInfo); err != nil {
		t.Fatalf("Upgrade() error = %v", err)
	}

	mgr.Logger().Debug("hidden")
	mgr.SetLevel(slog.LevelDebug)
	if mgr.Level() != slog.LevelDebug {
		t.Fatalf("Level() = %v, want debug", mgr.Level())
	}
	mgr.Logger().Debug("shown")

	entries := readJSONLines(t, opts.Path)
	if len(entries) != 1 || entries[0]["msg"] != "shown" {
		t.Errorf("expected only the post-SetLevel debug record, got %v", entries)
	}
}

type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
	attrs   []slog.Attr
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	r.AddAttrs(h.attrs...)
	h.records = append(h.records, r)
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureHandler{attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
}

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

func TestManager_Upgrade_ExtraHandlers(t *testing.T) {
	mgr := newManager(&bytes.Buffer{})
	defer func() { _ = mgr.Close() }()

	tap := &captureHandler{}
	if err := mgr.Upgrade(fileOptions(t, "mailroom.log"), slog.LevelInfo, tap); err != nil {
		t.Fatalf("Upgrade() error = %v", err)
	}

	mgr.Logger().Error("store unavailable")

	tap.mu.Lock()
	defer tap.mu.Unlock()
	if len(tap.records) != 1 || tap.records[0].Message != "store unavailable" {
		t.Errorf("extra handler records = %v", tap.records)
	}
}

func TestSwappableHandler_DerivedLoggersFollowSwap(t *testing.T) {
	var first, second bytes.Buffer
	sh := NewSwappableHandler(slog.NewTextHandler(&first, nil))

	child := slog.New(sh).With("component", "janitor").WithGroup("sweep")
	sh.Swap(slog.NewJSONHandler(&second, nil))
	child.Info("reclaimed", "count", 2)

	if first.Len() != 0 {
		t.Errorf("record went to the replaced handler: %q", first.String())
	}
	var entry map[string]any
	if err := json.Unmarshal(second.Bytes(), &entry); err != nil {
		t.Fatalf("record not written as JSON: %v: %q", err, second.String())
	}
	if entry["component"] != "janitor" {
		t.Errorf("component attr lost: %v", entry)
	}
	sweep, ok := entry["sweep"].(map[string]any)
	if !ok || sweep["count"] != float64(2) {
		t.Errorf("group attrs lost: %v", entry)
	}
}

func TestManager_CloseIdempotent(t *testing.T) {
	mgr := newManager(&bytes.Buffer{})
	if err := mgr.Upgrade(fileOptions(t, "mailroom.log"), slog.LevelInfo); err != nil {
		t.Fatalf("Upgrade() error = %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
