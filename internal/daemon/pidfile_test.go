package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// deadPID is far above any pid_max so no process can hold it.
const deadPID = 99999999

func writePID(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to create test PID file: %v", err)
	}
}

func TestPIDFile_WriteReadRemove(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "nested", "daemon.pid")
	pf := NewPIDFile(pidPath)

	if err := pf.Write(); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	pid, err := pf.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("Read() = %d, want %d", pid, os.Getpid())
	}
	if _, err := os.Stat(pidPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	if err := pf.Remove(); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Error("Remove() did not remove file")
	}
	if err := pf.Remove(); err != nil {
		t.Errorf("Remove() on missing file error = %v, want nil", err)
	}
}

func TestPIDFile_Read(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{"plain", "12345", 12345, false},
		{"trailing newline", "12345\n", 12345, false},
		{"surrounding whitespace", "  42 \n", 42, false},
		{"empty", "", 0, true},
		{"whitespace only", " \n\t", 0, true},
		{"non numeric", "not-a-pid", 0, true},
		{"negative", "-1", 0, true},
		{"zero", "0", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pidPath := filepath.Join(t.TempDir(), "daemon.pid")
			writePID(t, pidPath, tt.content)

			got, err := NewPIDFile(pidPath).Read()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Read() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Read() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPIDFile_IsStale(t *testing.T) {
	tests := []struct {
		name    string
		content *string
		want    bool
	}{
		{"no file", nil, false},
		{"current process", ptr(strconv.Itoa(os.Getpid())), false},
		{"dead process", ptr(strconv.Itoa(deadPID)), true},
		{"invalid content", ptr("garbage"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pidPath := filepath.Join(t.TempDir(), "daemon.pid")
			if tt.content != nil {
				writePID(t, pidPath, *tt.content)
			}

			got, err := NewPIDFile(pidPath).IsStale()
			if err != nil {
				t.Fatalf("IsStale() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("IsStale() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPIDFile_CheckAndClaim(t *testing.T) {
	tests := []struct {
		name    string
		content *string
		wantErr error
	}{
		{"no file", nil, nil},
		{"stale file", ptr(strconv.Itoa(deadPID)), nil},
		{"invalid content", ptr("not-a-pid"), nil},
		{"active process", ptr(strconv.Itoa(os.Getpid())), ErrDaemonAlreadyRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pidPath := filepath.Join(t.TempDir(), "daemon.pid")
			if tt.content != nil {
				writePID(t, pidPath, *tt.content)
			}
			pf := NewPIDFile(pidPath)

			err := pf.CheckAndClaim()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CheckAndClaim() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			pid, err := pf.Read()
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if pid != os.Getpid() {
				t.Errorf("claimed PID = %d, want %d", pid, os.Getpid())
			}
		})
	}
}

func TestPIDFile_Running(t *testing.T) {
	dir := t.TempDir()

	missing := NewPIDFile(filepath.Join(dir, "missing.pid"))
	if _, err := missing.Running(); !errors.Is(err, ErrDaemonNotRunning) {
		t.Errorf("Running() on missing file error = %v, want ErrDaemonNotRunning", err)
	}

	stalePath := filepath.Join(dir, "stale.pid")
	writePID(t, stalePath, strconv.Itoa(deadPID))
	if _, err := NewPIDFile(stalePath).Running(); !errors.Is(err, ErrDaemonNotRunning) {
		t.Errorf("Running() on stale file error = %v, want ErrDaemonNotRunning", err)
	}

	livePath := filepath.Join(dir, "live.pid")
	writePID(t, livePath, strconv.Itoa(os.Getpid()))
	pid, err := NewPIDFile(livePath).Running()
	if err != nil {
		t.Fatalf("Running() error = %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("Running() = %d, want %d", pid, os.Getpid())
	}
}

func ptr[T any](v T) *T { return &v }
