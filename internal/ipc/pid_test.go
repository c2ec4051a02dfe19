package ipc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func pidPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), ".nexcron.pid")
}

func TestWritePIDFile(t *testing.T) {
	path := pidPath(t)

	if err := WritePID(path, os.Getpid()); err != nil {
		t.Fatalf("WritePID failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read PID file: %v", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Errorf("PID file contains invalid number: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("PID mismatch: got %d, want %d", pid, os.Getpid())
	}
}

func TestReadPIDFile(t *testing.T) {
	path := pidPath(t)
	expectedPID := 12345

	if err := os.WriteFile(path, fmt.Appendf(nil, "%d\n", expectedPID), 0600); err != nil {
		t.Fatalf("Failed to create PID file: %v", err)
	}

	pid, err := ReadPID(path)
	if err != nil {
		t.Errorf("ReadPID failed: %v", err)
	}
	if pid != expectedPID {
		t.Errorf("PID mismatch: got %d, want %d", pid, expectedPID)
	}
}

func TestReadPIDErrors(t *testing.T) {
	tests := map[string]string{
		"empty":   "",
		"garbage": "not a number\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := pidPath(t)
			if err := os.WriteFile(path, []byte(content), 0600); err != nil {
				t.Fatalf("Failed to create PID file: %v", err)
			}
			if _, err := ReadPID(path); err == nil {
				t.Error("Expected error for invalid PID content")
			}
		})
	}

	if _, err := ReadPID(pidPath(t)); err == nil {
		t.Error("Expected error when reading non-existent PID file")
	}
}

func TestIsRunning(t *testing.T) {
	if !IsRunning(os.Getpid()) {
		t.Error("Current process should be running")
	}
	if IsRunning(0) {
		t.Error("PID 0 should not be considered running")
	}
	if IsRunning(-1) {
		t.Error("Negative PID should not be considered running")
	}
}

func TestAcquirePID(t *testing.T) {
	path := pidPath(t)

	// устаревший файл перезаписывается
	if err := WritePID(path, 1<<22+7); err != nil {
		t.Fatalf("WritePID failed: %v", err)
	}
	if err := AcquirePID(path); err != nil {
		t.Fatalf("AcquirePID over stale file failed: %v", err)
	}
	pid, err := ReadPID(path)
	if err != nil || pid != os.Getpid() {
		t.Fatalf("PID after acquire: got %d (%v), want %d", pid, err, os.Getpid())
	}

	// повторный захват тем же процессом допустим
	if err := AcquirePID(path); err != nil {
		t.Errorf("AcquirePID by owner failed: %v", err)
	}
}

func TestAcquirePIDConflict(t *testing.T) {
	path := pidPath(t)

	// PID 1 всегда существует
	if err := WritePID(path, 1); err != nil {
		t.Fatalf("WritePID failed: %v", err)
	}
	if !IsRunning(1) {
		t.Skip("cannot signal pid 1 in this environment")
	}

	err := AcquirePID(path)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()
	pid := filepath.Join(dir, ".nexcron.pid")
	sock := filepath.Join(dir, ".nexcron.sock")

	if err := WritePID(pid, os.Getpid()); err != nil {
		t.Fatalf("WritePID failed: %v", err)
	}
	if err := os.WriteFile(sock, []byte("test"), 0600); err != nil {
		t.Fatalf("Failed to create socket file: %v", err)
	}

	if err := Cleanup(pid, sock); err != nil {
		t.Errorf("Cleanup failed: %v", err)
	}
	for _, p := range []string{pid, sock} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s was not removed", p)
		}
	}

	// Cleanup должен работать даже если файлы не существуют
	if err := Cleanup(pid, sock); err != nil {
		t.Errorf("Cleanup should not error on non-existent files: %v", err)
	}
}

func TestWritePIDInvalidPath(t *testing.T) {
	if err := WritePID("/dev/null/test.pid", os.Getpid()); err == nil {
		t.Error("Expected error when writing PID to invalid path")
	}
}
