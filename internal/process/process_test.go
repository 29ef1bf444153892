package process

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPIDRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.pid")

	if err := WritePID(path); err != nil {
		t.Fatal(err)
	}
	pid, err := ReadPID(path)
	if err != nil {
		t.Fatal(err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid %d, want %d", pid, os.Getpid())
	}

	if err := RemovePID(path); err != nil {
		t.Fatal(err)
	}
	if err := RemovePID(path); err != nil {
		t.Errorf("double remove errored: %v", err)
	}
	if _, err := ReadPID(path); err == nil {
		t.Error("removed pid file still readable")
	}
}

func TestReadPIDMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.pid")
	if err := os.WriteFile(path, []byte("not-a-pid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadPID(path); err == nil {
		t.Error("malformed pid accepted")
	}
}

func TestAlive(t *testing.T) {
	if !Alive(os.Getpid()) {
		t.Error("current process reported dead")
	}
	if Alive(0) || Alive(-1) {
		t.Error("invalid pid reported alive")
	}
}

func TestRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.pid")

	if _, ok := Running(path); ok {
		t.Error("missing pid file reported running")
	}

	if err := WritePID(path); err != nil {
		t.Fatal(err)
	}
	pid, ok := Running(path)
	if !ok || pid != os.Getpid() {
		t.Errorf("pid=%d ok=%v", pid, ok)
	}
}
