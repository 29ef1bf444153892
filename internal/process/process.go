// Package process manages the gateway's PID file and the restart re-exec.
package process

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// WritePID records the current process id at path.
func WritePID(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// ReadPID returns the pid recorded at path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file %s: %w", path, err)
	}
	return pid, nil
}

// RemovePID deletes the pid file; a missing file is fine.
func RemovePID(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Alive reports whether the recorded process still exists. Signal 0 probes
// without delivering anything.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Running reports whether a live gateway holds the pid file at path.
func Running(path string) (int, bool) {
	pid, err := ReadPID(path)
	if err != nil {
		return 0, false
	}
	if !Alive(pid) {
		return pid, false
	}
	return pid, true
}

// ScheduleRestart spawns a fresh copy of this binary after delay and exits
// the current process. Called from the restart endpoint after the reply has
// been flushed.
func ScheduleRestart(delay time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		time.Sleep(delay)
		exe, err := os.Executable()
		if err != nil {
			logger.Error("restart failed: cannot resolve executable", "error", err)
			return
		}
		cmd := exec.Command(exe, os.Args[1:]...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Env = os.Environ()
		if err := cmd.Start(); err != nil {
			logger.Error("restart failed: cannot start replacement", "error", err)
			return
		}
		logger.Info("replacement process started, exiting", "pid", cmd.Process.Pid)
		os.Exit(0)
	}()
}
