package logs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeLog(t *testing.T, dir, name, content string, mod time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if !mod.IsZero() {
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatal(err)
		}
	}
}

func TestListNewestFirst(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeLog(t, dir, "relay-2026-08-01.log", "old", now.Add(-time.Hour))
	writeLog(t, dir, "relay-2026-08-02.log", "new", now)
	writeLog(t, dir, "notes.txt", "ignored", now)

	m := NewManager(dir)
	files, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("files %+v", files)
	}
	if files[0].Name != "relay-2026-08-02.log" {
		t.Errorf("order %+v", files)
	}
}

func TestListMissingDir(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "nope"))
	files, err := m.List()
	if err != nil || files != nil {
		t.Errorf("files=%v err=%v", files, err)
	}
}

func TestReadAndDelete(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "relay-2026-08-02.log", "line one\n", time.Time{})

	m := NewManager(dir)
	data, err := m.Read("relay-2026-08-02.log")
	if err != nil || string(data) != "line one\n" {
		t.Errorf("data=%q err=%v", data, err)
	}

	if err := m.Delete("relay-2026-08-02.log"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Read("relay-2026-08-02.log"); err == nil {
		t.Error("deleted file still readable")
	}
}

func TestTraversalRejected(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(dir, "secret.log")
	writeLog(t, dir, "secret.log", "secret", time.Time{})

	sub := filepath.Join(dir, "logs")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	m := NewManager(sub)

	for _, name := range []string{
		"../secret.log",
		"..",
		"a/b.log",
		"/etc/passwd",
		"",
	} {
		if _, err := m.Read(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Read(%q) error %v", name, err)
		}
		if err := m.Delete(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Delete(%q) error %v", name, err)
		}
	}
	if _, err := os.Stat(outside); err != nil {
		t.Error("file outside logs dir was touched")
	}
}

func TestDeleteAll(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "a.log", "a", time.Time{})
	writeLog(t, dir, "b.log", "b", time.Time{})

	m := NewManager(dir)
	n, err := m.DeleteAll()
	if err != nil || n != 2 {
		t.Errorf("n=%d err=%v", n, err)
	}
	files, _ := m.List()
	if len(files) != 0 {
		t.Errorf("files left %+v", files)
	}
}

func TestFilePathCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	m := NewManager(dir)
	path, err := m.FilePath()
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("path %q", path)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("dir not created: %v", err)
	}
}
