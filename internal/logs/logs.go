// Package logs backs the /api/logs endpoints: listing, reading, and
// deleting the gateway's log files. File access is restricted to plain
// names inside the logs directory; anything that resolves elsewhere is
// refused.
package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrInvalidName rejects a file name that escapes the logs directory.
var ErrInvalidName = fmt.Errorf("invalid log file name")

// FileInfo describes one log file.
type FileInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Manager serves files in one logs directory.
type Manager struct {
	dir string
}

// NewManager builds a manager over dir.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

// Dir returns the logs directory path.
func (m *Manager) Dir() string {
	return m.dir
}

// FilePath returns today's log file path, creating the directory.
func (m *Manager) FilePath() (string, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("create logs dir: %w", err)
	}
	name := "relay-" + time.Now().Format("2006-01-02") + ".log"
	return filepath.Join(m.dir, name), nil
}

// List returns the log files, newest first.
func (m *Manager) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read logs dir: %w", err)
	}

	var out []FileInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, FileInfo{
			Name:     entry.Name(),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Modified.After(out[j].Modified) })
	return out, nil
}

// Read returns the contents of one log file by name.
func (m *Manager) Read(name string) ([]byte, error) {
	path, err := m.resolve(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Delete removes one log file by name.
func (m *Manager) Delete(name string) error {
	path, err := m.resolve(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// DeleteAll removes every log file, returning the count removed.
func (m *Manager) DeleteAll() (int, error) {
	files, err := m.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, f := range files {
		if err := m.Delete(f.Name); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// resolve validates a client-supplied name: it must be a bare file name,
// no separators, no traversal, and stay inside the logs directory.
func (m *Manager) resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
		return "", ErrInvalidName
	}
	path := filepath.Join(m.dir, name)
	// Join cleans the path; make sure it still lives under dir.
	if filepath.Dir(path) != filepath.Clean(m.dir) {
		return "", ErrInvalidName
	}
	return path, nil
}
