package router

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/haasonsaas/relay/internal/config"
)

// routingTable returns the table for this request: a session override file
// wins over a project override file, which wins over the configured table.
// Override files are best-effort; unreadable or malformed files only log.
func (r *Router) routingTable(sessionID, projectPath string) config.RouterConfig {
	if r.overridesDir == "" {
		return r.cfg.Router
	}
	if sessionID != "" {
		if table, ok := r.readOverride("session-" + sanitizeKey(sessionID) + ".json"); ok {
			return table
		}
	}
	if projectPath != "" {
		if table, ok := r.readOverride("project-" + hashPath(projectPath) + ".json"); ok {
			return table
		}
	}
	return r.cfg.Router
}

func (r *Router) readOverride(name string) (config.RouterConfig, bool) {
	data, err := os.ReadFile(filepath.Join(r.overridesDir, name))
	if err != nil {
		return config.RouterConfig{}, false
	}
	table := r.cfg.Router
	if err := json5.Unmarshal(data, &table); err != nil {
		r.logger.Warn("malformed router override, ignoring", "file", name, "error", err)
		return config.RouterConfig{}, false
	}
	r.logger.Debug("applied router override", "file", name)
	return table, true
}

// hashPath keys project override files by a stable digest so arbitrary
// filesystem paths never appear in file names.
func hashPath(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:8])
}

// sanitizeKey keeps session-derived file names to a safe alphabet.
func sanitizeKey(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
