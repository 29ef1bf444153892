package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/relay/internal/hooks"
)

// CommandBinder binds a manifest hook to its handler file under the plugin
// directory. The handler runs as a subprocess per event: the event is
// written to stdin as JSON and a hooks.HandlerResult is read from stdout.
// Empty output means continue. The hook registry's dispatch timeout bounds
// the subprocess through the context.
func CommandBinder(logger *slog.Logger) HookBinder {
	if logger == nil {
		logger = slog.Default()
	}
	return func(p *Plugin, spec HookSpec) (hooks.Handler, error) {
		if spec.Handler == "" {
			return nil, fmt.Errorf("hook %q declares no handler", spec.Name)
		}
		path := filepath.Join(p.Dir, filepath.Clean(spec.Handler))
		if !strings.HasPrefix(path, filepath.Clean(p.Dir)+string(filepath.Separator)) {
			return nil, fmt.Errorf("handler %q escapes the plugin directory", spec.Handler)
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("handler %q: %w", spec.Handler, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("handler %q is a directory", spec.Handler)
		}

		return func(ctx context.Context, event *hooks.Event) (*hooks.HandlerResult, error) {
			payload, err := json.Marshal(event)
			if err != nil {
				return nil, fmt.Errorf("encode hook event: %w", err)
			}
			cmd := exec.CommandContext(ctx, path)
			cmd.Dir = p.Dir
			cmd.Stdin = bytes.NewReader(payload)
			var stderr bytes.Buffer
			cmd.Stderr = &stderr
			out, err := cmd.Output()
			if err != nil {
				if stderr.Len() > 0 {
					logger.Warn("hook handler stderr",
						"plugin", p.Manifest.Name, "handler", spec.Handler,
						"stderr", strings.TrimSpace(stderr.String()))
				}
				return nil, fmt.Errorf("run hook handler %q: %w", spec.Handler, err)
			}

			trimmed := bytes.TrimSpace(out)
			if len(trimmed) == 0 {
				return nil, nil
			}
			var result hooks.HandlerResult
			if err := json.Unmarshal(trimmed, &result); err != nil {
				return nil, fmt.Errorf("hook handler %q output: %w", spec.Handler, err)
			}
			return &result, nil
		}, nil
	}
}
