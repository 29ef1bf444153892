package plugins

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/relay/internal/hooks"
)

func writeHandlerScript(t *testing.T, dir, name, body string) {
	t.Helper()
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(filepath.Join(dir, name), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
}

func TestCommandBinderVetoFlowsThroughRegistry(t *testing.T) {
	root := t.TempDir()
	dir := writePlugin(t, root, "vetoer", `{
		"name": "vetoer",
		"version": "1.0.0",
		"hooks": [{"event": "PreToolUse", "name": "block", "handler": "block.sh"}]
	}`)
	writeHandlerScript(t, dir, "block.sh", `echo '{"continue":false,"reason":"blocked by plugin"}'`)

	hookReg := hooks.NewRegistry(nil)
	m := NewManager(root, hookReg, nil, CommandBinder(nil), nil)
	if err := m.LoadAll(); err != nil {
		t.Fatal(err)
	}

	res := hookReg.Fire(context.Background(), &hooks.Event{Type: hooks.EventPreToolUse, ToolName: "Bash"})
	if res.Continue {
		t.Fatal("plugin veto not honored")
	}
	if res.Reason != "blocked by plugin" {
		t.Errorf("veto reason %q", res.Reason)
	}
}

func TestCommandBinderEmptyOutputContinues(t *testing.T) {
	root := t.TempDir()
	dir := writePlugin(t, root, "observer", `{
		"name": "observer",
		"version": "1.0.0",
		"hooks": [{"event": "PostResponse", "name": "note", "handler": "note.sh"}]
	}`)
	writeHandlerScript(t, dir, "note.sh", `cat > /dev/null`)

	hookReg := hooks.NewRegistry(nil)
	m := NewManager(root, hookReg, nil, CommandBinder(nil), nil)
	if err := m.LoadAll(); err != nil {
		t.Fatal(err)
	}

	res := hookReg.Fire(context.Background(), &hooks.Event{Type: hooks.EventPostResponse})
	if !res.Continue {
		t.Error("silent handler treated as veto")
	}
	if res.Ran != 1 {
		t.Errorf("ran %d handlers, want 1", res.Ran)
	}
}

func TestCommandBinderRejectsBadHandlers(t *testing.T) {
	binder := CommandBinder(nil)
	p := &Plugin{Dir: t.TempDir(), Manifest: Manifest{Name: "x", Version: "1"}}

	if _, err := binder(p, HookSpec{Event: hooks.EventPreToolUse, Handler: "../outside.sh"}); err == nil {
		t.Error("handler escaping the plugin directory was bound")
	}
	if _, err := binder(p, HookSpec{Event: hooks.EventPreToolUse}); err == nil {
		t.Error("empty handler was bound")
	}
	if _, err := binder(p, HookSpec{Event: hooks.EventPreToolUse, Handler: "missing.sh"}); err == nil {
		t.Error("missing handler file was bound")
	}
}
