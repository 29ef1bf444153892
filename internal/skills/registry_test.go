package skills

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/relay/internal/errdefs"
)

func echoSkill(name, prefix string) *Skill {
	return &Skill{
		Name:        name,
		Description: name + " skill",
		Trigger:     PrefixTrigger(prefix),
		Handler: func(ctx context.Context, inv Invocation) (*Result, error) {
			return &Result{Output: inv.Args}, nil
		},
	}
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(&Skill{Trigger: PrefixTrigger("/x"), Handler: func(ctx context.Context, inv Invocation) (*Result, error) { return nil, nil }}); err == nil {
		t.Error("nameless skill accepted")
	}
	if err := r.Register(&Skill{Name: "x", Trigger: PrefixTrigger("/x")}); err == nil {
		t.Error("handlerless skill accepted")
	}
	if err := r.Register(&Skill{Name: "x", Handler: func(ctx context.Context, inv Invocation) (*Result, error) { return nil, nil }}); err == nil {
		t.Error("triggerless skill accepted")
	}
}

func TestMatchFirstInRegistrationOrder(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(echoSkill("broad", "/dep")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(echoSkill("narrow", "/deploy")); err != nil {
		t.Fatal(err)
	}

	// "/deploy prod" matches both prefixes; the earlier registration wins.
	s, ok := r.Match("/deploy prod")
	if !ok || s.Name != "broad" {
		t.Errorf("matched %+v", s)
	}
}

func TestMatchRegexTrigger(t *testing.T) {
	r := NewRegistry(nil)
	trig, err := RegexTrigger(`^(run|exec)\s`)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&Skill{
		Name:        "runner",
		Description: "runs things",
		Trigger:     trig,
		Handler: func(ctx context.Context, inv Invocation) (*Result, error) {
			return &Result{Output: inv.Input}, nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	if _, ok := r.Match("exec ls"); !ok {
		t.Error("regex trigger did not match")
	}
	if _, ok := r.Match("running late"); ok {
		t.Error("regex trigger over-matched")
	}
}

func TestExecuteStripsPrefix(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(echoSkill("deploy", "/deploy")); err != nil {
		t.Fatal(err)
	}

	res, err := r.Execute(context.Background(), "/deploy prod --force", "s1", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Skill != "deploy" || res.Output != "prod --force" {
		t.Errorf("result %+v", res)
	}
	if res.Duration < 0 {
		t.Error("duration not recorded")
	}
}

func TestExecuteNoMatch(t *testing.T) {
	r := NewRegistry(nil)
	res, err := r.Execute(context.Background(), "plain chat message", "", "")
	if err != nil || res != nil {
		t.Errorf("res=%v err=%v", res, err)
	}
}

func TestExecuteTimeout(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(&Skill{
		Name:        "slow",
		Description: "never finishes",
		Trigger:     PrefixTrigger("/slow"),
		Timeout:     20 * time.Millisecond,
		Handler: func(ctx context.Context, inv Invocation) (*Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}); err != nil {
		t.Fatal(err)
	}

	_, err := r.Execute(context.Background(), "/slow", "", "")
	if err == nil {
		t.Fatal("timeout not reported")
	}
	if errdefs.CodeOf(err) != errdefs.SkillExecutionFailed {
		t.Errorf("code %v", errdefs.CodeOf(err))
	}
}

func TestExecuteHandlerError(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(&Skill{
		Name:        "broken",
		Description: "always fails",
		Trigger:     PrefixTrigger("/broken"),
		Handler: func(ctx context.Context, inv Invocation) (*Result, error) {
			return nil, errors.New("boom")
		},
	}); err != nil {
		t.Fatal(err)
	}

	_, err := r.Execute(context.Background(), "/broken", "", "")
	if errdefs.CodeOf(err) != errdefs.SkillExecutionFailed {
		t.Errorf("code %v", errdefs.CodeOf(err))
	}
}

func TestDuplicateNameReplacesInPlace(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(echoSkill("a", "/a")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(echoSkill("b", "/b")); err != nil {
		t.Fatal(err)
	}

	replacement := echoSkill("a", "/aa")
	if err := r.Register(replacement); err != nil {
		t.Fatal(err)
	}

	list := r.List()
	if len(list) != 2 || list[0].Name != "a" || list[0].Trigger.Prefix != "/aa" {
		t.Errorf("list %+v", list)
	}
}

func TestUnregisterSource(t *testing.T) {
	r := NewRegistry(nil)
	s := echoSkill("from-plugin", "/p")
	s.Source = "plugin-x"
	if err := r.Register(s); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(echoSkill("builtin", "/b")); err != nil {
		t.Fatal(err)
	}

	if n := r.UnregisterSource("plugin-x"); n != 1 {
		t.Fatalf("removed %d", n)
	}
	if _, ok := r.Match("/p"); ok {
		t.Error("removed skill still matches")
	}
}
