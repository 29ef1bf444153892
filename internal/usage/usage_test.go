package usage

import "testing"

func TestRecordAndLookup(t *testing.T) {
	tr := NewTracker()
	tr.Record("sess-1", 70000, 300)

	u, ok := tr.Lookup("sess-1")
	if !ok {
		t.Fatal("session not found")
	}
	if u.InputTokens != 70000 || u.OutputTokens != 300 {
		t.Errorf("usage %+v", u)
	}
}

func TestRecordOverwrites(t *testing.T) {
	tr := NewTracker()
	tr.Record("sess-1", 100, 10)
	tr.Record("sess-1", 200, 20)

	u, _ := tr.Lookup("sess-1")
	if u.InputTokens != 200 {
		t.Errorf("stale usage %+v", u)
	}
}

func TestEmptySessionIgnored(t *testing.T) {
	tr := NewTracker()
	tr.Record("", 100, 10)
	if _, ok := tr.Lookup(""); ok {
		t.Error("empty session id tracked")
	}
}
