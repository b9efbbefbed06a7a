package session

import "testing"

func TestTurnAccumulates(t *testing.T) {
	var turn Turn
	if got := turn.AppendUser("Hel"); got != "Hel" {
		t.Errorf("got %q", got)
	}
	if got := turn.AppendUser("lo"); got != "Hello" {
		t.Errorf("got %q", got)
	}
	if got := turn.AppendAssistant("Hi"); got != "Hi" {
		t.Errorf("got %q", got)
	}

	u, a := turn.Snapshot()
	if u != "Hello" || a != "Hi" {
		t.Errorf("Snapshot = %q, %q", u, a)
	}

	u, a = turn.Complete()
	if u != "Hello" || a != "Hi" {
		t.Errorf("Complete = %q, %q", u, a)
	}
	if u, a := turn.Snapshot(); u != "" || a != "" {
		t.Errorf("turn not reset: %q, %q", u, a)
	}
}

func TestTurnReset(t *testing.T) {
	var turn Turn
	turn.AppendAssistant("partial")
	turn.Reset()
	if got := turn.AppendAssistant("new"); got != "new" {
		t.Errorf("got %q, want %q", got, "new")
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Idle: "idle", Starting: "starting", Active: "active", Stopping: "stopping", State(9): "unknown"} {
		if got := s.String(); got != want {
			t.Errorf("State(%d) = %q, want %q", s, got, want)
		}
	}
}
