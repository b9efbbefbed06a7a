package main

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"refuge/session"
)

type fakeControls struct{ toggles, copies int }

func (f *fakeControls) toggle()   { f.toggles++ }
func (f *fakeControls) copyLast() { f.copies++ }

func update(t *testing.T, m tuiModel, msg tea.Msg) (tuiModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(tuiModel), cmd
}

func TestTUIKeys(t *testing.T) {
	ctl := &fakeControls{}
	m := newTUIModel(ctl, "[Kore | standard]", "mic: system default", "ctrl+shift+space")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	if !m.connecting {
		t.Error("space should mark the link as connecting")
	}
	if cmd == nil {
		t.Fatal("space returned no command")
	}
	cmd()
	if ctl.toggles != 1 {
		t.Errorf("toggles = %d", ctl.toggles)
	}

	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'c'}})
	cmd()
	if ctl.copies != 1 {
		t.Errorf("copies = %d", ctl.copies)
	}

	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}

func TestTUIConversation(t *testing.T) {
	m := newTUIModel(&fakeControls{}, "[Kore | translator]", "", "ctrl+shift+space")
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 60, Height: 30})
	m, _ = update(t, m, LinkStateMsg{Active: true})
	m, _ = update(t, m, TranscriptMsg{Text: "Hel", Role: session.RoleUser})
	m, _ = update(t, m, TranscriptMsg{Text: "Hello", Role: session.RoleUser})
	m, _ = update(t, m, TranscriptMsg{Text: "Hola", Role: session.RoleAssistant})

	view := m.View()
	for _, want := range []string{"LINK ACTIVE", "You: Hello", "Refuge: Hola"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}

	m, _ = update(t, m, TurnMsg{User: "Hello", Assistant: "Hola"})
	if m.user != "" || m.assistant != "" || len(m.history) != 1 {
		t.Errorf("turn not archived: %+v", m)
	}
	m, _ = update(t, m, CopiedMsg{})
	if !strings.Contains(m.View(), "copied") {
		t.Error("copy confirmation missing")
	}
	m, _ = update(t, m, CopiedMsg{Err: errors.New("no xclip")})
	if !strings.Contains(m.View(), "copy failed: no xclip") {
		t.Error("copy failure missing")
	}

	m, _ = update(t, m, LinkStateMsg{Active: false})
	if !strings.Contains(m.View(), "STANDBY") {
		t.Error("standby status missing after link down")
	}
}

func TestTUIErrorClearsConnecting(t *testing.T) {
	m := newTUIModel(&fakeControls{}, "", "", "")
	m.connecting = true
	m, _ = update(t, m, LogMsg{Text: "Uplink failed: API key missing", Level: session.LevelError})
	if m.connecting {
		t.Error("error should clear connecting")
	}
	for i := 0; i < maxLogs+3; i++ {
		m, _ = update(t, m, LogMsg{Text: "x", Level: session.LevelInfo})
	}
	if len(m.logs) != maxLogs {
		t.Errorf("logs = %d, want %d", len(m.logs), maxLogs)
	}
}

func TestTUIHistoryBounded(t *testing.T) {
	m := newTUIModel(&fakeControls{}, "", "", "")
	for i := 0; i < maxHistory+5; i++ {
		m, _ = update(t, m, TurnMsg{User: "u", Assistant: "a"})
	}
	if len(m.history) != maxHistory {
		t.Errorf("history = %d, want %d", len(m.history), maxHistory)
	}
}

func TestWrapText(t *testing.T) {
	tests := []struct {
		text  string
		width int
		want  []string
	}{
		{"", 10, []string{""}},
		{"short", 10, []string{"short"}},
		{"hello world again", 11, []string{"hello world", "again"}},
		{"abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"привіт світе", 7, []string{"привіт", "світе"}},
	}
	for _, tt := range tests {
		got := wrapText(tt.text, tt.width)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("wrapText(%q, %d) = %q, want %q", tt.text, tt.width, got, tt.want)
		}
	}
}
