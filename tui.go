package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"refuge/session"
)

// TUI message types
type LinkStateMsg struct{ Active bool }
type TranscriptMsg struct {
	Text string
	Role session.Role
}
type TurnMsg struct{ User, Assistant string }
type LogMsg struct {
	Text  string
	Level session.Level
}
type CopiedMsg struct{ Err error }
type tickMsg time.Time

const (
	maxHistory = 20
	maxLogs    = 4
)

// controls are the actions keys can trigger. They may block, so the
// model runs them as commands.
type controls interface {
	toggle()
	copyLast()
}

type turnEntry struct{ user, assistant string }

type logEntry struct {
	text  string
	level session.Level
}

type tuiModel struct {
	ctl        controls
	active     bool
	connecting bool
	frame      int
	header     string
	deviceLine string
	chord      string
	user       string
	assistant  string
	history    []turnEntry
	logs       []logEntry
	copied     string
	width      int
	height     int
}

var (
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	boldHelp     = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	userStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	refugeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	logStyles    = map[session.Level]lipgloss.Style{
		session.LevelInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		session.LevelError:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		session.LevelSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	}
)

func newTUIModel(ctl controls, header, deviceLine, chord string) tuiModel {
	return tuiModel{ctl: ctl, header: header, deviceLine: deviceLine, chord: chord}
}

func NewTUIProgram(m tuiModel) *tea.Program {
	return tea.NewProgram(m, tea.WithAltScreen())
}

func tuiTick() tea.Cmd {
	return tea.Tick(120*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case " ", "enter":
			if !m.active {
				m.connecting = true
			}
			ctl := m.ctl
			return m, func() tea.Msg { ctl.toggle(); return nil }
		case "c":
			ctl := m.ctl
			return m, func() tea.Msg { ctl.copyLast(); return nil }
		}

	case tickMsg:
		m.frame++
		return m, tuiTick()

	case LinkStateMsg:
		m.active = msg.Active
		m.connecting = false
		if !msg.Active {
			m.user, m.assistant = "", ""
		}

	case TranscriptMsg:
		if msg.Role == session.RoleUser {
			m.user = msg.Text
		} else {
			m.assistant = msg.Text
		}

	case TurnMsg:
		m.history = append(m.history, turnEntry{msg.User, msg.Assistant})
		if len(m.history) > maxHistory {
			m.history = m.history[len(m.history)-maxHistory:]
		}
		m.user, m.assistant = "", ""
		m.copied = ""

	case LogMsg:
		if msg.Level == session.LevelError {
			m.connecting = false
		}
		m.logs = append(m.logs, logEntry{msg.Text, msg.Level})
		if len(m.logs) > maxLogs {
			m.logs = m.logs[len(m.logs)-maxLogs:]
		}

	case CopiedMsg:
		if msg.Err != nil {
			m.copied = "copy failed: " + msg.Err.Error()
		} else {
			m.copied = "✓ copied"
		}
	}
	return m, nil
}

func (m tuiModel) status() string {
	switch {
	case m.active:
		dot := "●"
		if m.frame%8 >= 4 {
			dot = "◉"
		}
		return activeStyle.Render(dot + " LINK ACTIVE")
	case m.connecting:
		return pendingStyle.Render("◌ CONNECTING" + strings.Repeat(".", m.frame%4))
	}
	return idleStyle.Render("○ STANDBY")
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	wrapWidth := max(m.width-4, 10)

	var b strings.Builder
	b.WriteString(m.status() + "  " + dimStyle.Render(m.header) + "\n")
	if m.deviceLine != "" {
		b.WriteString(idleStyle.Render(m.deviceLine) + "\n")
	}
	b.WriteString("\n")

	var body []string
	for _, t := range m.history {
		body = append(body, renderTurn(t.user, t.assistant, wrapWidth)...)
		body = append(body, "")
	}
	if m.user != "" || m.assistant != "" {
		body = append(body, renderTurn(m.user, m.assistant, wrapWidth)...)
	}
	if len(body) == 0 {
		body = append(body, idleStyle.Render("No conversation yet"))
	}

	var footer []string
	for _, l := range m.logs {
		footer = append(footer, logStyles[l.level].Render(l.text))
	}
	if m.copied != "" {
		footer = append(footer, activeStyle.Render(m.copied))
	}
	footer = append(footer, "",
		boldHelp.Render("space")+helpStyle.Render(" link on/off  ")+
			boldHelp.Render(m.chord)+helpStyle.Render(" hotkey  ")+
			boldHelp.Render("c")+helpStyle.Render(" copy last turn  ")+
			boldHelp.Render("q")+helpStyle.Render(" quit"),
		helpStyle.Render("refuge "+version))

	// keep the newest lines when the conversation outgrows the window
	room := m.height - strings.Count(b.String(), "\n") - len(footer) - 1
	if room < 1 {
		room = 1
	}
	if len(body) > room {
		body = body[len(body)-room:]
	}
	b.WriteString(strings.Join(body, "\n"))
	b.WriteString("\n\n")
	b.WriteString(strings.Join(footer, "\n"))
	return b.String()
}

func renderTurn(user, assistant string, width int) []string {
	var lines []string
	if user != "" {
		for _, l := range wrapText("You: "+user, width) {
			lines = append(lines, userStyle.Render(l))
		}
	}
	if assistant != "" {
		for _, l := range wrapText("Refuge: "+assistant, width) {
			lines = append(lines, refugeStyle.Render(l))
		}
	}
	return lines
}

// wrapText breaks text at spaces into lines of at most width runes.
func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	runes := []rune(text)
	var lines []string
	for len(runes) > width {
		splitAt := width
		for i := width; i > 0; i-- {
			if runes[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, string(runes[:splitAt]))
		runes = []rune(strings.TrimLeft(string(runes[splitAt:]), " "))
	}
	if len(runes) > 0 {
		lines = append(lines, string(runes))
	}
	return lines
}

// tuiSink forwards link events into a running program.
type tuiSink struct{ p *tea.Program }

func (s tuiSink) LinkState(active bool) { s.p.Send(LinkStateMsg{Active: active}) }

func (s tuiSink) Transcript(text string, role session.Role) {
	s.p.Send(TranscriptMsg{Text: text, Role: role})
}

func (s tuiSink) TurnComplete(user, assistant string) {
	s.p.Send(TurnMsg{User: user, Assistant: assistant})
}

func (s tuiSink) Log(msg string, level session.Level) { s.p.Send(LogMsg{Text: msg, Level: level}) }

func (s tuiSink) Copied(err error) { s.p.Send(CopiedMsg{Err: err}) }

func headerText(s session.Settings) string {
	return fmt.Sprintf("[%s | %s]", s.Voice, s.Mode)
}
