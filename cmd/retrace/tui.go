package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"retrace/internal/event"
	"retrace/internal/replay"
	"retrace/internal/session"
)

var (
	tuiTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	tuiStatusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	tuiCursorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	tuiErrStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	tuiTypeStyles  = map[event.Type]lipgloss.Style{
		event.TypeInput:       lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		event.TypeOutput:      lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		event.TypeLLMCall:     lipgloss.NewStyle().Foreground(lipgloss.Color("135")),
		event.TypeToolCall:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		event.TypeStateChange: lipgloss.NewStyle().Foreground(lipgloss.Color("81")),
		event.TypeError:       lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		event.TypeLog:         lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
	}
)

type replayModel struct {
	sess     *session.Session
	replayer *replay.Replayer
	events   []event.Event

	detail viewport.Model
	width  int
	height int
	ready  bool

	gotoMode  bool
	gotoInput string
	lastErr   string
}

func newReplayModel(sess *session.Session, r *replay.Replayer) replayModel {
	return replayModel{
		sess:     sess,
		replayer: r,
		events:   sess.Timeline(),
	}
}

func (m replayModel) Init() tea.Cmd { return nil }

func (m replayModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		detailHeight := m.height - m.timelineHeight() - 4
		if detailHeight < 3 {
			detailHeight = 3
		}
		if !m.ready {
			m.detail = viewport.New(m.width, detailHeight)
			m.ready = true
		} else {
			m.detail.Width = m.width
			m.detail.Height = detailHeight
		}
		m.refreshDetail()
		return m, nil

	case tea.KeyMsg:
		if m.gotoMode {
			return m.updateGoto(msg)
		}
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "right", "n", " ":
			if _, err := m.replayer.Step(); err != nil {
				m.lastErr = err.Error()
			} else {
				m.lastErr = ""
			}
		case "left", "p":
			if _, err := m.replayer.StepBack(); err != nil {
				m.lastErr = err.Error()
			} else {
				m.lastErr = ""
			}
		case "home", "0":
			m.replayer.Rewind()
			m.lastErr = ""
		case "end", "$":
			if err := m.replayer.Goto(len(m.events)); err != nil {
				m.lastErr = err.Error()
			}
		case "c":
			if _, ok := m.replayer.Continue(); !ok {
				m.lastErr = "no breakpoint hit before end of session"
			} else {
				m.lastErr = ""
			}
		case "b":
			if ev, ok := m.replayer.Peek(); ok {
				m.replayer.AddBreakpoint(ev.ID)
			}
		case "g":
			m.gotoMode = true
			m.gotoInput = ""
		case "up", "k":
			m.detail.LineUp(1)
		case "down", "j":
			m.detail.LineDown(1)
		}
		m.refreshDetail()
		return m, nil
	}

	var cmd tea.Cmd
	m.detail, cmd = m.detail.Update(msg)
	return m, cmd
}

func (m replayModel) updateGoto(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.gotoMode = false
		pos, err := strconv.Atoi(m.gotoInput)
		if err != nil {
			m.lastErr = fmt.Sprintf("not a position: %q", m.gotoInput)
		} else if err := m.replayer.Goto(pos); err != nil {
			m.lastErr = err.Error()
		} else {
			m.lastErr = ""
		}
		m.refreshDetail()
	case "esc":
		m.gotoMode = false
	case "backspace":
		if len(m.gotoInput) > 0 {
			m.gotoInput = m.gotoInput[:len(m.gotoInput)-1]
		}
	default:
		if len(msg.String()) == 1 && msg.String() >= "0" && msg.String() <= "9" {
			m.gotoInput += msg.String()
		}
	}
	return m, nil
}

// timelineHeight is the number of timeline rows shown above the detail pane.
func (m replayModel) timelineHeight() int {
	h := m.height / 3
	if h < 5 {
		h = 5
	}
	if h > 12 {
		h = 12
	}
	return h
}

func (m *replayModel) refreshDetail() {
	if !m.ready {
		return
	}
	var b strings.Builder

	if ev, ok := m.replayer.Current(); ok {
		fmt.Fprintf(&b, "event %d  %s  %s\n", ev.ID, ev.Type, ev.Timestamp.Format("15:04:05.000"))
		if ev.DurationMS != nil {
			fmt.Fprintf(&b, "duration: %.1fms\n", *ev.DurationMS)
		}
		if len(ev.Tags) > 0 {
			fmt.Fprintf(&b, "tags: %s\n", strings.Join(ev.Tags, ", "))
		}
		b.WriteString("\n")
		if data, err := json.MarshalIndent(ev.Data, "", "  "); err == nil {
			b.Write(data)
		}
		b.WriteString("\n\n")
	} else {
		b.WriteString("at session start\n\n")
	}

	state, err := m.replayer.State()
	if err != nil {
		b.WriteString(tuiErrStyle.Render(err.Error()))
	} else if len(state) == 0 {
		b.WriteString(tuiStatusStyle.Render("state: (empty)"))
	} else {
		b.WriteString(tuiTitleStyle.Render("state") + "\n")
		if data, err := json.MarshalIndent(state, "", "  "); err == nil {
			b.Write(data)
		}
	}
	m.detail.SetContent(b.String())
}

func (m replayModel) View() string {
	if !m.ready {
		return "loading..."
	}
	var b strings.Builder

	b.WriteString(tuiTitleStyle.Render(fmt.Sprintf("retrace: %s", m.sess.ID)))
	b.WriteString(tuiStatusStyle.Render(fmt.Sprintf("  position %d/%d", m.replayer.Position(), len(m.events))))
	b.WriteString("\n\n")

	b.WriteString(m.renderTimeline())
	b.WriteString("\n")
	b.WriteString(m.detail.View())
	b.WriteString("\n")

	if m.gotoMode {
		b.WriteString(tuiCursorStyle.Render("goto: " + m.gotoInput + "█"))
	} else if m.lastErr != "" {
		b.WriteString(tuiErrStyle.Render(m.lastErr))
	} else {
		b.WriteString(tuiStatusStyle.Render("→/n step  ←/p back  g goto  b breakpoint  c continue  0 start  $ end  q quit"))
	}
	return b.String()
}

func (m replayModel) renderTimeline() string {
	height := m.timelineHeight()
	pos := m.replayer.Position()

	// Window the timeline around the cursor.
	start := pos - height/2
	if start < 0 {
		start = 0
	}
	end := start + height
	if end > len(m.events) {
		end = len(m.events)
		if start = end - height; start < 0 {
			start = 0
		}
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		ev := m.events[i]
		cursor := "  "
		line := fmt.Sprintf("%4d %-12s %s", ev.ID, ev.Type, ev.Summary())
		if style, ok := tuiTypeStyles[ev.Type]; ok {
			line = style.Render(line)
		}
		if ev.ID == pos {
			cursor = tuiCursorStyle.Render("▸ ")
			line = tuiCursorStyle.Render(fmt.Sprintf("%4d %-12s %s", ev.ID, ev.Type, ev.Summary()))
		}
		b.WriteString(cursor + line + "\n")
	}
	return b.String()
}
