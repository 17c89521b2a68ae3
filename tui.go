package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"shadowmaster/coordinator"
	"shadowmaster/server"
	"shadowmaster/session"
)

// TUI message types
type TransitionMsg struct{ T coordinator.Transition }
type DeviceLineMsg struct{ Text string }
type tickMsg time.Time

const historyLen = 24

type tuiModel struct {
	ctl           server.Controller
	frame         int
	width, height int

	phase session.Phase
	view  session.View
	cfg   session.Config
	stats coordinator.Stats

	last    *session.AssessmentResult
	history []float64 // overall scores, oldest first

	sourceLine string
	deviceLine string
	hotkeyLine string
}

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
	tuiQueue   = make(chan tea.Msg, 64)
)

var phaseColors = map[session.Phase]string{
	session.PhaseIdle:                "241",
	session.PhaseListening:           "39",
	session.PhaseSegmentDetected:     "45",
	session.PhasePlayback:            "42",
	session.PhaseUserRecording:       "196",
	session.PhaseAssessment:          "214",
	session.PhaseFeedback:            "226",
	session.PhasePausedForNavigation: "141",
}

var (
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
)

func newTUIModel(ctl server.Controller, source, hotkeyLine string) tuiModel {
	return tuiModel{
		ctl:        ctl,
		view:       session.Describe(ctl.State()),
		phase:      ctl.State().Phase(),
		cfg:        ctl.CurrentConfig(),
		stats:      ctl.Stats(),
		sourceLine: source,
		hotkeyLine: hotkeyLine,
	}
}

func NewTUIProgram(ctl server.Controller, source, hotkeyLine string) *tea.Program {
	return tea.NewProgram(newTUIModel(ctl, source, hotkeyLine), tea.WithAltScreen())
}

// tuiSend queues msg for the running program without blocking the caller.
// Messages sent before the program starts, or while the queue is full, are
// dropped.
func tuiSend(msg tea.Msg) {
	select {
	case tuiQueue <- msg:
	default:
	}
}

// pumpTUI forwards queued messages to p until p exits.
func pumpTUI(p *tea.Program, done <-chan struct{}) {
	for {
		select {
		case msg := <-tuiQueue:
			p.Send(msg)
		case <-done:
			return
		}
	}
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
		return m.handleKey(msg.String())

	case tickMsg:
		m.frame++
		m.cfg = m.ctl.CurrentConfig()
		m.stats = m.ctl.Stats()
		return m, tuiTick()

	case TransitionMsg:
		m.phase = msg.T.To.Phase()
		m.view = session.Describe(msg.T.To)
		if fb, ok := msg.T.To.(session.Feedback); ok {
			r := fb.Result
			m.last = &r
			m.history = append(m.history, r.Overall)
			if len(m.history) > historyLen {
				m.history = m.history[len(m.history)-historyLen:]
			}
		}
		m.stats = m.ctl.Stats()

	case DeviceLineMsg:
		m.deviceLine = msg.Text
	}
	return m, nil
}

func (m tuiModel) handleKey(key string) (tea.Model, tea.Cmd) {
	cfg := m.ctl.CurrentConfig()
	switch key {
	case "ctrl+c", "q":
		return m, tea.Quit
	case " ":
		m.ctl.Dispatch(session.StartEvent{})
	case "s":
		m.ctl.Dispatch(session.StopEvent{})
	case "n":
		m.ctl.Dispatch(session.SkipEvent{})
	case "p":
		if m.phase == session.PhasePausedForNavigation {
			m.ctl.Dispatch(session.NavigationEndedEvent{})
		} else {
			m.ctl.Dispatch(session.NavigationStartedEvent{})
		}
		return m, nil
	case "b":
		cfg.BusMode = !cfg.BusMode
	case "a":
		cfg.AssessmentEnabled = !cfg.AssessmentEnabled
	case "+", "=":
		cfg.PlaybackRepeats++
	case "-":
		cfg.PlaybackRepeats = max(1, cfg.PlaybackRepeats-1)
	case "]":
		cfg.UserRepeats++
	case "[":
		cfg.UserRepeats = max(1, cfg.UserRepeats-1)
	default:
		return m, nil
	}
	if cfg != m.cfg {
		m.ctl.UpdateConfig(cfg)
		m.cfg = cfg
	}
	return m, nil
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var lines []string
	lines = append(lines, titleStyle.Render("shadowmaster "+version), "")
	lines = append(lines, m.statusLine())
	if p := m.progressLine(); p != "" {
		lines = append(lines, p)
	}
	lines = append(lines, "")

	if m.last != nil {
		lines = append(lines, titleStyle.Render("Last attempt"))
		lines = append(lines, scoreLine("overall", m.last.Overall))
		lines = append(lines, scoreLine("pronunciation", m.last.Pronunciation))
		lines = append(lines, scoreLine("fluency", m.last.Fluency))
		lines = append(lines, scoreLine("completeness", m.last.Completeness))
		lines = append(lines, dimStyle.Render("history ")+sparkline(m.history))
	} else if m.cfg.AssessmentEnabled {
		lines = append(lines, dimStyle.Render("No attempts scored yet"))
	} else {
		lines = append(lines, dimStyle.Render("Assessment off (a to enable)"))
	}
	lines = append(lines, "")

	lines = append(lines, dimStyle.Render(m.configLine()))
	lines = append(lines, dimStyle.Render(fmt.Sprintf("segments %d  attempts %d  scored %d",
		m.stats.Segments, m.stats.Attempts, m.stats.Assessments)))
	if m.sourceLine != "" {
		lines = append(lines, dimStyle.Render(m.sourceLine))
	}
	if m.deviceLine != "" {
		lines = append(lines, dimStyle.Render(m.deviceLine))
	}
	lines = append(lines, "")
	lines = append(lines, helpLines(m.hotkeyLine)...)

	return lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		PaddingLeft(2).
		PaddingTop(1).
		Render(strings.Join(lines, "\n"))
}

func (m tuiModel) statusLine() string {
	style := lipgloss.NewStyle().Foreground(lipgloss.Color(phaseColors[m.phase])).Bold(true)
	var label string
	switch m.phase {
	case session.PhaseIdle:
		label = "○ IDLE"
	case session.PhaseListening:
		label = "◌ LISTENING" + strings.Repeat(".", m.frame%4)
	case session.PhaseSegmentDetected:
		label = "◉ SEGMENT"
	case session.PhasePlayback:
		label = "▶ PLAYBACK"
	case session.PhaseUserRecording:
		label = "● YOUR TURN"
	case session.PhaseAssessment:
		label = "◔ SCORING"
	case session.PhaseFeedback:
		label = "★ FEEDBACK"
	case session.PhasePausedForNavigation:
		saved := ""
		if m.view.Saved != nil {
			saved = " (" + m.view.Saved.Phase + ")"
		}
		label = "‖ PAUSED" + saved
	}
	return style.Render(label)
}

func (m tuiModel) progressLine() string {
	if m.view.TotalRepeats == 0 {
		if m.view.SegmentMS > 0 {
			return dimStyle.Render(fmt.Sprintf("segment %.1fs", float64(m.view.SegmentMS)/1000))
		}
		return ""
	}
	var pips strings.Builder
	for i := 1; i <= m.view.TotalRepeats; i++ {
		if i <= m.view.CurrentRepeat {
			pips.WriteString("●")
		} else {
			pips.WriteString("○")
		}
	}
	line := fmt.Sprintf("%s %d/%d", pips.String(), m.view.CurrentRepeat, m.view.TotalRepeats)
	if m.view.SegmentMS > 0 {
		line += fmt.Sprintf("  segment %.1fs", float64(m.view.SegmentMS)/1000)
	}
	return dimStyle.Render(line)
}

func (m tuiModel) configLine() string {
	return fmt.Sprintf("[playback ×%d | attempts ×%d | assess %s | bus %s | nav pause %s]",
		m.cfg.PlaybackRepeats, m.cfg.UserRepeats,
		onOff(m.cfg.AssessmentEnabled), onOff(m.cfg.BusMode), onOff(m.cfg.PauseForNavigation))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func scoreColor(v float64) string {
	switch {
	case v >= 80:
		return "42"
	case v >= 60:
		return "226"
	default:
		return "208"
	}
}

func scoreLine(name string, v float64) string {
	const width = 20
	filled := int(v/100*width + 0.5)
	filled = min(max(filled, 0), width)
	bar := lipgloss.NewStyle().Foreground(lipgloss.Color(scoreColor(v))).Render(strings.Repeat("█", filled)) +
		dimStyle.Render(strings.Repeat("░", width-filled))
	return fmt.Sprintf("%-14s %s %5.1f", name, bar, v)
}

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

func sparkline(scores []float64) string {
	var b strings.Builder
	for _, s := range scores {
		i := int(s / 100 * float64(len(sparkBlocks)-1))
		i = min(max(i, 0), len(sparkBlocks)-1)
		b.WriteRune(sparkBlocks[i])
	}
	return b.String()
}

func helpLines(hotkeyLine string) []string {
	pair := func(k, what string) string { return keyStyle.Render(k) + helpStyle.Render(" "+what) }
	lines := []string{
		strings.Join([]string{pair("space", "start"), pair("s", "stop"), pair("n", "skip"), pair("p", "pause")}, "  "),
		strings.Join([]string{pair("a", "assess"), pair("b", "bus"), pair("+/-", "playback"), pair("]/[", "attempts"), pair("q", "quit")}, "  "),
	}
	if hotkeyLine != "" {
		lines = append(lines, helpStyle.Render(hotkeyLine))
	}
	return lines
}
