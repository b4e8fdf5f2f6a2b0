// Package tui provides the Bubble Tea monitoring interface.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/verte-zerg/rolens/internal/model"
	"github.com/verte-zerg/rolens/internal/stats"
)

// Controller is the command surface the UI drives.
type Controller interface {
	ListCandidateProcesses() ([]model.Process, error)
	Start(ctx context.Context, pid uint32) error
	Stop()
	PollOnce(ctx context.Context) (model.StatsView, error)
	Reset()
	SetManualPercentage(track model.Track, percentage float64) (uint64, error)
	RefreshTable(ctx context.Context) bool
	RecentGains() []stats.XPGain
}

type screen int

const (
	screenPicker screen = iota
	screenMonitor
)

type processesMsg struct {
	procs []model.Process
	err   error
}

type startedMsg struct {
	pid uint32
	err error
}

// Stale tick and poll messages from an earlier monitoring run carry an older gen and are dropped.
type tickMsg struct {
	gen int
}

type pollMsg struct {
	gen  int
	view model.StatsView
	err  error
}

type refreshMsg struct {
	ok bool
}

type resetMsg struct{}

type estimateMsg struct {
	track    model.Track
	estimate uint64
	err      error
}

// Model implements the Bubble Tea monitor UI.
type Model struct {
	ctl      Controller
	interval time.Duration

	screen screen
	width  int
	height int

	procs       []model.Process
	procTable   table.Model
	loadingProc bool

	pid     uint32
	gen     int
	polling bool
	view    model.StatsView
	hasView bool
	gains   []stats.XPGain

	promptMode  bool
	promptTrack model.Track
	prompt      textinput.Model

	refreshing bool
	status     string
	errMsg     string
}

// NewModel constructs a monitor model polling every interval.
func NewModel(ctl Controller, interval time.Duration) *Model {
	m := &Model{
		ctl:       ctl,
		interval:  interval,
		procTable: buildProcessTable(nil, 0, 1),
		prompt:    newPercentInput(),
	}
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	m.loadingProc = true
	return m.loadProcessesCmd()
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeProcessTable()
		return m, nil
	case processesMsg:
		return m.handleProcesses(msg)
	case startedMsg:
		return m.handleStarted(msg)
	case tickMsg:
		if msg.gen != m.gen || m.screen != screenMonitor || m.polling {
			return m, nil
		}
		m.polling = true
		return m, m.pollCmd()
	case pollMsg:
		return m.handlePoll(msg)
	case refreshMsg:
		m.refreshing = false
		if msg.ok {
			m.status = "Progression table updated."
			m.errMsg = ""
		} else {
			m.errMsg = "Failed to download the progression table. Check your connection."
		}
		return m, nil
	case resetMsg:
		m.hasView = false
		m.gains = nil
		m.status = "Session reset."
		return m, nil
	case estimateMsg:
		return m.handleEstimate(msg)
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if m.promptMode {
			return m.updatePrompt(msg)
		}
		if m.screen == screenPicker {
			return m.updatePicker(msg)
		}
		return m.updateMonitor(msg)
	}
	return m, nil
}

func (m *Model) handleProcesses(msg processesMsg) (tea.Model, tea.Cmd) {
	m.loadingProc = false
	if msg.err != nil {
		m.errMsg = fmt.Sprintf("Failed to list processes: %v", msg.err)
		return m, nil
	}
	m.procs = msg.procs
	m.applyProcessRows()
	if len(m.procs) == 0 {
		m.status = "No game client found. Start the game and press r."
	} else {
		m.status = fmt.Sprintf("%d client(s) found.", len(m.procs))
	}
	return m, nil
}

func (m *Model) handleStarted(msg startedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.errMsg = describeError(msg.err)
		return m, nil
	}
	m.screen = screenMonitor
	m.pid = msg.pid
	m.gen++
	m.polling = true
	m.hasView = false
	m.gains = nil
	m.errMsg = ""
	m.status = fmt.Sprintf("Monitoring pid %d.", msg.pid)
	return m, m.pollCmd()
}

func (m *Model) handlePoll(msg pollMsg) (tea.Model, tea.Cmd) {
	if msg.gen != m.gen {
		return m, nil
	}
	m.polling = false
	if m.screen != screenMonitor {
		return m, nil
	}
	if msg.err != nil {
		m.screen = screenPicker
		m.errMsg = describeError(msg.err)
		m.status = ""
		m.loadingProc = true
		return m, m.loadProcessesCmd()
	}
	m.view = msg.view
	m.hasView = true
	m.gains = m.ctl.RecentGains()
	return m, m.tickCmd()
}

func (m *Model) updatePicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "r":
		m.loadingProc = true
		m.errMsg = ""
		return m, m.loadProcessesCmd()
	case "enter":
		proc, ok := m.selectedProcess()
		if !ok {
			return m, nil
		}
		m.errMsg = ""
		m.status = fmt.Sprintf("Attaching to pid %d...", proc.PID)
		return m, m.startCmd(proc.PID)
	}
	var cmd tea.Cmd
	m.procTable, cmd = m.procTable.Update(msg)
	return m, cmd
}

func (m *Model) updateMonitor(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "r":
		m.status = "Resetting session..."
		return m, m.resetCmd()
	case "b":
		return m.startPrompt(model.TrackBase)
	case "j":
		return m.startPrompt(model.TrackJob)
	case "u":
		if m.refreshing {
			return m, nil
		}
		m.refreshing = true
		m.status = "Downloading progression table..."
		return m, m.refreshCmd()
	case "p":
		m.ctl.Stop()
		m.screen = screenPicker
		m.gen++
		m.polling = false
		m.status = ""
		m.loadingProc = true
		return m, m.loadProcessesCmd()
	}
	return m, nil
}

func (m *Model) startPrompt(track model.Track) (tea.Model, tea.Cmd) {
	if !m.hasView {
		m.errMsg = "Wait for the first reading before setting a percentage."
		return m, nil
	}
	m.promptMode = true
	m.promptTrack = track
	m.prompt.SetValue("")
	m.errMsg = ""
	return m, m.prompt.Focus()
}

func (m *Model) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.promptMode = false
		m.prompt.Blur()
		return m, nil
	case tea.KeyEnter:
		pct, err := parsePercentage(m.prompt.Value())
		if err != nil {
			m.errMsg = err.Error()
			return m, nil
		}
		return m, m.estimateCmd(m.promptTrack, pct)
	}
	var cmd tea.Cmd
	m.prompt, cmd = m.prompt.Update(msg)
	return m, cmd
}

func (m *Model) handleEstimate(msg estimateMsg) (tea.Model, tea.Cmd) {
	if !m.promptMode {
		return m, nil
	}
	if msg.err != nil {
		m.errMsg = describeError(msg.err)
		return m, nil
	}
	m.promptMode = false
	m.prompt.Blur()
	m.errMsg = ""
	m.status = fmt.Sprintf("%s level estimated at %s XP.", trackTitle(msg.track), formatNumber(msg.estimate))
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	var body string
	switch {
	case m.promptMode:
		return fitLines(m.renderPrompt(), m.width, m.height)
	case m.screen == screenPicker:
		body = m.renderPicker()
	default:
		body = m.renderMonitor()
	}
	footer := m.renderFooter()
	footerHeight := strings.Count(footer, "\n") + 1
	bodyHeight := maxInt(1, m.height-footerHeight)
	return fitLines(body, m.width, bodyHeight) + "\n" + fitLines(footer, m.width, footerHeight)
}

func (m *Model) loadProcessesCmd() tea.Cmd {
	ctl := m.ctl
	return func() tea.Msg {
		procs, err := ctl.ListCandidateProcesses()
		return processesMsg{procs: procs, err: err}
	}
}

func (m *Model) startCmd(pid uint32) tea.Cmd {
	ctl := m.ctl
	return func() tea.Msg {
		return startedMsg{pid: pid, err: ctl.Start(context.Background(), pid)}
	}
}

func (m *Model) pollCmd() tea.Cmd {
	ctl, gen := m.ctl, m.gen
	return func() tea.Msg {
		view, err := ctl.PollOnce(context.Background())
		return pollMsg{gen: gen, view: view, err: err}
	}
}

func (m *Model) tickCmd() tea.Cmd {
	gen := m.gen
	return tea.Tick(m.interval, func(time.Time) tea.Msg {
		return tickMsg{gen: gen}
	})
}

func (m *Model) refreshCmd() tea.Cmd {
	ctl := m.ctl
	return func() tea.Msg {
		return refreshMsg{ok: ctl.RefreshTable(context.Background())}
	}
}

func (m *Model) resetCmd() tea.Cmd {
	ctl := m.ctl
	return func() tea.Msg {
		ctl.Reset()
		return resetMsg{}
	}
}

func (m *Model) estimateCmd(track model.Track, pct float64) tea.Cmd {
	ctl := m.ctl
	return func() tea.Msg {
		estimate, err := ctl.SetManualPercentage(track, pct)
		return estimateMsg{track: track, estimate: estimate, err: err}
	}
}

func newPercentInput() textinput.Model {
	input := textinput.New()
	input.Prompt = "Percentage: "
	input.Placeholder = "45.2"
	input.CharLimit = 8
	input.Cursor.SetMode(cursor.CursorBlink)
	return input
}

// parsePercentage accepts "45", "45.5", "45,5" and "45.5%".
func parsePercentage(input string) (float64, error) {
	s := strings.TrimSpace(input)
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return 0, errors.New("enter the percentage shown in game")
	}
	pct, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", input)
	}
	return pct, nil
}
