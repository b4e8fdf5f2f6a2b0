package tui

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"

	"github.com/verte-zerg/rolens/internal/model"
	"github.com/verte-zerg/rolens/internal/probe"
	"github.com/verte-zerg/rolens/internal/stats"
)

const barWidth = 24

var (
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A")).Bold(true)
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	cardStyle   = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#4A4A4A"))
	cardTitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	cardValueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	barFullStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A"))
	barEmptyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4A4A4A"))
	modalStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#C89A3A")).
			Padding(1, 2)
)

func buildProcessTable(procs []model.Process, width, height int) table.Model {
	t := table.New(
		table.WithColumns(processColumns()),
		table.WithRows(processRows(procs)),
		table.WithHeight(maxInt(1, height)),
		table.WithFocused(true),
	)
	if width > 0 {
		t.SetWidth(width)
	}
	t.SetStyles(processTableStyles())
	return t
}

func processColumns() []table.Column {
	return []table.Column{
		{Title: "PID", Width: 8},
		{Title: "Executable", Width: 28},
	}
}

func processRows(procs []model.Process) []table.Row {
	rows := make([]table.Row, 0, len(procs))
	for _, p := range procs {
		rows = append(rows, table.Row{fmt.Sprintf("%d", p.PID), p.Name})
	}
	return rows
}

func processTableStyles() table.Styles {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("#4A4A4A")).
		Foreground(lipgloss.Color("#C0C0C0")).
		Bold(true).
		Padding(0, 1).
		PaddingLeft(0)
	styles.Cell = styles.Cell.
		Padding(0, 1).
		PaddingLeft(0)
	styles.Selected = styles.Cell.
		Foreground(lipgloss.Color("#F0F0F0")).
		Bold(true)
	return styles
}

func (m *Model) applyProcessRows() {
	m.procTable.SetRows(processRows(m.procs))
	if m.procTable.Cursor() >= len(m.procs) {
		m.procTable.SetCursor(0)
	}
	m.resizeProcessTable()
}

func (m *Model) resizeProcessTable() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	m.procTable.SetWidth(minInt(m.width, 40))
	// Title, blank line and footer surround the table.
	m.procTable.SetHeight(maxInt(1, minInt(len(m.procs)+1, m.height-4)))
}

func (m *Model) selectedProcess() (model.Process, bool) {
	i := m.procTable.Cursor()
	if i < 0 || i >= len(m.procs) {
		return model.Process{}, false
	}
	return m.procs[i], true
}

func (m *Model) renderPicker() string {
	lines := []string{titleStyle.Render("Select a game client"), ""}
	switch {
	case m.loadingProc:
		lines = append(lines, statusStyle.Render("Scanning processes..."))
	case len(m.procs) == 0:
		lines = append(lines, statusStyle.Render("No client running."))
	default:
		lines = append(lines, m.procTable.View())
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderMonitor() string {
	if !m.hasView {
		return titleStyle.Render(fmt.Sprintf("pid %d", m.pid)) + "\n\n" + statusStyle.Render("Waiting for data...")
	}
	v := m.view
	cur := v.Current
	header := titleStyle.Render(fmt.Sprintf("%s  ·  Base %d / Job %d  ·  pid %d",
		displayName(cur.Name), cur.BaseLevel, cur.JobLevel, m.pid))

	cards := []string{
		metricCard("Session", stats.FormatDuration(v.SessionTime),
			fmt.Sprintf("%s monsters", formatNumber(v.MonstersKilled))),
		metricCard("Base XP", formatNumber(v.TotalBaseXP),
			fmt.Sprintf("%s/h  %s/mob", formatNumber(v.BaseXPPerHour), formatNumber(v.AvgBaseXPPerMob))),
		metricCard("Job XP", formatNumber(v.TotalJobXP),
			fmt.Sprintf("%s/h  %s/mob", formatNumber(v.JobXPPerHour), formatNumber(v.AvgJobXPPerMob))),
		metricCard("Vitals", fmt.Sprintf("HP %s/%s", formatNumber(uint64(cur.HP)), formatNumber(uint64(cur.HPMax))),
			fmt.Sprintf("SP %s/%s", formatNumber(uint64(cur.SP)), formatNumber(uint64(cur.SPMax)))),
		metricCard("Damage taken", formatNumber(v.TotalDamageTaken),
			fmt.Sprintf("%s/min", formatNumber(v.DamagePerMinute))),
	}
	var grid string
	if m.width < 80 {
		grid = strings.Join(cards, "\n")
	} else {
		row1 := lipgloss.JoinHorizontal(lipgloss.Top, cards[0], cards[1], cards[2])
		row2 := lipgloss.JoinHorizontal(lipgloss.Top, cards[3], cards[4])
		grid = lipgloss.JoinVertical(lipgloss.Left, row1, row2)
	}

	progress := []string{
		progressLine(fmt.Sprintf("Base Lv %d", cur.BaseLevel), v.BaseProgress),
		progressLine(fmt.Sprintf("Job Lv %d", cur.JobLevel), v.JobProgress),
	}
	parts := []string{header, "", grid, "", strings.Join(progress, "\n")}
	if spark := stats.Sparkline(m.gains); spark != "" {
		parts = append(parts, "", headerStyle.Render("Recent kills ")+spark)
	}
	return strings.Join(parts, "\n")
}

func metricCard(label, value, detail string) string {
	content := fmt.Sprintf("%s\n%s\n%s", cardTitleStyle.Render(label), cardValueStyle.Render(value), headerStyle.Render(detail))
	return cardStyle.Render(content)
}

func progressLine(label string, p model.Progress) string {
	return fmt.Sprintf("%-10s %s %s", label, progressBar(p, barWidth), stats.FormatProgress(p))
}

func progressBar(p model.Progress, width int) string {
	if !p.Known {
		return barEmptyStyle.Render(strings.Repeat("·", width))
	}
	filled := int(math.Round(p.Percentage / 100 * float64(width)))
	filled = maxInt(0, minInt(width, filled))
	return barFullStyle.Render(strings.Repeat("█", filled)) + barEmptyStyle.Render(strings.Repeat("░", width-filled))
}

func (m *Model) renderPrompt() string {
	body := []string{
		cardValueStyle.Render(fmt.Sprintf("%s level percentage", trackTitle(m.promptTrack))),
		m.prompt.View(),
		headerStyle.Render("Type the percentage the game shows for the current level."),
		headerStyle.Render("Enter to apply / Esc to cancel"),
	}
	if m.errMsg != "" {
		body = append(body, errorStyle.Render(m.errMsg))
	}
	box := modalStyle.Width(modalWidth(m.width)).Render(strings.Join(body, "\n"))
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

func (m *Model) renderFooter() string {
	var help string
	if m.screen == screenPicker {
		help = "↑/↓ select · enter monitor · r rescan · q quit"
	} else {
		help = "r reset · b base % · j job % · u update table · p processes · q quit"
	}
	lines := []string{headerStyle.Render(truncateLine(help, m.width))}
	if m.errMsg != "" {
		lines = append(lines, errorStyle.Render(truncateLine(m.errMsg, m.width)))
	} else if m.status != "" {
		lines = append(lines, statusStyle.Render(truncateLine(m.status, m.width)))
	}
	return strings.Join(lines, "\n")
}

func describeError(err error) string {
	switch {
	case errors.Is(err, probe.ErrProcessOpenDenied):
		return "Access denied to the game process. Run rolens as administrator."
	case errors.Is(err, probe.ErrModuleNotFound), errors.Is(err, probe.ErrReadFailed):
		return fmt.Sprintf("Lost the game client (%v). Select it again.", err)
	case errors.Is(err, stats.ErrPercentageRange):
		return "Percentage must be greater than 0 and less than 100."
	case errors.Is(err, stats.ErrNoSnapshot):
		return "No reading yet; wait a moment."
	default:
		return err.Error()
	}
}

func trackTitle(track model.Track) string {
	if track == model.TrackJob {
		return "Job"
	}
	return "Base"
}

func formatNumber(n uint64) string {
	if n > math.MaxInt64 {
		return humanize.Comma(math.MaxInt64)
	}
	return humanize.Comma(int64(n))
}

func displayName(name string) string {
	if name == "" {
		return "(unnamed)"
	}
	return name
}

func modalWidth(width int) int {
	return maxInt(40, minInt(width-4, 72))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func padLine(line string, width int) string {
	lineWidth := lipgloss.Width(line)
	if lineWidth < width {
		return line + strings.Repeat(" ", width-lineWidth)
	}
	return line
}

func fitLines(s string, width, height int) string {
	if width <= 0 || height <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = padLine(line, width)
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	return strings.Join(lines, "\n")
}

func truncateLine(s string, width int) string {
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "...")
}
