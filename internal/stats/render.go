package stats

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/verte-zerg/rolens/internal/model"
)

const sparkChars = " .:-=+*#%@"

// FormatDuration renders d as HH:MM:SS. Hours are not wrapped at 24.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

// Sparkline renders recent base XP gains as a single-line ASCII sparkline.
func Sparkline(gains []XPGain) string {
	if len(gains) == 0 {
		return ""
	}
	minVal := gains[0].Base
	maxVal := gains[0].Base
	for _, g := range gains[1:] {
		if g.Base < minVal {
			minVal = g.Base
		}
		if g.Base > maxVal {
			maxVal = g.Base
		}
	}
	if minVal == maxVal {
		return strings.Repeat(string(sparkChars[len(sparkChars)/2]), len(gains))
	}
	span := float64(maxVal - minVal)
	var b strings.Builder
	for _, g := range gains {
		pos := float64(g.Base-minVal) / span
		idx := int(math.Round(pos * float64(len(sparkChars)-1)))
		b.WriteByte(sparkChars[idx])
	}
	return b.String()
}

// FormatProgress renders a progress line such as "45.00% (5,500 to go)".
func FormatProgress(p model.Progress) string {
	if !p.Known {
		return "unknown"
	}
	source := ""
	if p.ManualEstimate {
		source = ", estimate"
	}
	return fmt.Sprintf("%.2f%% (%s to go%s)", p.Percentage, humanize.Comma(int64(p.XPRemaining)), source)
}

// RenderSummary prints the session statistics.
func RenderSummary(w io.Writer, view model.StatsView) error {
	cur := view.Current
	lines := []string{
		"Session",
		fmt.Sprintf("Character: %s", displayName(cur.Name)),
		fmt.Sprintf("Time: %s", FormatDuration(view.SessionTime)),
		fmt.Sprintf("Monsters: %s", humanize.Comma(int64(view.MonstersKilled))),
		fmt.Sprintf("Base XP: %s (%s/h, %s/mob)", humanize.Comma(int64(view.TotalBaseXP)),
			humanize.Comma(int64(view.BaseXPPerHour)), humanize.Comma(int64(view.AvgBaseXPPerMob))),
		fmt.Sprintf("Job XP: %s (%s/h, %s/mob)", humanize.Comma(int64(view.TotalJobXP)),
			humanize.Comma(int64(view.JobXPPerHour)), humanize.Comma(int64(view.AvgJobXPPerMob))),
		fmt.Sprintf("Damage taken: %s (%s/min)", humanize.Comma(int64(view.TotalDamageTaken)),
			humanize.Comma(int64(view.DamagePerMinute))),
		fmt.Sprintf("Base Lv %d: %s", cur.BaseLevel, FormatProgress(view.BaseProgress)),
		fmt.Sprintf("Job Lv %d: %s", cur.JobLevel, FormatProgress(view.JobProgress)),
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// RenderLevelUps prints the level-up journal, oldest first.
func RenderLevelUps(w io.Writer, ups []model.LevelUp) error {
	if len(ups) == 0 {
		_, err := fmt.Fprintln(w, "No level-ups recorded.")
		return err
	}
	headers := []string{"When", "Character", "Track", "Level", "XP required"}
	rows := make([][]string, 0, len(ups))
	for _, up := range ups {
		rows = append(rows, []string{
			up.At.Local().Format("2006-01-02 15:04"),
			displayName(up.Character),
			string(up.Track),
			fmt.Sprintf("%d -> %d", up.Level, int(up.Level)+1),
			humanize.Comma(int64(up.XPRequired)),
		})
	}
	for _, line := range FormatTable(headers, rows, map[int]bool{3: true, 4: true}) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func displayName(name string) string {
	if name == "" {
		return "-"
	}
	return name
}
