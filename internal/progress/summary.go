package progress

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"yt-comment-collector/internal/model"
)

var (
	summaryPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	summaryLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(12)
)

// RenderSummary formats the end-of-run report.
func RenderSummary(s model.Summary) string {
	var b strings.Builder
	title := liveTitleStyle.Render("run " + s.RunID)
	if s.Interrupted {
		title += "  " + liveWarnStyle.Render("interrupted")
	}
	b.WriteString(title + "\n")

	row := func(label string, value string) {
		b.WriteString(summaryLabelStyle.Render(label) + value + "\n")
	}
	row("channel", s.Channel)
	row("videos", fmt.Sprintf("%d", s.Total))
	row("completed", liveOKStyle.Render(fmt.Sprintf("%d", s.Completed)))
	failed := fmt.Sprintf("%d", s.Failed)
	if s.Failed > 0 {
		failed = liveErrorStyle.Render(failed)
	}
	row("failed", failed)
	row("skipped", fmt.Sprintf("%d", s.Skipped))
	if s.Deferred > 0 {
		row("deferred", liveWarnStyle.Render(fmt.Sprintf("%d", s.Deferred)))
	}
	row("elapsed", s.Elapsed.Round(time.Second).String())

	if len(s.FailedIDs) > 0 {
		b.WriteString("\n" + liveMutedStyle.Render("failed videos (retry with --retry-failed):") + "\n")
		for _, id := range s.FailedIDs {
			b.WriteString("  " + id + "\n")
		}
	}
	if len(s.SinkErrors) > 0 {
		b.WriteString("\n" + liveWarnStyle.Render("could not save (left pending):") + "\n")
		for _, f := range s.SinkErrors {
			b.WriteString("  " + f.VideoID + ": " + oneLine(f.Error) + "\n")
		}
	}
	return summaryPanelStyle.Render(strings.TrimRight(b.String(), "\n"))
}
